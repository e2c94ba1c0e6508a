package codec

import (
	"encoding/json"
	"fmt"

	"github.com/flocker-cluster/flocker/pkg/model"
)

// envelope wraps a payload with the schema version it was encoded at, so
// a decoder can refuse documents from an incompatible future version
// without having to guess from shape alone.
type envelope struct {
	Version int             `json:"version"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

const (
	kindDeployment      = "deployment"
	kindDeploymentState = "deployment_state"
)

// EncodeDeployment produces the canonical wire form of a Deployment.
func EncodeDeployment(d model.Deployment) ([]byte, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal deployment: %w", err)
	}
	return json.Marshal(envelope{Version: model.SchemaVersion, Kind: kindDeployment, Payload: payload})
}

// DecodeDeployment parses a wire-form Deployment previously produced by
// EncodeDeployment. It refuses payloads encoded at a schema version newer
// than the one this codec understands.
func DecodeDeployment(data []byte) (model.Deployment, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.Deployment{}, fmt.Errorf("codec: unmarshal envelope: %w", err)
	}
	if env.Kind != kindDeployment {
		return model.Deployment{}, fmt.Errorf("codec: expected kind %q, got %q", kindDeployment, env.Kind)
	}
	if env.Version > model.SchemaVersion {
		return model.Deployment{}, fmt.Errorf("codec: document schema version %d is newer than supported version %d", env.Version, model.SchemaVersion)
	}
	var d model.Deployment
	if err := json.Unmarshal(env.Payload, &d); err != nil {
		return model.Deployment{}, fmt.Errorf("codec: unmarshal deployment: %w", err)
	}
	return d, nil
}

// EncodeDeploymentState produces the canonical wire form of a
// DeploymentState.
func EncodeDeploymentState(s model.DeploymentState) ([]byte, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal deployment state: %w", err)
	}
	return json.Marshal(envelope{Version: model.SchemaVersion, Kind: kindDeploymentState, Payload: payload})
}

// DecodeDeploymentState parses a wire-form DeploymentState previously
// produced by EncodeDeploymentState.
func DecodeDeploymentState(data []byte) (model.DeploymentState, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.DeploymentState{}, fmt.Errorf("codec: unmarshal envelope: %w", err)
	}
	if env.Kind != kindDeploymentState {
		return model.DeploymentState{}, fmt.Errorf("codec: expected kind %q, got %q", kindDeploymentState, env.Kind)
	}
	var s model.DeploymentState
	if err := json.Unmarshal(env.Payload, &s); err != nil {
		return model.DeploymentState{}, fmt.Errorf("codec: unmarshal deployment state: %w", err)
	}
	return s, nil
}
