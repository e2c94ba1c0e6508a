// Package wire is the agent<->control RPC transport: a length-prefixed
// framed protocol carrying the three commands Version, ClusterStatus
// and NodeState over a mutual-TLS connection built by pkg/security.
// There are no protobuf/gRPC stubs here, so this is hand-rolled
// directly against the wire shape: a 4-byte big-endian length prefix,
// a command name, an opaque trace_context string, and a JSON-encoded
// payload.
package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Command names exchanged over the wire.
const (
	CommandVersion       = "Version"
	CommandClusterStatus = "ClusterStatus"
	CommandNodeState     = "NodeState"
)

// maxFrameSize bounds a single frame's payload to guard against a
// corrupt or hostile length prefix causing an unbounded allocation.
const maxFrameSize = 64 * 1024 * 1024

// Frame is one message on the wire: a command name, the trace context
// it carries, and an opaque JSON payload specific to that command.
type Frame struct {
	Command      string          `json:"command"`
	TraceContext string          `json:"trace_context"`
	Payload      json.RawMessage `json:"payload"`
}

// VersionReply is the Version command's response payload; the request
// takes no arguments, and the response carries Major.
type VersionReply struct {
	Major int `json:"major"`
}

// ClusterStatusArgs is the server->agent ClusterStatus payload: a
// combined configuration+state snapshot.
type ClusterStatusArgs struct {
	ConfigurationJSON json.RawMessage `json:"configuration"`
	StateJSON         json.RawMessage `json:"state"`
}

// NodeStateArgs is the agent->server NodeState payload: the node's own
// observed state plus, optionally, a replacement non-manifest dataset
// set — the two change-record kinds a node ever reports.
type NodeStateArgs struct {
	NodeStateJSON           json.RawMessage `json:"node_state"`
	NonManifestDatasetsJSON json.RawMessage `json:"non_manifest_datasets,omitempty"`
}

// WriteFrame serializes f as a length-prefixed message and writes it to
// w. The length prefix covers everything after itself.
func WriteFrame(w io.Writer, f Frame) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("wire: marshal frame: %w", err)
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds max %d", len(body), maxFrameSize)
	}

	var lengthPrefix [4]byte
	binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(body)))

	if _, err := w.Write(lengthPrefix[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed message from r.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	var lengthPrefix [4]byte
	if _, err := io.ReadFull(r, lengthPrefix[:]); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint32(lengthPrefix[:])
	if length > maxFrameSize {
		return Frame{}, fmt.Errorf("wire: incoming frame of %d bytes exceeds max %d", length, maxFrameSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("wire: read frame body: %w", err)
	}

	var f Frame
	if err := json.Unmarshal(body, &f); err != nil {
		return Frame{}, fmt.Errorf("wire: unmarshal frame: %w", err)
	}
	return f, nil
}
