// Package agent is the Convergence Agent: one per node, it holds a
// reconnecting connection to the Control Service, keeps the latest
// (configuration, state) it has been sent as its convergence target, and
// runs a cooperative single-threaded loop that diffs local observation
// against that target and executes at most one corrective action per
// tick. The connection lifecycle follows a heartbeat/executor ticking
// shape; the diff-and-correct loop follows a generic reconcile shape.
package agent

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/flocker-cluster/flocker/pkg/blockdevice"
	"github.com/flocker-cluster/flocker/pkg/codec"
	"github.com/flocker-cluster/flocker/pkg/logging"
	"github.com/flocker-cluster/flocker/pkg/metrics"
	"github.com/flocker-cluster/flocker/pkg/model"
	"github.com/flocker-cluster/flocker/pkg/snapshot"
	"github.com/flocker-cluster/flocker/pkg/wire"
)

// DefaultTickInterval is the convergence loop's periodic tick.
const DefaultTickInterval = 5 * time.Second

// ProtocolMajorVersion mirrors pkg/control's, since both sides of the
// Version handshake must agree.
const ProtocolMajorVersion = 1

// Engine is the subset of pkg/engine.Engine the agent's observation loop
// needs, declared at the consumer so tests can substitute a fake instead
// of a live containerd socket.
type Engine interface {
	ContainerEngine
	Observe(ctx context.Context) ([]model.ObservedContainer, error)
}

// Agent drives one node's convergence loop against a Control Service.
type Agent struct {
	nodeUUID     string
	tickInterval time.Duration

	dialer   *wire.Dialer
	actuator *Actuator
	engine   Engine
	volumes  blockdevice.Driver

	instanceID string

	targetMu   sync.RWMutex
	deployment model.Deployment
	state      model.DeploymentState
}

// New builds an Agent. instanceID should already have been resolved via
// volumes.ComputeInstanceID by the caller (cmd/flocker-agent), since
// that call may itself need retrying against a cold backend.
func New(nodeUUID string, dialer *wire.Dialer, eng Engine, volumes blockdevice.Driver, snapshots snapshot.Store, instanceID string) *Agent {
	return &Agent{
		nodeUUID:     nodeUUID,
		tickInterval: DefaultTickInterval,
		dialer:       dialer,
		actuator:     NewActuator(eng, volumes, snapshots, instanceID),
		engine:       eng,
		volumes:      volumes,
		instanceID:   instanceID,
		deployment:   model.NewDeployment(),
		state:        model.NewDeploymentState(),
	}
}

// SetTickInterval overrides DefaultTickInterval; intended for tests.
func (a *Agent) SetTickInterval(d time.Duration) { a.tickInterval = d }

// Target returns the agent's current convergence target, for tests and
// diagnostics.
func (a *Agent) Target() (model.Deployment, model.DeploymentState) {
	a.targetMu.RLock()
	defer a.targetMu.RUnlock()
	return a.deployment, a.state
}

// Run connects to the control service, reconnecting with backoff on any
// failure, and drives the convergence loop until ctx is canceled. It
// only returns when ctx is done.
func (a *Agent) Run(ctx context.Context) {
	log := logging.WithComponent("agent").WithNodeUUID(a.nodeUUID)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := a.dialer.DialWithBackoff(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("giving up reconnecting")
			return
		}

		if err := a.runSession(ctx, conn); err != nil {
			log.Warn().Err(err).Msg("session ended, reconnecting")
		}
	}
}

// runSession drives one connection's lifetime: version handshake, a
// reader goroutine decoding ClusterStatus frames into the agent's
// target, a writer pumping local NodeState on every observation, and the
// convergence ticker. Returns when the connection breaks.
func (a *Agent) runSession(ctx context.Context, conn *tls.Conn) error {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	if err := a.versionHandshake(conn, reader); err != nil {
		return fmt.Errorf("agent: version handshake: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	clusterStatusCh := make(chan wire.ClusterStatusArgs, 1)
	readErrCh := make(chan error, 1)
	go func() {
		for {
			f, err := wire.ReadFrame(reader)
			if err != nil {
				readErrCh <- err
				return
			}
			if f.Command != wire.CommandClusterStatus {
				continue
			}
			var args wire.ClusterStatusArgs
			if err := json.Unmarshal(f.Payload, &args); err != nil {
				continue
			}
			select {
			case clusterStatusCh <- args:
			case <-sessionCtx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(a.tickInterval)
	defer ticker.Stop()

	busy := false
	actionDone := make(chan struct{}, 1)

	runTick := func() {
		if busy {
			return
		}
		busy = true
		go func() {
			a.converge(sessionCtx, conn)
			actionDone <- struct{}{}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErrCh:
			return err

		case args := <-clusterStatusCh:
			if err := a.applyClusterStatus(args); err != nil {
				logging.WithComponent("agent").Warn().Err(err).Msg("discarding malformed ClusterStatus")
				continue
			}
			runTick()

		case <-ticker.C:
			runTick()

		case <-actionDone:
			busy = false
		}
	}
}

func (a *Agent) applyClusterStatus(args wire.ClusterStatusArgs) error {
	deployment, err := codec.DecodeDeployment(args.ConfigurationJSON)
	if err != nil {
		return err
	}
	state, err := codec.DecodeDeploymentState(args.StateJSON)
	if err != nil {
		return err
	}
	a.targetMu.Lock()
	a.deployment = deployment
	a.state = state
	a.targetMu.Unlock()
	return nil
}

// converge runs one diff-and-correct iteration: observe, diagnose, pick
// the single highest-priority action, execute it, then report fresh
// NodeState over conn.
func (a *Agent) converge(ctx context.Context, conn *tls.Conn) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationCycleDuration)
	defer metrics.ReconciliationCyclesTotal.Inc()

	obs, nonManifest, err := a.observe(ctx)
	if err != nil {
		logging.WithComponent("agent").Warn().Err(err).Msg("observation failed")
		return
	}

	deployment, state := a.Target()
	discrepancies := Diagnose(a.nodeUUID, deployment, state, obs)

	counts := map[Kind]int{}
	for _, d := range discrepancies {
		counts[d.Kind]++
	}
	for kind := KindStopContainer; kind <= KindStartContainer; kind++ {
		metrics.DiscrepanciesTotal.WithLabelValues(kind.String()).Set(float64(counts[kind]))
	}

	if next, ok := Next(discrepancies); ok {
		outcome := "success"
		if err := a.actuator.Act(ctx, next, deployment); err != nil {
			outcome = "failure"
			logging.WithComponent("agent").Warn().
				Str("kind", next.Kind.String()).Err(err).Msg("action failed, will retry next tick")
		}
		metrics.ActionsTotal.WithLabelValues(next.Kind.String(), outcome).Inc()
	}

	a.reportNodeState(conn, obs.NodeState, nonManifest)
}

func (a *Agent) observe(ctx context.Context) (Observation, model.NonManifestDatasets, error) {
	containers, err := a.engine.Observe(ctx)
	if err != nil {
		return Observation{}, model.NonManifestDatasets{}, fmt.Errorf("agent: observe containers: %w", err)
	}

	volumes, err := a.volumes.ListVolumes(ctx)
	if err != nil {
		return Observation{}, model.NonManifestDatasets{}, fmt.Errorf("agent: list volumes: %w", err)
	}

	var manifestations []model.ObservedManifestation
	var nonManifest model.NonManifestDatasets
	for _, v := range volumes {
		if v.AttachedTo != nil && *v.AttachedTo == a.instanceID {
			path, err := a.volumes.GetDevicePath(ctx, v.VolumeID)
			if err != nil {
				path = ""
			}
			manifestations = append(manifestations, model.ObservedManifestation{
				Manifestation: model.Manifestation{
					Dataset: model.Dataset{DatasetID: v.DatasetID},
					Role:    model.RolePrimary,
				},
				Path: path,
			})
		} else if v.AttachedTo == nil {
			nonManifest.Datasets = append(nonManifest.Datasets, model.Dataset{DatasetID: v.DatasetID})
		}
	}

	nodeState := model.NodeState{
		NodeUUID:       a.nodeUUID,
		Containers:     containers,
		Manifestations: manifestations,
	}

	return Observation{NodeState: nodeState, Volumes: volumes, InstanceID: a.instanceID}, nonManifest, nil
}

func (a *Agent) reportNodeState(conn *tls.Conn, state model.NodeState, nonManifest model.NonManifestDatasets) {
	stateBytes, err := json.Marshal(state)
	if err != nil {
		return
	}
	var nonManifestBytes []byte
	if len(nonManifest.Datasets) > 0 {
		nonManifestBytes, err = json.Marshal(nonManifest)
		if err != nil {
			return
		}
	}

	payload, err := json.Marshal(wire.NodeStateArgs{
		NodeStateJSON:           stateBytes,
		NonManifestDatasetsJSON: nonManifestBytes,
	})
	if err != nil {
		return
	}

	if err := wire.WriteFrame(conn, wire.Frame{Command: wire.CommandNodeState, Payload: payload}); err != nil {
		logging.WithComponent("agent").Warn().Err(err).Msg("failed to report NodeState")
	}
}

func (a *Agent) versionHandshake(conn *tls.Conn, reader *bufio.Reader) error {
	reply, err := json.Marshal(wire.VersionReply{Major: ProtocolMajorVersion})
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(conn, wire.Frame{Command: wire.CommandVersion, Payload: reply}); err != nil {
		return err
	}

	f, err := wire.ReadFrame(reader)
	if err != nil {
		return err
	}
	if f.Command != wire.CommandVersion {
		return fmt.Errorf("agent: expected Version as first frame from control, got %q", f.Command)
	}
	var args wire.VersionReply
	if err := json.Unmarshal(f.Payload, &args); err != nil {
		return err
	}
	if args.Major != ProtocolMajorVersion {
		return fmt.Errorf("agent: protocol version mismatch: agent=%d control=%d", ProtocolMajorVersion, args.Major)
	}
	return nil
}
