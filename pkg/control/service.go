package control

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/flocker-cluster/flocker/pkg/clusterstate"
	"github.com/flocker-cluster/flocker/pkg/codec"
	"github.com/flocker-cluster/flocker/pkg/configstore"
	"github.com/flocker-cluster/flocker/pkg/logging"
	"github.com/flocker-cluster/flocker/pkg/metrics"
	"github.com/flocker-cluster/flocker/pkg/model"
	"github.com/flocker-cluster/flocker/pkg/wire"
)

type nodeStateEvent struct {
	session      *Session
	args         wire.NodeStateArgs
	traceContext string
}

// Service is the Control Service's single-threaded cooperative event
// loop. All session registry mutation and store access happens inside
// Run; the only cross-goroutine traffic is the channels below, fed by
// per-connection reader goroutines and the configuration store's change
// broker. All RPC dispatch, store updates, and broadcasts are serialized
// on this one event loop.
type Service struct {
	configStore  *configstore.Store
	clusterState *clusterstate.Store

	sessionsMu sync.RWMutex // guards sessions for SessionCount, read by the metrics collector off-loop
	sessions   map[string]*Session

	configUpdates <-chan model.Deployment
	unsubscribe   func()

	nodeStateCh     chan nodeStateEvent
	newSessionCh    chan *Session
	sessionClosedCh chan *Session
}

// NewService builds a Service over the given stores. Stores are
// explicitly injected rather than constructed internally, so there is no
// package-level mutable state to reach for.
func NewService(configStore *configstore.Store, clusterState *clusterstate.Store) *Service {
	updates, unsubscribe := configStore.Register(1)
	return &Service{
		configStore:     configStore,
		clusterState:    clusterState,
		sessions:        make(map[string]*Session),
		configUpdates:   updates,
		unsubscribe:     unsubscribe,
		nodeStateCh:     make(chan nodeStateEvent, 16),
		newSessionCh:    make(chan *Session, 4),
		sessionClosedCh: make(chan *Session, 4),
	}
}

// SessionCount reports how many agents are currently connected,
// satisfying metrics.SessionSource.
func (svc *Service) SessionCount() int {
	svc.sessionsMu.RLock()
	defer svc.sessionsMu.RUnlock()
	return len(svc.sessions)
}

// Serve accepts connections from listener (a *tls.Listener built with
// security.CertAuthority.ServerTLSConfig, which already enforces mutual
// TLS) until ctx is canceled. Each accepted connection is handshaken and
// handed to the event loop as a new session.
func (svc *Service) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("control: accept: %w", err)
			}
		}

		tlsConn, ok := conn.(*tls.Conn)
		if !ok {
			conn.Close()
			continue
		}

		go svc.handleConn(ctx, tlsConn)
	}
}

func (svc *Service) handleConn(ctx context.Context, conn *tls.Conn) {
	log := logging.WithComponent("control")

	if err := conn.HandshakeContext(ctx); err != nil {
		log.Warn().Err(err).Msg("TLS handshake failed")
		conn.Close()
		return
	}

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		log.Warn().Msg("peer presented no client certificate")
		conn.Close()
		return
	}
	nodeUUID := state.PeerCertificates[0].Subject.CommonName

	reader := bufio.NewReader(conn)
	if err := handshake(conn, reader); err != nil {
		log.Warn().Str("node_uuid", nodeUUID).Err(err).Msg("version handshake failed")
		conn.Close()
		return
	}

	session := newSession(nodeUUID, conn, reader)
	go session.writeLoop()

	select {
	case svc.newSessionCh <- session:
	case <-ctx.Done():
		session.Close()
		return
	}

	for {
		args, traceContext, err := session.readNodeState()
		if err != nil {
			select {
			case svc.sessionClosedCh <- session:
			case <-ctx.Done():
			}
			session.Close()
			return
		}
		select {
		case svc.nodeStateCh <- nodeStateEvent{session: session, args: args, traceContext: traceContext}:
		case <-ctx.Done():
			session.Close()
			return
		}
	}
}

// Run is the cooperative event loop. It returns when ctx is canceled,
// after tearing down every session.
func (svc *Service) Run(ctx context.Context) {
	defer svc.unsubscribe()
	log := logging.WithComponent("control")

	ticker := time.NewTicker(clusterstate.DefaultTTL / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			svc.sessionsMu.Lock()
			for _, s := range svc.sessions {
				s.Close()
			}
			svc.sessions = map[string]*Session{}
			svc.sessionsMu.Unlock()
			return

		case deployment := <-svc.configUpdates:
			_ = deployment
			svc.broadcastAll(TriggerConfigChange, "")

		case ev := <-svc.nodeStateCh:
			svc.applyNodeState(ev)
			metrics.NodeStateUpdatesTotal.Inc()
			svc.broadcastAll(TriggerNodeState, ev.traceContext)

		case session := <-svc.newSessionCh:
			svc.sessionsMu.Lock()
			if old, exists := svc.sessions[session.NodeUUID()]; exists {
				old.Close()
			}
			svc.sessions[session.NodeUUID()] = session
			svc.sessionsMu.Unlock()
			log.Info().Str("node_uuid", session.NodeUUID()).Msg("agent connected")
			svc.broadcastOne(session, TriggerNewSession, "")

		case session := <-svc.sessionClosedCh:
			svc.sessionsMu.Lock()
			if current, ok := svc.sessions[session.NodeUUID()]; ok && current == session {
				delete(svc.sessions, session.NodeUUID())
			}
			svc.sessionsMu.Unlock()
			log.Info().Str("node_uuid", session.NodeUUID()).Msg("agent disconnected")

		case now := <-ticker.C:
			for _, nodeUUID := range svc.clusterState.Expire(now) {
				log.Debug().Str("node_uuid", nodeUUID).Msg("node state expired")
			}
		}
	}
}

func (svc *Service) applyNodeState(ev nodeStateEvent) {
	if len(ev.args.NodeStateJSON) > 0 {
		var state model.NodeState
		if err := json.Unmarshal(ev.args.NodeStateJSON, &state); err != nil {
			logging.WithComponent("control").Warn().Err(err).Msg("discarding unparseable NodeState")
			return
		}
		svc.clusterState.ApplyNodeState(state)
	}
	if len(ev.args.NonManifestDatasetsJSON) > 0 {
		var nonManifest model.NonManifestDatasets
		if err := json.Unmarshal(ev.args.NonManifestDatasetsJSON, &nonManifest); err != nil {
			logging.WithComponent("control").Warn().Err(err).Msg("discarding unparseable NonManifestDatasets")
			return
		}
		svc.clusterState.ApplyNonManifestDatasets(nonManifest)
	}
}

// broadcastAll snapshots (configuration, state) and sends ClusterStatus
// to every connected session: the configuration-change and node-state
// triggers fan out to everyone.
func (svc *Service) broadcastAll(trigger, traceContext string) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BroadcastLatency)

	frame, err := svc.clusterStatusFrame(traceContext)
	if err != nil {
		logging.WithComponent("control").Error().Err(err).Msg("failed to build ClusterStatus frame")
		return
	}

	svc.sessionsMu.RLock()
	defer svc.sessionsMu.RUnlock()
	for _, session := range svc.sessions {
		session.Send(frame)
	}
	metrics.BroadcastsTotal.WithLabelValues(trigger).Inc()
}

// broadcastOne sends ClusterStatus to a single new session: the
// new-connection trigger only goes to the session that just connected.
func (svc *Service) broadcastOne(session *Session, trigger, traceContext string) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BroadcastLatency)

	frame, err := svc.clusterStatusFrame(traceContext)
	if err != nil {
		logging.WithComponent("control").Error().Err(err).Msg("failed to build ClusterStatus frame")
		return
	}
	session.Send(frame)
	metrics.BroadcastsTotal.WithLabelValues(trigger).Inc()
}

func (svc *Service) clusterStatusFrame(traceContext string) (wire.Frame, error) {
	deployment, err := svc.configStore.Get()
	if err != nil {
		return wire.Frame{}, fmt.Errorf("control: read configuration: %w", err)
	}
	state := svc.clusterState.AsDeploymentState()

	configBytes, err := codec.EncodeDeployment(deployment)
	if err != nil {
		return wire.Frame{}, err
	}
	stateBytes, err := codec.EncodeDeploymentState(state)
	if err != nil {
		return wire.Frame{}, err
	}

	payload, err := json.Marshal(wire.ClusterStatusArgs{
		ConfigurationJSON: configBytes,
		StateJSON:         stateBytes,
	})
	if err != nil {
		return wire.Frame{}, err
	}

	return wire.Frame{
		Command:      wire.CommandClusterStatus,
		TraceContext: traceContext,
		Payload:      payload,
	}, nil
}
