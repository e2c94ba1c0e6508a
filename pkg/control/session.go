package control

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/flocker-cluster/flocker/pkg/logging"
	"github.com/flocker-cluster/flocker/pkg/wire"
)

// Session is the durable-until-disconnect per-agent object held by the
// control service for each connected node. Its identity is the
// node_uuid carried in the peer's mutual-TLS client certificate — there
// is no separate registration handshake.
type Session struct {
	nodeUUID string
	conn     *tls.Conn
	reader   *bufio.Reader

	sendCh chan wire.Frame
	done   chan struct{}
	once   sync.Once
}

// newSession wraps an already-accepted, already-handshaken TLS
// connection. nodeUUID must already be known (extracted from the peer
// certificate by the caller); reader must already have consumed the
// Version handshake frames.
func newSession(nodeUUID string, conn *tls.Conn, reader *bufio.Reader) *Session {
	return &Session{
		nodeUUID: nodeUUID,
		conn:     conn,
		reader:   reader,
		sendCh:   make(chan wire.Frame, 8),
		done:     make(chan struct{}),
	}
}

// NodeUUID returns the session's owning agent's node UUID.
func (s *Session) NodeUUID() string { return s.nodeUUID }

// Send queues a frame for delivery without blocking the caller. If the
// session's outbound buffer is full or the session is closed, the frame
// is dropped — a failed send is logged and dropped; the TCP session's
// own liveness check is the only signal of disconnection.
func (s *Session) Send(f wire.Frame) {
	select {
	case s.sendCh <- f:
	case <-s.done:
	default:
		logging.WithComponent("control").Warn().
			Str("node_uuid", s.nodeUUID).Str("command", f.Command).
			Msg("dropping broadcast: session send buffer full")
	}
}

// writeLoop is the session's only writer, run in its own goroutine so a
// slow or wedged agent connection never stalls the control service's
// event loop while sending bytes to that agent.
func (s *Session) writeLoop() {
	for {
		select {
		case f := <-s.sendCh:
			if err := wire.WriteFrame(s.conn, f); err != nil {
				logging.WithComponent("control").Warn().
					Str("node_uuid", s.nodeUUID).Err(err).Msg("write to agent failed")
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// readNodeState blocks for the next NodeState frame from this session's
// agent, decoding its payload. Returns an error (including io.EOF) when
// the connection is closed or a frame fails to decode.
func (s *Session) readNodeState() (wire.NodeStateArgs, string, error) {
	for {
		f, err := wire.ReadFrame(s.reader)
		if err != nil {
			return wire.NodeStateArgs{}, "", err
		}
		if f.Command != wire.CommandNodeState {
			logging.WithComponent("control").Warn().
				Str("node_uuid", s.nodeUUID).Str("command", f.Command).
				Msg("ignoring unexpected command on established session")
			continue
		}
		var args wire.NodeStateArgs
		if err := json.Unmarshal(f.Payload, &args); err != nil {
			return wire.NodeStateArgs{}, "", fmt.Errorf("control: decode NodeState payload: %w", err)
		}
		return args, f.TraceContext, nil
	}
}

// handshake performs the Version exchange that precedes steady-state
// traffic: the agent sends its major version, the control service
// replies with its own, and the connection is refused on mismatch.
func handshake(conn *tls.Conn, reader *bufio.Reader) error {
	f, err := wire.ReadFrame(reader)
	if err != nil {
		return fmt.Errorf("control: read Version frame: %w", err)
	}
	if f.Command != wire.CommandVersion {
		return fmt.Errorf("control: expected Version as first frame, got %q", f.Command)
	}
	var args wire.VersionReply
	if err := json.Unmarshal(f.Payload, &args); err != nil {
		return fmt.Errorf("control: decode Version payload: %w", err)
	}
	if args.Major != ProtocolMajorVersion {
		return fmt.Errorf("control: protocol version mismatch: agent=%d control=%d", args.Major, ProtocolMajorVersion)
	}

	reply, err := json.Marshal(wire.VersionReply{Major: ProtocolMajorVersion})
	if err != nil {
		return fmt.Errorf("control: marshal Version reply: %w", err)
	}
	return wire.WriteFrame(conn, wire.Frame{Command: wire.CommandVersion, Payload: reply})
}
