package wire

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/flocker-cluster/flocker/pkg/metrics"
)

// backoffSchedule is the reconnect backoff ladder: 0, 1, 2, 4, 8, 16, 30s
// (capped) — the first reconnect attempt is immediate.
var backoffSchedule = []time.Duration{
	0,
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	30 * time.Second,
}

func backoffFor(attempt int) time.Duration {
	if attempt >= len(backoffSchedule) {
		return backoffSchedule[len(backoffSchedule)-1]
	}
	return backoffSchedule[attempt]
}

// Dialer connects to the control service over mutual TLS, reconnecting
// with capped exponential backoff whenever the connection drops. It is
// reusable by any caller that needs the agent's PeerUnavailable recovery
// policy rather than hand-rolling its own retry loop per call site,
// generalized from a typical connectWithMTLS helper into a standalone
// loop.
type Dialer struct {
	addr      string
	tlsConfig *tls.Config
}

// NewDialer builds a Dialer for addr using tlsConfig (built by
// security.CertAuthority.ClientTLSConfig).
func NewDialer(addr string, tlsConfig *tls.Config) *Dialer {
	return &Dialer{addr: addr, tlsConfig: tlsConfig}
}

// Dial attempts a single connection attempt, with no retry.
func (d *Dialer) Dial(ctx context.Context) (*tls.Conn, error) {
	dialer := &tls.Dialer{Config: d.tlsConfig}
	conn, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, fmt.Errorf("wire: dial %s: %w", d.addr, err)
	}
	return conn.(*tls.Conn), nil
}

// DialWithBackoff retries Dial using the capped exponential backoff
// schedule until it succeeds or ctx is canceled. Every retry past the
// first increments metrics.ReconnectsTotal.
func (d *Dialer) DialWithBackoff(ctx context.Context) (*tls.Conn, error) {
	for attempt := 0; ; attempt++ {
		conn, err := d.Dial(ctx)
		if err == nil {
			return conn, nil
		}
		if attempt > 0 {
			metrics.ReconnectsTotal.Inc()
		}

		wait := backoffFor(attempt)
		if wait == 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
