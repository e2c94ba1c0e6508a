package blockdevice

import (
	"context"
	"time"
)

// PollInterval is the ceiling on how often waitFor re-checks the
// backend's enumeration: at most every 100ms.
const PollInterval = 100 * time.Millisecond

// DefaultDeadline is the default ceiling a waitFor call will wait before
// giving up and returning *ErrTimeout: 60s, matching typical volume-API
// poll budgets.
const DefaultDeadline = 60 * time.Second

// waitFor polls observe at up to PollInterval cadence until it reports a
// status equal to want, or deadline elapses. It is the one place the
// asynchronous, eventually-consistent waiting discipline required by
// every mutating Driver operation lives — backends call this instead of
// each re-implementing their own poll loop (the idiomatic Go
// generalization of the source's per-backend wait_for_volume).
//
// observe returning a non-nil error aborts the wait immediately; the
// caller is expected to classify it (transient vs fatal) before
// returning to its own caller.
func waitFor(ctx context.Context, operation string, deadline time.Duration, want Status, observe func(ctx context.Context) (Status, error)) (Status, error) {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	var last Status
	for {
		status, err := observe(ctx)
		if err != nil {
			return "", err
		}
		last = status
		if status == want {
			return status, nil
		}

		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			return "", &ErrTimeout{Operation: operation, Expected: string(want), Observed: string(last)}
		}
	}
}
