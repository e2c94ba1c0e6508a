package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/flocker-cluster/flocker/pkg/model"
)

// TestEngineBasicWorkflow exercises pull → start → observe → stop against
// a real containerd socket. Skipped when none is reachable, the same way
// a containerd-backed runtime layer's own integration test would be.
func TestEngineBasicWorkflow(t *testing.T) {
	eng, err := New("/run/containerd/containerd.sock")
	if err != nil {
		t.Skipf("containerd not available: %v", err)
	}
	defer eng.Close()

	ctx := context.Background()
	app := model.Application{
		Name:  "flocker-engine-test-" + uuid.New().String(),
		Image: "docker.io/library/nginx:alpine",
		Environment: []model.EnvironmentVar{
			{Key: "TEST", Value: "engine"},
		},
		Limits: model.ResourceLimits{MemoryBytes: 64 * 1024 * 1024},
	}

	require.NoError(t, eng.Start(ctx, app))
	defer eng.Stop(ctx, app.Name)

	// Starting twice is idempotent.
	require.NoError(t, eng.Start(ctx, app))

	observed, err := eng.Observe(ctx)
	require.NoError(t, err)

	found := false
	for _, c := range observed {
		if c.Name == app.Name {
			found = true
			require.Equal(t, model.ContainerRunning, c.State)
		}
	}
	require.True(t, found, "expected %s in Observe() output", app.Name)

	require.NoError(t, eng.Stop(ctx, app.Name))

	// Stopping an absent container is a no-op.
	require.NoError(t, eng.Stop(ctx, app.Name))
}
