package agent

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flocker-cluster/flocker/pkg/blockdevice"
	"github.com/flocker-cluster/flocker/pkg/model"
	"github.com/flocker-cluster/flocker/pkg/snapshot"
)

// fakeEngine records Start/Stop calls without touching containerd.
type fakeEngine struct {
	mu      sync.Mutex
	started []string
	stopped []string
}

func (f *fakeEngine) Start(_ context.Context, app model.Application) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, app.Name)
	return nil
}

func (f *fakeEngine) Stop(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, name)
	return nil
}

// Observe reports every started container still running unless it was
// later stopped, satisfying the agent.Engine interface for tests that
// drive the full convergence loop.
func (f *fakeEngine) Observe(_ context.Context) ([]model.ObservedContainer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stopped := make(map[string]bool, len(f.stopped))
	for _, name := range f.stopped {
		stopped[name] = true
	}
	var observed []model.ObservedContainer
	for _, name := range f.started {
		if stopped[name] {
			continue
		}
		observed = append(observed, model.ObservedContainer{Name: name, State: model.ContainerRunning})
	}
	return observed, nil
}

// fakeSnapshotStore records Create calls in memory.
type fakeSnapshotStore struct {
	mu      sync.Mutex
	created []snapshot.Name
}

func (f *fakeSnapshotStore) Create(_ context.Context, name snapshot.Name) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, name)
	return nil
}

func (f *fakeSnapshotStore) List(_ context.Context) ([]snapshot.Name, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]snapshot.Name(nil), f.created...), nil
}

func newTestActuator(t *testing.T) (*Actuator, *fakeEngine, *blockdevice.LoopbackDriver, *fakeSnapshotStore) {
	t.Helper()
	driver, err := blockdevice.NewLoopbackDriver(t.TempDir(), "test-cluster")
	require.NoError(t, err)
	eng := &fakeEngine{}
	snaps := &fakeSnapshotStore{}
	instanceID, err := driver.ComputeInstanceID(context.Background())
	require.NoError(t, err)
	return NewActuator(eng, driver, snaps, instanceID), eng, driver, snaps
}

func TestActuatorStartContainer(t *testing.T) {
	actuator, eng, _, _ := newTestActuator(t)
	app := model.Application{Name: "web", Image: "nginx:1.27"}

	err := actuator.Act(context.Background(), Discrepancy{Kind: KindStartContainer, Application: app}, model.NewDeployment())
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, eng.started)
}

func TestActuatorStopContainer(t *testing.T) {
	actuator, eng, _, _ := newTestActuator(t)

	err := actuator.Act(context.Background(), Discrepancy{Kind: KindStopContainer, ContainerName: "web"}, model.NewDeployment())
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, eng.stopped)
}

func TestActuatorCreateDatasetUsesDesiredMaximumSize(t *testing.T) {
	actuator, _, driver, _ := newTestActuator(t)

	size := int64(1 << 20)
	deployment := model.NewDeployment()
	deployment.Nodes["node-1"] = model.NodeConfig{
		NodeUUID: "node-1",
		Manifestations: []model.Manifestation{
			{Dataset: model.Dataset{DatasetID: "ds-1", MaximumSize: &size}, Role: model.RolePrimary},
		},
	}

	err := actuator.Act(context.Background(), Discrepancy{Kind: KindCreateDataset, DatasetID: "ds-1"}, deployment)
	require.NoError(t, err)

	volumes, err := driver.ListVolumes(context.Background())
	require.NoError(t, err)
	require.Len(t, volumes, 1)
	assert.Equal(t, "ds-1", volumes[0].DatasetID)
	assert.Equal(t, size, volumes[0].Size)
}

func TestActuatorAttachVolume(t *testing.T) {
	actuator, _, driver, _ := newTestActuator(t)
	ctx := context.Background()

	vol, err := driver.CreateVolume(ctx, "ds-1", 1<<20)
	require.NoError(t, err)

	err = actuator.Act(ctx, Discrepancy{Kind: KindAttachVolume, DatasetID: "ds-1", VolumeID: vol.VolumeID}, model.NewDeployment())
	require.NoError(t, err)

	volumes, err := driver.ListVolumes(ctx)
	require.NoError(t, err)
	require.Len(t, volumes, 1)
	require.NotNil(t, volumes[0].AttachedTo)
}

func TestActuatorHandoffPrimarySnapshotsThenDetaches(t *testing.T) {
	actuator, _, driver, snaps := newTestActuator(t)
	ctx := context.Background()

	vol, err := driver.CreateVolume(ctx, "ds-1", 1<<20)
	require.NoError(t, err)
	instanceID, err := driver.ComputeInstanceID(ctx)
	require.NoError(t, err)
	_, err = driver.AttachVolume(ctx, vol.VolumeID, instanceID)
	require.NoError(t, err)

	err = actuator.Act(ctx, Discrepancy{Kind: KindHandoffPrimary, DatasetID: "ds-1"}, model.NewDeployment())
	require.NoError(t, err)

	assert.Len(t, snaps.created, 1)
	assert.Equal(t, "ds-1", snaps.created[0].DatasetID)

	volumes, err := driver.ListVolumes(ctx)
	require.NoError(t, err)
	require.Len(t, volumes, 1)
	assert.Nil(t, volumes[0].AttachedTo)
}

func TestActuatorReceivePrimaryAttachesThenSnapshots(t *testing.T) {
	actuator, _, driver, snaps := newTestActuator(t)
	ctx := context.Background()

	_, err := driver.CreateVolume(ctx, "ds-1", 1<<20)
	require.NoError(t, err)

	err = actuator.Act(ctx, Discrepancy{Kind: KindReceivePrimary, DatasetID: "ds-1"}, model.NewDeployment())
	require.NoError(t, err)

	assert.Len(t, snaps.created, 1)

	volumes, err := driver.ListVolumes(ctx)
	require.NoError(t, err)
	require.NotNil(t, volumes[0].AttachedTo)
}

func TestActuatorDestroyDatasetDetachesFirst(t *testing.T) {
	actuator, _, driver, _ := newTestActuator(t)
	ctx := context.Background()

	vol, err := driver.CreateVolume(ctx, "ds-1", 1<<20)
	require.NoError(t, err)
	instanceID, err := driver.ComputeInstanceID(ctx)
	require.NoError(t, err)
	_, err = driver.AttachVolume(ctx, vol.VolumeID, instanceID)
	require.NoError(t, err)

	err = actuator.Act(ctx, Discrepancy{Kind: KindDestroyDataset, DatasetID: "ds-1", VolumeID: vol.VolumeID}, model.NewDeployment())
	require.NoError(t, err)

	volumes, err := driver.ListVolumes(ctx)
	require.NoError(t, err)
	assert.Len(t, volumes, 0)
}
