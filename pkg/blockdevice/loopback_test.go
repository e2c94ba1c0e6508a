package blockdevice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoopback(t *testing.T) *LoopbackDriver {
	t.Helper()
	driver, err := NewLoopbackDriver(t.TempDir(), "cluster-1")
	require.NoError(t, err)
	return driver
}

func TestLoopbackCreateListDestroy(t *testing.T) {
	ctx := context.Background()
	driver := newTestLoopback(t)

	created, err := driver.CreateVolume(ctx, "ds-1", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, created.Status)
	assert.Equal(t, "ds-1", created.DatasetID)

	volumes, err := driver.ListVolumes(ctx)
	require.NoError(t, err)
	require.Len(t, volumes, 1)
	assert.Equal(t, created.VolumeID, volumes[0].VolumeID)

	require.NoError(t, driver.DestroyVolume(ctx, created.VolumeID))

	volumes, err = driver.ListVolumes(ctx)
	require.NoError(t, err)
	assert.Empty(t, volumes)
}

func TestLoopbackAttachDetachLifecycle(t *testing.T) {
	ctx := context.Background()
	driver := newTestLoopback(t)

	created, err := driver.CreateVolume(ctx, "ds-2", 4096)
	require.NoError(t, err)

	instanceID, err := driver.ComputeInstanceID(ctx)
	require.NoError(t, err)

	attached, err := driver.AttachVolume(ctx, created.VolumeID, instanceID)
	require.NoError(t, err)
	assert.Equal(t, StatusInUse, attached.Status)
	require.NotNil(t, attached.AttachedTo)
	assert.Equal(t, instanceID, *attached.AttachedTo)

	path, err := driver.GetDevicePath(ctx, created.VolumeID)
	require.NoError(t, err)
	assert.NotEmpty(t, path)

	require.NoError(t, driver.DetachVolume(ctx, created.VolumeID))

	_, err = driver.GetDevicePath(ctx, created.VolumeID)
	assert.ErrorAs(t, err, new(*ErrUnattachedVolume))
}

func TestLoopbackAttachVolumeTwiceFails(t *testing.T) {
	ctx := context.Background()
	driver := newTestLoopback(t)

	created, err := driver.CreateVolume(ctx, "ds-3", 4096)
	require.NoError(t, err)

	instanceID, err := driver.ComputeInstanceID(ctx)
	require.NoError(t, err)

	_, err = driver.AttachVolume(ctx, created.VolumeID, instanceID)
	require.NoError(t, err)

	_, err = driver.AttachVolume(ctx, created.VolumeID, instanceID)
	assert.ErrorAs(t, err, new(*ErrAlreadyAttached))
}

func TestLoopbackOperationsOnUnknownVolumeFail(t *testing.T) {
	ctx := context.Background()
	driver := newTestLoopback(t)

	_, err := driver.AttachVolume(ctx, "does-not-exist", "instance-1")
	assert.ErrorAs(t, err, new(*ErrUnknownVolume))

	err = driver.DetachVolume(ctx, "does-not-exist")
	assert.ErrorAs(t, err, new(*ErrUnknownVolume))

	err = driver.DestroyVolume(ctx, "does-not-exist")
	assert.ErrorAs(t, err, new(*ErrUnknownVolume))
}

func TestLoopbackListVolumesIsolatesByCluster(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	clusterA, err := NewLoopbackDriver(dir, "cluster-a")
	require.NoError(t, err)
	clusterB, err := NewLoopbackDriver(dir, "cluster-b")
	require.NoError(t, err)

	_, err = clusterA.CreateVolume(ctx, "ds-a", 4096)
	require.NoError(t, err)
	_, err = clusterB.CreateVolume(ctx, "ds-b", 4096)
	require.NoError(t, err)

	volumesA, err := clusterA.ListVolumes(ctx)
	require.NoError(t, err)
	require.Len(t, volumesA, 1)
	assert.Equal(t, "ds-a", volumesA[0].DatasetID)

	volumesB, err := clusterB.ListVolumes(ctx)
	require.NoError(t, err)
	require.Len(t, volumesB, 1)
	assert.Equal(t, "ds-b", volumesB[0].DatasetID)
}
