package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flocker-cluster/flocker/pkg/blockdevice"
	"github.com/flocker-cluster/flocker/pkg/model"
	"github.com/flocker-cluster/flocker/pkg/snapshot"
)

// DefaultDatasetSize is the volume size requested by a Create dataset
// action when the desired Dataset carries no MaximumSize.
const DefaultDatasetSize = 10 * 1 << 30 // 10 GiB

// ContainerEngine is the subset of pkg/engine.Engine the actuator needs.
// Declared here, at the consumer, so tests can substitute a fake instead
// of requiring a live containerd socket.
type ContainerEngine interface {
	Start(ctx context.Context, app model.Application) error
	Stop(ctx context.Context, name string) error
}

// Actuator executes exactly one Discrepancy against the node's local
// collaborators: the container engine, the block-volume driver and the
// filesystem-snapshot store. Each method returns once the corresponding
// backend confirms the new steady state (the same "only return once
// confirmed" discipline pkg/blockdevice's waitFor enforces).
type Actuator struct {
	engine    ContainerEngine
	volumes   blockdevice.Driver
	snapshots snapshot.Store
	instanceID string
}

// NewActuator builds an Actuator over this node's collaborators.
// instanceID is this host's identity as volumes.ComputeInstanceID reports
// it, cached once at agent startup.
func NewActuator(eng ContainerEngine, volumes blockdevice.Driver, snapshots snapshot.Store, instanceID string) *Actuator {
	return &Actuator{engine: eng, volumes: volumes, snapshots: snapshots, instanceID: instanceID}
}

// Act performs d, returning an error the caller should log against the
// trace context of the ClusterStatus that produced it. Failures do not
// advance state; the next tick retries.
func (a *Actuator) Act(ctx context.Context, d Discrepancy, deployment model.Deployment) error {
	switch d.Kind {
	case KindStopContainer:
		return a.engine.Stop(ctx, d.ContainerName)

	case KindDetachVolume:
		return a.volumes.DetachVolume(ctx, d.VolumeID)

	case KindDestroyDataset:
		if d.VolumeID != "" {
			if err := a.volumes.DetachVolume(ctx, d.VolumeID); err != nil {
				var unattached *blockdevice.ErrUnattachedVolume
				if !errors.As(err, &unattached) {
					return fmt.Errorf("agent: detach before destroy %s: %w", d.DatasetID, err)
				}
			}
			return a.volumes.DestroyVolume(ctx, d.VolumeID)
		}
		return nil

	case KindHandoffPrimary:
		return a.handoffPrimary(ctx, d)

	case KindReceivePrimary:
		return a.receivePrimary(ctx, d)

	case KindCreateDataset:
		return a.createDataset(ctx, d, deployment)

	case KindAttachVolume:
		_, err := a.volumes.AttachVolume(ctx, d.VolumeID, a.instanceID)
		return err

	case KindStartContainer:
		return a.engine.Start(ctx, d.Application)

	default:
		return fmt.Errorf("agent: unknown discrepancy kind %d", d.Kind)
	}
}

// handoffPrimary snapshots the dataset one last time for a clean
// handoff point, then detaches the underlying volume — the block
// storage backend, not a streamed filesystem copy, carries the bytes to
// whichever host attaches next (see DESIGN.md on why this supersedes the
// original's SSH/zfs-send transfer).
func (a *Actuator) handoffPrimary(ctx context.Context, d Discrepancy) error {
	if err := a.snapshots.Create(ctx, snapshot.NewName(d.DatasetID, time.Now())); err != nil {
		return fmt.Errorf("agent: snapshot before handoff of %s: %w", d.DatasetID, err)
	}
	vol, ok := findByDataset(ctx, a.volumes, d.DatasetID)
	if !ok {
		return nil
	}
	return a.volumes.DetachVolume(ctx, vol.VolumeID)
}

// receivePrimary attaches the volume to this host, then records a fresh
// snapshot marking the start of this node's primary epoch.
func (a *Actuator) receivePrimary(ctx context.Context, d Discrepancy) error {
	vol, ok := findByDataset(ctx, a.volumes, d.DatasetID)
	if !ok {
		return fmt.Errorf("agent: receive primary for %s: volume not found on shared backend", d.DatasetID)
	}
	if _, err := a.volumes.AttachVolume(ctx, vol.VolumeID, a.instanceID); err != nil {
		return err
	}
	return a.snapshots.Create(ctx, snapshot.NewName(d.DatasetID, time.Now()))
}

func (a *Actuator) createDataset(ctx context.Context, d Discrepancy, deployment model.Deployment) error {
	size := int64(DefaultDatasetSize)
	for _, node := range deployment.Nodes {
		if m, ok := node.PrimaryManifestation(d.DatasetID); ok && m.Dataset.MaximumSize != nil {
			size = *m.Dataset.MaximumSize
			break
		}
	}
	_, err := a.volumes.CreateVolume(ctx, d.DatasetID, size)
	return err
}

func findByDataset(ctx context.Context, driver blockdevice.Driver, datasetID string) (blockdevice.BlockDeviceVolume, bool) {
	volumes, err := driver.ListVolumes(ctx)
	if err != nil {
		return blockdevice.BlockDeviceVolume{}, false
	}
	for _, v := range volumes {
		if v.DatasetID == datasetID {
			return v, true
		}
	}
	return blockdevice.BlockDeviceVolume{}, false
}
