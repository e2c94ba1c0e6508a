package blockdevice

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LoopbackDriver is a single-node, file-backed Driver implementation, a
// directory-per-volume layout: every volume is a sparse file plus a JSON
// sidecar carrying the cluster/dataset tagging and attachment state that
// list_volumes needs to stay stateless and restart-safe. It is meant for
// single-node development and acceptance-test style scenarios, not
// multi-host production clusters — those use a cloud Driver such as
// OpenStackDriver instead.
type LoopbackDriver struct {
	clusterID  string
	basePath   string
	instanceID string

	mu sync.Mutex
}

// volumeMeta is the on-disk sidecar persisted next to each loopback
// file, the loopback driver's stand-in for a cloud backend's own
// metadata store.
type volumeMeta struct {
	VolumeID   string  `json:"volume_id"`
	ClusterID  string  `json:"cluster_id"`
	DatasetID  string  `json:"dataset_id"`
	Size       int64   `json:"size"`
	AttachedTo *string `json:"attached_to,omitempty"`
	Status     Status  `json:"status"`
}

// NewLoopbackDriver creates a loopback driver rooted at basePath,
// tagging every volume it creates with clusterID.
func NewLoopbackDriver(basePath, clusterID string) (*LoopbackDriver, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("blockdevice: create loopback base dir: %w", err)
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "loopback-host"
	}
	return &LoopbackDriver{clusterID: clusterID, basePath: basePath, instanceID: hostname}, nil
}

func (d *LoopbackDriver) ComputeInstanceID(ctx context.Context) (string, error) {
	return d.instanceID, nil
}

func (d *LoopbackDriver) metaPath(volumeID string) string {
	return filepath.Join(d.basePath, volumeID+".meta.json")
}

func (d *LoopbackDriver) dataPath(volumeID string) string {
	return filepath.Join(d.basePath, volumeID+".img")
}

func (d *LoopbackDriver) readMeta(volumeID string) (*volumeMeta, error) {
	data, err := os.ReadFile(d.metaPath(volumeID))
	if os.IsNotExist(err) {
		return nil, &ErrUnknownVolume{VolumeID: volumeID}
	}
	if err != nil {
		return nil, asBackendTransient("read metadata", err)
	}
	var meta volumeMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, asBackendFatal("decode metadata", err)
	}
	return &meta, nil
}

func (d *LoopbackDriver) writeMeta(meta *volumeMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return asBackendFatal("encode metadata", err)
	}
	tmp := d.metaPath(meta.VolumeID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return asBackendTransient("write metadata", err)
	}
	return os.Rename(tmp, d.metaPath(meta.VolumeID))
}

func (d *LoopbackDriver) toVolume(meta *volumeMeta) BlockDeviceVolume {
	return BlockDeviceVolume{
		VolumeID:   meta.VolumeID,
		Size:       meta.Size,
		DatasetID:  meta.DatasetID,
		AttachedTo: meta.AttachedTo,
		Status:     meta.Status,
	}
}

func (d *LoopbackDriver) CreateVolume(ctx context.Context, datasetID string, sizeBytes int64) (BlockDeviceVolume, error) {
	d.mu.Lock()
	volumeID := uuid.NewString()
	meta := &volumeMeta{
		VolumeID:  volumeID,
		ClusterID: d.clusterID,
		DatasetID: datasetID,
		Size:      sizeBytes,
		Status:    StatusCreating,
	}
	if err := d.writeMeta(meta); err != nil {
		d.mu.Unlock()
		return BlockDeviceVolume{}, err
	}
	f, err := os.Create(d.dataPath(volumeID))
	if err != nil {
		d.mu.Unlock()
		return BlockDeviceVolume{}, asBackendTransient("allocate volume file", err)
	}
	if err := f.Truncate(sizeBytes); err != nil {
		f.Close()
		d.mu.Unlock()
		return BlockDeviceVolume{}, asBackendTransient("truncate volume file", err)
	}
	f.Close()

	meta.Status = StatusAvailable
	err = d.writeMeta(meta)
	d.mu.Unlock()
	if err != nil {
		return BlockDeviceVolume{}, err
	}

	status, err := waitFor(ctx, "create volume", DefaultDeadline, StatusAvailable, func(ctx context.Context) (Status, error) {
		m, err := d.readMeta(volumeID)
		if err != nil {
			return "", err
		}
		return m.Status, nil
	})
	if err != nil {
		return BlockDeviceVolume{}, err
	}
	meta.Status = status
	return d.toVolume(meta), nil
}

func (d *LoopbackDriver) ListVolumes(ctx context.Context) ([]BlockDeviceVolume, error) {
	entries, err := os.ReadDir(d.basePath)
	if err != nil {
		return nil, asBackendTransient("list volumes", err)
	}

	var volumes []BlockDeviceVolume
	for _, entry := range entries {
		name := entry.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		volumeID := name[:len(name)-len(".meta.json")]
		meta, err := d.readMeta(volumeID)
		if err != nil {
			continue // transient read races during concurrent creation/deletion
		}
		if meta.ClusterID != d.clusterID {
			continue // tenant isolation: only this cluster's volumes
		}
		volumes = append(volumes, d.toVolume(meta))
	}
	return volumes, nil
}

func (d *LoopbackDriver) AttachVolume(ctx context.Context, volumeID, instanceID string) (BlockDeviceVolume, error) {
	d.mu.Lock()
	meta, err := d.readMeta(volumeID)
	if err != nil {
		d.mu.Unlock()
		return BlockDeviceVolume{}, err
	}
	if meta.AttachedTo != nil {
		d.mu.Unlock()
		return BlockDeviceVolume{}, &ErrAlreadyAttached{VolumeID: volumeID, AttachedTo: *meta.AttachedTo}
	}
	meta.AttachedTo = &instanceID
	meta.Status = StatusAttaching
	if err := d.writeMeta(meta); err != nil {
		d.mu.Unlock()
		return BlockDeviceVolume{}, err
	}
	meta.Status = StatusInUse
	err = d.writeMeta(meta)
	d.mu.Unlock()
	if err != nil {
		return BlockDeviceVolume{}, err
	}

	status, err := waitFor(ctx, "attach volume", DefaultDeadline, StatusInUse, func(ctx context.Context) (Status, error) {
		m, err := d.readMeta(volumeID)
		if err != nil {
			return "", err
		}
		return m.Status, nil
	})
	if err != nil {
		return BlockDeviceVolume{}, err
	}
	meta.Status = status
	return d.toVolume(meta), nil
}

func (d *LoopbackDriver) DetachVolume(ctx context.Context, volumeID string) error {
	d.mu.Lock()
	meta, err := d.readMeta(volumeID)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if meta.AttachedTo == nil {
		d.mu.Unlock()
		return &ErrUnattachedVolume{VolumeID: volumeID}
	}
	meta.AttachedTo = nil
	meta.Status = StatusAvailable
	err = d.writeMeta(meta)
	d.mu.Unlock()
	if err != nil {
		return err
	}

	_, err = waitFor(ctx, "detach volume", DefaultDeadline, StatusAvailable, func(ctx context.Context) (Status, error) {
		m, err := d.readMeta(volumeID)
		if err != nil {
			return "", err
		}
		return m.Status, nil
	})
	return err
}

func (d *LoopbackDriver) DestroyVolume(ctx context.Context, volumeID string) error {
	d.mu.Lock()
	if _, err := d.readMeta(volumeID); err != nil {
		d.mu.Unlock()
		return err
	}
	if err := os.Remove(d.dataPath(volumeID)); err != nil && !os.IsNotExist(err) {
		d.mu.Unlock()
		return asBackendTransient("remove volume file", err)
	}
	if err := os.Remove(d.metaPath(volumeID)); err != nil && !os.IsNotExist(err) {
		d.mu.Unlock()
		return asBackendTransient("remove volume metadata", err)
	}
	d.mu.Unlock()

	deadline := time.Now().Add(DefaultDeadline)
	for {
		if _, err := d.readMeta(volumeID); err != nil {
			if _, ok := err.(*ErrUnknownVolume); ok {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return &ErrTimeout{Operation: "destroy volume", Expected: "absent", Observed: "present"}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

func (d *LoopbackDriver) GetDevicePath(ctx context.Context, volumeID string) (string, error) {
	meta, err := d.readMeta(volumeID)
	if err != nil {
		return "", err
	}
	if meta.AttachedTo == nil {
		return "", &ErrUnattachedVolume{VolumeID: volumeID}
	}
	return d.dataPath(volumeID), nil
}

var _ Driver = (*LoopbackDriver)(nil)
