// Package blockdevice is the Block-Volume Driver abstraction: a uniform
// create/attach/detach/destroy/list capability set over a backend that
// is asynchronous and eventually consistent, built on a directory-per-
// volume driver shape and generalized with the async waiting discipline
// of original_source/flocker/node/agents/cinder.py's wait_for_volume.
package blockdevice

import "context"

// Status is the backend-reported lifecycle state of a volume.
type Status string

const (
	StatusCreating  Status = "creating"
	StatusAvailable Status = "available"
	StatusAttaching Status = "attaching"
	StatusInUse     Status = "in-use"
	StatusDetaching Status = "detaching"
	StatusDeleting  Status = "deleting"
)

// BlockDeviceVolume is the backend-agnostic record returned by every
// Driver operation.
type BlockDeviceVolume struct {
	VolumeID   string
	Size       int64
	DatasetID  string
	AttachedTo *string // instance id, nil if unattached
	Status     Status
}

// Driver is the capability set every backend (loopback, cloud block
// storage) implements. Every mutating method only returns once the
// backend's own enumeration confirms the expected steady state;
// implementations build that on top of waitFor, in waiting.go.
type Driver interface {
	// ComputeInstanceID returns the identifier of the current host as the
	// backend knows it. Not necessarily equal to an IP or node UUID.
	ComputeInstanceID(ctx context.Context) (string, error)

	// CreateVolume allocates size bytes (may round up to the backend's
	// allocation granularity) tagged with clusterID/datasetID, and
	// returns only once the volume appears in ListVolumes as Available.
	CreateVolume(ctx context.Context, datasetID string, sizeBytes int64) (BlockDeviceVolume, error)

	// ListVolumes returns only volumes tagged with this driver's
	// clusterID, so one tenant never sees another's volumes.
	ListVolumes(ctx context.Context) ([]BlockDeviceVolume, error)

	// AttachVolume attaches volumeID to instanceID and returns once the
	// backend reports InUse. Returns *ErrAlreadyAttached if already
	// attached, *ErrUnknownVolume if absent.
	AttachVolume(ctx context.Context, volumeID, instanceID string) (BlockDeviceVolume, error)

	// DetachVolume is the inverse of AttachVolume; returns once the
	// backend reports Available. Returns *ErrUnknownVolume or
	// *ErrUnattachedVolume as appropriate.
	DetachVolume(ctx context.Context, volumeID string) error

	// DestroyVolume issues a delete and returns only once enumeration no
	// longer lists the volume.
	DestroyVolume(ctx context.Context, volumeID string) error

	// GetDevicePath returns the OS device node for the current
	// attachment. Returns *ErrUnattachedVolume if there is none.
	GetDevicePath(ctx context.Context, volumeID string) (string, error)
}
