package blockdevice

import (
	"fmt"

	"github.com/flocker-cluster/flocker/pkg/model"
)

// ErrUnknownVolume is returned when an operation names a volume ID the
// backend has no record of.
type ErrUnknownVolume struct {
	VolumeID string
}

func (e *ErrUnknownVolume) Error() string {
	return fmt.Sprintf("blockdevice: unknown volume %q", e.VolumeID)
}

// ErrAlreadyAttached is returned by AttachVolume when the volume's
// AttachedTo is already set.
type ErrAlreadyAttached struct {
	VolumeID   string
	AttachedTo string
}

func (e *ErrAlreadyAttached) Error() string {
	return fmt.Sprintf("blockdevice: volume %q already attached to %q", e.VolumeID, e.AttachedTo)
}

// ErrUnattachedVolume is returned by DetachVolume/GetDevicePath when the
// volume has no current attachment.
type ErrUnattachedVolume struct {
	VolumeID string
}

func (e *ErrUnattachedVolume) Error() string {
	return fmt.Sprintf("blockdevice: volume %q is not attached", e.VolumeID)
}

// ErrTimeout is raised when a waitFor poll loop exceeds its deadline. It
// carries the expected and last-observed status so the caller can log a
// precise diagnostic.
type ErrTimeout struct {
	Operation string
	Expected  string
	Observed  string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("blockdevice: %s timed out waiting for status %q, last observed %q", e.Operation, e.Expected, e.Observed)
}

// asBackendTransient wraps a poll/network error as KindBackendTransient,
// the class the convergence agent absorbs and retries next tick.
func asBackendTransient(op string, err error) error {
	return model.NewError(model.KindBackendTransient, "blockdevice: "+op, err)
}

// asBackendFatal wraps an "unknown resource when one was expected, or
// vice versa" condition as KindBackendFatal: surfaced, not retried.
func asBackendFatal(op string, err error) error {
	return model.NewError(model.KindBackendFatal, "blockdevice: "+op, err)
}
