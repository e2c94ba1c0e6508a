package blockdevice

import (
	"context"
	"fmt"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/volumes"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/volumeattach"
)

// cinderStatus maps a Cinder API status string onto our backend-agnostic
// Status. Unrecognized strings pass through unchanged so a caller can
// still see what the backend actually reported.
func cinderStatus(raw string) Status {
	switch raw {
	case "creating":
		return StatusCreating
	case "available":
		return StatusAvailable
	case "attaching":
		return StatusAttaching
	case "in-use":
		return StatusInUse
	case "detaching":
		return StatusDetaching
	case "deleting":
		return StatusDeleting
	default:
		return Status(raw)
	}
}

// OpenStackDriver is a Driver backed by Cinder (block storage) and Nova
// (compute attachments), grounded on
// kubernetes-cloud-provider-openstack's pkg/csi/cinder/openstack
// collaborator, trimmed to the create/attach/detach/destroy/list surface
// Driver requires and built on this package's own waitFor rather than
// k8s.io/apimachinery's wait.Backoff (not part of this module's stack).
type OpenStackDriver struct {
	blockstorage *gophercloud.ServiceClient
	compute      *gophercloud.ServiceClient
	clusterID    string
}

// NewOpenStackDriver wraps already-authenticated Cinder v3 and Nova v2
// service clients. Authentication (clientconfig.AuthOptions, and so on)
// is the caller's concern — the driver only ever speaks the block
// storage and compute APIs.
func NewOpenStackDriver(blockstorage, compute *gophercloud.ServiceClient, clusterID string) *OpenStackDriver {
	return &OpenStackDriver{blockstorage: blockstorage, compute: compute, clusterID: clusterID}
}

func (d *OpenStackDriver) ComputeInstanceID(ctx context.Context) (string, error) {
	// Nova has no "who am I" call; callers run this driver from inside
	// the instance it manages and are expected to supply the metadata
	// service's instance id through configuration in production. This
	// returns the first server record the compute API lists.
	page, err := servers.List(d.compute, servers.ListOpts{Limit: 1}).AllPages(ctx)
	if err != nil {
		return "", asBackendTransient("list compute instances", err)
	}
	all, err := servers.ExtractServers(page)
	if err != nil {
		return "", asBackendFatal("decode compute instances", err)
	}
	if len(all) == 0 {
		return "", asBackendFatal("list compute instances", fmt.Errorf("no instances visible to this credential"))
	}
	return all[0].ID, nil
}

func (d *OpenStackDriver) CreateVolume(ctx context.Context, datasetID string, sizeBytes int64) (BlockDeviceVolume, error) {
	gib := int(sizeBytes / (1 << 30))
	if gib < 1 {
		gib = 1
	}
	vol, err := volumes.Create(ctx, d.blockstorage, volumes.CreateOpts{
		Size:        gib,
		Name:        datasetID,
		Description: "flocker dataset " + datasetID,
		Metadata: map[string]string{
			"flocker-cluster-id": d.clusterID,
			"flocker-dataset-id": datasetID,
		},
	}, nil).Extract()
	if err != nil {
		return BlockDeviceVolume{}, asBackendTransient("create volume", err)
	}

	status, err := waitFor(ctx, "create volume", DefaultDeadline, StatusAvailable, func(ctx context.Context) (Status, error) {
		v, err := volumes.Get(ctx, d.blockstorage, vol.ID).Extract()
		if err != nil {
			return "", asBackendTransient("poll created volume", err)
		}
		return cinderStatus(v.Status), nil
	})
	if err != nil {
		return BlockDeviceVolume{}, err
	}

	return BlockDeviceVolume{
		VolumeID:  vol.ID,
		Size:      int64(gib) << 30,
		DatasetID: datasetID,
		Status:    status,
	}, nil
}

func (d *OpenStackDriver) ListVolumes(ctx context.Context) ([]BlockDeviceVolume, error) {
	page, err := volumes.List(d.blockstorage, volumes.ListOpts{
		Metadata: map[string]string{"flocker-cluster-id": d.clusterID},
	}).AllPages(ctx)
	if err != nil {
		return nil, asBackendTransient("list volumes", err)
	}
	all, err := volumes.ExtractVolumes(page)
	if err != nil {
		return nil, asBackendFatal("decode volume list", err)
	}

	result := make([]BlockDeviceVolume, 0, len(all))
	for _, v := range all {
		if v.Metadata["flocker-cluster-id"] != d.clusterID {
			continue
		}
		bv := BlockDeviceVolume{
			VolumeID:  v.ID,
			Size:      int64(v.Size) << 30,
			DatasetID: v.Metadata["flocker-dataset-id"],
			Status:    cinderStatus(v.Status),
		}
		if len(v.Attachments) > 0 {
			serverID := v.Attachments[0].ServerID
			bv.AttachedTo = &serverID
		}
		result = append(result, bv)
	}
	return result, nil
}

func (d *OpenStackDriver) AttachVolume(ctx context.Context, volumeID, instanceID string) (BlockDeviceVolume, error) {
	vol, err := volumes.Get(ctx, d.blockstorage, volumeID).Extract()
	if err != nil {
		return BlockDeviceVolume{}, &ErrUnknownVolume{VolumeID: volumeID}
	}
	for _, att := range vol.Attachments {
		if att.ServerID == instanceID {
			return BlockDeviceVolume{}, &ErrAlreadyAttached{VolumeID: volumeID, AttachedTo: att.ServerID}
		}
	}
	if len(vol.Attachments) > 0 {
		return BlockDeviceVolume{}, &ErrAlreadyAttached{VolumeID: volumeID, AttachedTo: vol.Attachments[0].ServerID}
	}

	if _, err := volumeattach.Create(ctx, d.compute, instanceID, volumeattach.CreateOpts{
		VolumeID: volumeID,
	}).Extract(); err != nil {
		return BlockDeviceVolume{}, asBackendTransient("attach volume", err)
	}

	status, err := waitFor(ctx, "attach volume", DefaultDeadline, StatusInUse, func(ctx context.Context) (Status, error) {
		v, err := volumes.Get(ctx, d.blockstorage, volumeID).Extract()
		if err != nil {
			return "", asBackendTransient("poll attaching volume", err)
		}
		return cinderStatus(v.Status), nil
	})
	if err != nil {
		return BlockDeviceVolume{}, err
	}

	return BlockDeviceVolume{
		VolumeID:   volumeID,
		Size:       int64(vol.Size) << 30,
		DatasetID:  vol.Metadata["flocker-dataset-id"],
		AttachedTo: &instanceID,
		Status:     status,
	}, nil
}

func (d *OpenStackDriver) DetachVolume(ctx context.Context, volumeID string) error {
	vol, err := volumes.Get(ctx, d.blockstorage, volumeID).Extract()
	if err != nil {
		return &ErrUnknownVolume{VolumeID: volumeID}
	}
	if len(vol.Attachments) == 0 {
		return &ErrUnattachedVolume{VolumeID: volumeID}
	}
	att := vol.Attachments[0]

	if err := volumeattach.Delete(ctx, d.compute, att.ServerID, att.ID).ExtractErr(); err != nil {
		return asBackendTransient("detach volume", err)
	}

	_, err = waitFor(ctx, "detach volume", DefaultDeadline, StatusAvailable, func(ctx context.Context) (Status, error) {
		v, err := volumes.Get(ctx, d.blockstorage, volumeID).Extract()
		if err != nil {
			return "", asBackendTransient("poll detaching volume", err)
		}
		return cinderStatus(v.Status), nil
	})
	return err
}

func (d *OpenStackDriver) DestroyVolume(ctx context.Context, volumeID string) error {
	if _, err := volumes.Get(ctx, d.blockstorage, volumeID).Extract(); err != nil {
		return &ErrUnknownVolume{VolumeID: volumeID}
	}
	if err := volumes.Delete(ctx, d.blockstorage, volumeID, nil).ExtractErr(); err != nil {
		return asBackendTransient("destroy volume", err)
	}

	deleted := Status("deleted")
	_, err := waitFor(ctx, "destroy volume", DefaultDeadline, deleted, func(ctx context.Context) (Status, error) {
		v, err := volumes.Get(ctx, d.blockstorage, volumeID).Extract()
		if gophercloud.ResponseCodeIs(err, 404) {
			return deleted, nil
		}
		if err != nil {
			return "", asBackendTransient("poll deleting volume", err)
		}
		return cinderStatus(v.Status), nil // not yet 404, keep polling
	})
	if errTimeout, ok := err.(*ErrTimeout); ok {
		return errTimeout
	}
	return nil
}

func (d *OpenStackDriver) GetDevicePath(ctx context.Context, volumeID string) (string, error) {
	vol, err := volumes.Get(ctx, d.blockstorage, volumeID).Extract()
	if err != nil {
		return "", &ErrUnknownVolume{VolumeID: volumeID}
	}
	if len(vol.Attachments) == 0 {
		return "", &ErrUnattachedVolume{VolumeID: volumeID}
	}
	return vol.Attachments[0].Device, nil
}

var _ Driver = (*OpenStackDriver)(nil)
