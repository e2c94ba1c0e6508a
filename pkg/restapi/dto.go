package restapi

import "github.com/flocker-cluster/flocker/pkg/model"

// observedDataset is the "no metadata, has path" shape for
// GET /state/datasets: an actually-materialised dataset, not the full
// configuration record.
type observedDataset struct {
	DatasetID string `json:"dataset_id"`
	NodeUUID  string `json:"node_uuid"`
	Path      string `json:"path"`
}

// observedContainer is the shape for GET /state/containers: an
// actually-running container with the host it was observed on.
type observedContainer struct {
	Name     string               `json:"name"`
	Image    string               `json:"image"`
	State    model.ContainerState `json:"state"`
	NodeUUID string               `json:"node_uuid"`
}

// observedNode is the shape for GET /state/nodes.
type observedNode struct {
	UUID string `json:"uuid"`
	Host string `json:"host"`
}

// datasetRequest is the body of POST /configuration/datasets and
// POST /configuration/datasets/{id}. All fields but Primary are optional
// on the partial-update route.
type datasetRequest struct {
	DatasetID   string            `json:"dataset_id"`
	Primary     string            `json:"primary" validate:"required"`
	MaximumSize *int64            `json:"maximum_size,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// datasetUpdateRequest is the body of POST /configuration/datasets/{id}:
// every field is optional, since it's a partial modification.
type datasetUpdateRequest struct {
	Primary     string            `json:"primary,omitempty"`
	MaximumSize *int64            `json:"maximum_size,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// containerRequest is the body of POST /configuration/containers.
type containerRequest struct {
	Name        string                 `json:"name" validate:"required"`
	NodeUUID    string                 `json:"node_uuid" validate:"required"`
	Image       string                 `json:"image" validate:"required"`
	Ports       []model.PortMap        `json:"ports,omitempty" validate:"unique=External"`
	Links       []model.Link           `json:"links,omitempty"`
	Environment []model.EnvironmentVar `json:"environment,omitempty"`
	Limits      model.ResourceLimits   `json:"limits,omitempty"`
	DatasetID   string                 `json:"dataset_id,omitempty"`
	Mountpoint  string                 `json:"mountpoint,omitempty"`
}

// containerMoveRequest is the body of POST /configuration/containers/{name}.
type containerMoveRequest struct {
	NodeUUID string `json:"node_uuid" validate:"required"`
}

func (r containerRequest) toApplication() model.Application {
	app := model.Application{
		Name:        r.Name,
		Image:       r.Image,
		Ports:       r.Ports,
		Links:       r.Links,
		Environment: r.Environment,
		Limits:      r.Limits,
	}
	if r.DatasetID != "" {
		app.Volume = &model.AttachedVolume{
			ManifestationDatasetID: r.DatasetID,
			Mountpoint:             r.Mountpoint,
		}
	}
	return app
}
