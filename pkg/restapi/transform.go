package restapi

import (
	"fmt"

	"github.com/flocker-cluster/flocker/pkg/model"
)

// The functions below are the "pure transformation" step of the
// load-transform-save mutation recipe. Each takes the current Deployment
// and returns the next one, without touching the store — placeDataset
// and friends never mutate their argument (model.Deployment and
// model.NodeConfig's Copy methods make that straightforward).

// placeDataset assigns a (possibly new) dataset as primary on nodeUUID.
// If the dataset already has a primary manifestation somewhere else, it
// is moved; a dataset may have at most one primary at a time.
func placeDataset(d model.Deployment, nodeUUID string, dataset model.Dataset) model.Deployment {
	next := d.Copy()
	removeManifestation(&next, dataset.DatasetID)

	node := next.Node(nodeUUID)
	node.Manifestations = append(node.Manifestations, model.Manifestation{
		Dataset: dataset,
		Role:    model.RolePrimary,
	})
	next.Nodes[nodeUUID] = node
	return next
}

// updateDataset applies a partial modification: move primary (if
// Primary is set), and/or replace MaximumSize/Metadata in place.
func updateDataset(d model.Deployment, datasetID string, req datasetUpdateRequest) (model.Deployment, error) {
	existing, nodeUUID, ok := findManifestation(d, datasetID)
	if !ok {
		return model.Deployment{}, fmt.Errorf("dataset %s not found", datasetID)
	}

	dataset := existing.Dataset
	if req.MaximumSize != nil {
		dataset.MaximumSize = req.MaximumSize
	}
	if req.Metadata != nil {
		dataset.Metadata = req.Metadata
	}

	targetNode := nodeUUID
	if req.Primary != "" {
		targetNode = req.Primary
	}
	return placeDataset(d, targetNode, dataset), nil
}

// tombstoneDataset marks datasetID Deleted wherever it is currently
// manifested, leaving placement untouched — agents release storage in
// response to the tombstone, and the record itself survives until every
// manifestation is gone.
func tombstoneDataset(d model.Deployment, datasetID string) (model.Deployment, error) {
	m, nodeUUID, ok := findManifestation(d, datasetID)
	if !ok {
		return model.Deployment{}, fmt.Errorf("dataset %s not found", datasetID)
	}
	dataset := m.Dataset
	dataset.Deleted = true
	return placeDataset(d, nodeUUID, dataset), nil
}

// addApplication declares a new application on nodeUUID, replacing any
// existing application of the same name on that node.
func addApplication(d model.Deployment, nodeUUID string, app model.Application) model.Deployment {
	next := d.Copy()
	node := next.Node(nodeUUID)

	var apps []model.Application
	for _, existing := range node.Applications {
		if existing.Name != app.Name {
			apps = append(apps, existing)
		}
	}
	node.Applications = append(apps, app)
	next.Nodes[nodeUUID] = node
	return next
}

// moveApplication relocates the named application to targetNode,
// preserving its configuration.
func moveApplication(d model.Deployment, name, targetNode string) (model.Deployment, error) {
	app, _, ok := findApplication(d, name)
	if !ok {
		return model.Deployment{}, fmt.Errorf("container %s not found", name)
	}
	next := removeApplicationCopy(d, name)
	return addApplication(next, targetNode, app), nil
}

// removeApplication deletes the named application from wherever it is
// configured.
func removeApplication(d model.Deployment, name string) (model.Deployment, error) {
	if _, _, ok := findApplication(d, name); !ok {
		return model.Deployment{}, fmt.Errorf("container %s not found", name)
	}
	return removeApplicationCopy(d, name), nil
}

func removeApplicationCopy(d model.Deployment, name string) model.Deployment {
	next := d.Copy()
	for nodeUUID, node := range next.Nodes {
		var apps []model.Application
		for _, app := range node.Applications {
			if app.Name != name {
				apps = append(apps, app)
			}
		}
		node.Applications = apps
		next.Nodes[nodeUUID] = node
	}
	return next
}

func findApplication(d model.Deployment, name string) (model.Application, string, bool) {
	for _, node := range d.Nodes {
		if app, ok := node.ApplicationByName(name); ok {
			return app, node.NodeUUID, true
		}
	}
	return model.Application{}, "", false
}

func findManifestation(d model.Deployment, datasetID string) (model.Manifestation, string, bool) {
	for _, node := range d.Nodes {
		if m, ok := node.PrimaryManifestation(datasetID); ok {
			return m, node.NodeUUID, true
		}
	}
	return model.Manifestation{}, "", false
}

func removeManifestation(d *model.Deployment, datasetID string) {
	for nodeUUID, node := range d.Nodes {
		var manifestations []model.Manifestation
		for _, m := range node.Manifestations {
			if m.Dataset.DatasetID != datasetID {
				manifestations = append(manifestations, m)
			}
		}
		node.Manifestations = manifestations
		d.Nodes[nodeUUID] = node
	}
}
