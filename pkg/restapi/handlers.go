package restapi

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/flocker-cluster/flocker/pkg/model"
)

func (s *Server) listObservedDatasets(c echo.Context) error {
	state := s.clusterState.AsDeploymentState()

	var out []observedDataset
	for _, node := range state.Nodes {
		for _, m := range node.Manifestations {
			out = append(out, observedDataset{
				DatasetID: m.Manifestation.Dataset.DatasetID,
				NodeUUID:  node.NodeUUID,
				Path:      m.Path,
			})
		}
	}
	if out == nil {
		out = []observedDataset{}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) listObservedContainers(c echo.Context) error {
	state := s.clusterState.AsDeploymentState()

	var out []observedContainer
	for _, node := range state.Nodes {
		for _, oc := range node.Containers {
			out = append(out, observedContainer{
				Name:     oc.Name,
				Image:    oc.Image,
				State:    oc.State,
				NodeUUID: node.NodeUUID,
			})
		}
	}
	if out == nil {
		out = []observedContainer{}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) listNodes(c echo.Context) error {
	deployment, err := s.configStore.Get()
	if err != nil {
		return internal("failed to read configuration: " + err.Error())
	}
	state := s.clusterState.AsDeploymentState()

	seen := make(map[string]bool)
	var out []observedNode
	for uuid, node := range deployment.Nodes {
		seen[uuid] = true
		out = append(out, observedNode{UUID: uuid, Host: node.Address})
	}
	for uuid := range state.Nodes {
		if !seen[uuid] {
			out = append(out, observedNode{UUID: uuid})
		}
	}
	if out == nil {
		out = []observedNode{}
	}
	return c.JSON(http.StatusOK, out)
}

// withMutation serializes load-transform-save against the Configuration
// Store: take a mutex on it, load, apply a pure transformation, save.
// The mutation returns once the save is durable; broadcasting the
// change to agents happens asynchronously via configstore.Store's own
// subscriber broker.
func (s *Server) withMutation(transform func(model.Deployment) (model.Deployment, error)) error {
	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	current, err := s.configStore.Get()
	if err != nil {
		return internal("failed to read configuration: " + err.Error())
	}

	next, err := transform(current)
	if err != nil {
		return err
	}
	next.Version = current.Version + 1

	if err := s.configStore.Save(next); err != nil {
		return classifyModelError(err)
	}
	return nil
}

func (s *Server) createDataset(c echo.Context) error {
	var req datasetRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	datasetID := req.DatasetID
	if datasetID == "" {
		return badRequest("dataset_id is required")
	}

	err := s.withMutation(func(d model.Deployment) (model.Deployment, error) {
		if _, _, ok := findManifestation(d, datasetID); ok {
			return model.Deployment{}, conflict("dataset " + datasetID + " already exists")
		}
		dataset := model.Dataset{DatasetID: datasetID, MaximumSize: req.MaximumSize, Metadata: req.Metadata}
		return placeDataset(d, req.Primary, dataset), nil
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"dataset_id": datasetID})
}

func (s *Server) updateDataset(c echo.Context) error {
	id := c.Param("id")
	var req datasetUpdateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}

	err := s.withMutation(func(d model.Deployment) (model.Deployment, error) {
		next, err := updateDataset(d, id, req)
		if err != nil {
			return model.Deployment{}, notFound(err.Error())
		}
		return next, nil
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"dataset_id": id})
}

func (s *Server) deleteDataset(c echo.Context) error {
	id := c.Param("id")

	err := s.withMutation(func(d model.Deployment) (model.Deployment, error) {
		next, err := tombstoneDataset(d, id)
		if err != nil {
			return model.Deployment{}, notFound(err.Error())
		}
		return next, nil
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"dataset_id": id})
}

func (s *Server) createContainer(c echo.Context) error {
	var req containerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if port, dup := model.DuplicateExternalPort(req.Ports); dup {
		return badRequest(fmt.Sprintf("duplicate external port %d", port))
	}

	err := s.withMutation(func(d model.Deployment) (model.Deployment, error) {
		if _, _, ok := findApplication(d, req.Name); ok {
			return model.Deployment{}, conflict("container " + req.Name + " already exists")
		}
		return addApplication(d, req.NodeUUID, req.toApplication()), nil
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"name": req.Name})
}

func (s *Server) moveContainer(c echo.Context) error {
	name := c.Param("name")
	var req containerMoveRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	err := s.withMutation(func(d model.Deployment) (model.Deployment, error) {
		next, err := moveApplication(d, name, req.NodeUUID)
		if err != nil {
			return model.Deployment{}, notFound(err.Error())
		}
		return next, nil
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"name": name})
}

func (s *Server) deleteContainer(c echo.Context) error {
	name := c.Param("name")

	err := s.withMutation(func(d model.Deployment) (model.Deployment, error) {
		next, err := removeApplication(d, name)
		if err != nil {
			return model.Deployment{}, notFound(err.Error())
		}
		return next, nil
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"name": name})
}
