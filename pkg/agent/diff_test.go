package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flocker-cluster/flocker/pkg/blockdevice"
	"github.com/flocker-cluster/flocker/pkg/model"
)

func ptr(i string) *string { return &i }

func TestDiagnoseStopContainerOnImageDrift(t *testing.T) {
	deployment := model.NewDeployment()
	deployment.Nodes["node-1"] = model.NodeConfig{
		NodeUUID:     "node-1",
		Applications: []model.Application{{Name: "web", Image: "nginx:1.28"}},
	}
	obs := Observation{
		NodeState: model.NodeState{Containers: []model.ObservedContainer{
			{Name: "web", Image: "nginx:1.27", State: model.ContainerRunning},
		}},
		InstanceID: "this-host",
	}

	discrepancies := Diagnose("node-1", deployment, model.NewDeploymentState(), obs)
	assertHasKind(t, discrepancies, KindStopContainer)
}

func TestDiagnoseStopContainerOnUndesiredContainer(t *testing.T) {
	deployment := model.NewDeployment()
	deployment.Nodes["node-1"] = model.NodeConfig{NodeUUID: "node-1"}
	obs := Observation{
		NodeState: model.NodeState{Containers: []model.ObservedContainer{
			{Name: "orphan", Image: "redis:7", State: model.ContainerRunning},
		}},
	}

	discrepancies := Diagnose("node-1", deployment, model.NewDeploymentState(), obs)
	assertHasKind(t, discrepancies, KindStopContainer)
}

func TestDiagnoseDetachVolumeWhenNoLongerDesired(t *testing.T) {
	deployment := model.NewDeployment()
	deployment.Nodes["node-1"] = model.NodeConfig{NodeUUID: "node-1"}
	obs := Observation{
		InstanceID: "this-host",
		Volumes: []blockdevice.BlockDeviceVolume{
			{VolumeID: "vol-1", DatasetID: "ds-1", AttachedTo: ptr("this-host"), Status: blockdevice.StatusInUse},
		},
	}

	discrepancies := Diagnose("node-1", deployment, model.NewDeploymentState(), obs)
	assertHasKind(t, discrepancies, KindDetachVolume)
}

func TestDiagnoseDestroyDatasetWhenTombstonedAndPresent(t *testing.T) {
	deployment := model.NewDeployment()
	deployment.Nodes["node-1"] = model.NodeConfig{
		NodeUUID: "node-1",
		Manifestations: []model.Manifestation{
			{Dataset: model.Dataset{DatasetID: "ds-1", Deleted: true}, Role: model.RolePrimary},
		},
	}
	obs := Observation{
		InstanceID: "this-host",
		NodeState: model.NodeState{Manifestations: []model.ObservedManifestation{
			{Manifestation: model.Manifestation{Dataset: model.Dataset{DatasetID: "ds-1"}, Role: model.RolePrimary}, Path: "/dev/loop0"},
		}},
	}

	discrepancies := Diagnose("node-1", deployment, model.NewDeploymentState(), obs)
	assertHasKind(t, discrepancies, KindDestroyDataset)
}

func TestDiagnoseHandoffPrimaryWhenDesiredElsewhere(t *testing.T) {
	deployment := model.NewDeployment()
	deployment.Nodes["node-1"] = model.NodeConfig{NodeUUID: "node-1"}
	deployment.Nodes["node-2"] = model.NodeConfig{
		NodeUUID: "node-2",
		Manifestations: []model.Manifestation{
			{Dataset: model.Dataset{DatasetID: "ds-1"}, Role: model.RolePrimary},
		},
	}
	obs := Observation{
		NodeState: model.NodeState{Manifestations: []model.ObservedManifestation{
			{Manifestation: model.Manifestation{Dataset: model.Dataset{DatasetID: "ds-1"}, Role: model.RolePrimary}, Path: "/dev/loop0"},
		}},
	}

	discrepancies := Diagnose("node-1", deployment, model.NewDeploymentState(), obs)
	assertHasKind(t, discrepancies, KindHandoffPrimary)
}

func TestDiagnoseReceivePrimaryWhenDesiredHereButLiveElsewhere(t *testing.T) {
	deployment := model.NewDeployment()
	deployment.Nodes["node-1"] = model.NodeConfig{
		NodeUUID: "node-1",
		Manifestations: []model.Manifestation{
			{Dataset: model.Dataset{DatasetID: "ds-1"}, Role: model.RolePrimary},
		},
	}

	state := model.NewDeploymentState()
	state.Nodes["node-2"] = model.NodeState{
		NodeUUID: "node-2",
		Manifestations: []model.ObservedManifestation{
			{Manifestation: model.Manifestation{Dataset: model.Dataset{DatasetID: "ds-1"}, Role: model.RolePrimary}, Path: "/dev/loop0"},
		},
	}

	discrepancies := Diagnose("node-1", deployment, state, Observation{})
	assertHasKind(t, discrepancies, KindReceivePrimary)
}

func TestDiagnoseCreateDatasetWhenUnknownToCluster(t *testing.T) {
	deployment := model.NewDeployment()
	deployment.Nodes["node-1"] = model.NodeConfig{
		NodeUUID: "node-1",
		Manifestations: []model.Manifestation{
			{Dataset: model.Dataset{DatasetID: "ds-1"}, Role: model.RolePrimary},
		},
	}

	discrepancies := Diagnose("node-1", deployment, model.NewDeploymentState(), Observation{})
	assertHasKind(t, discrepancies, KindCreateDataset)
}

func TestDiagnoseAttachVolumeWhenVolumeExistsButNotAttachedHere(t *testing.T) {
	deployment := model.NewDeployment()
	deployment.Nodes["node-1"] = model.NodeConfig{
		NodeUUID: "node-1",
		Manifestations: []model.Manifestation{
			{Dataset: model.Dataset{DatasetID: "ds-1"}, Role: model.RolePrimary},
		},
	}
	obs := Observation{
		InstanceID: "this-host",
		Volumes: []blockdevice.BlockDeviceVolume{
			{VolumeID: "vol-1", DatasetID: "ds-1", Status: blockdevice.StatusAvailable},
		},
	}

	discrepancies := Diagnose("node-1", deployment, model.NewDeploymentState(), obs)
	assertHasKind(t, discrepancies, KindAttachVolume)
}

func TestDiagnoseStartContainerWhenNotRunning(t *testing.T) {
	deployment := model.NewDeployment()
	deployment.Nodes["node-1"] = model.NodeConfig{
		NodeUUID:     "node-1",
		Applications: []model.Application{{Name: "web", Image: "nginx:1.27"}},
	}

	discrepancies := Diagnose("node-1", deployment, model.NewDeploymentState(), Observation{})
	assertHasKind(t, discrepancies, KindStartContainer)
}

func TestDiagnoseSafetyInvariantSkipsStartWhenVolumeNotAttached(t *testing.T) {
	deployment := model.NewDeployment()
	deployment.Nodes["node-1"] = model.NodeConfig{
		NodeUUID: "node-1",
		Applications: []model.Application{{
			Name:   "web",
			Image:  "nginx:1.27",
			Volume: &model.AttachedVolume{ManifestationDatasetID: "ds-1", Mountpoint: "/data"},
		}},
		Manifestations: []model.Manifestation{
			{Dataset: model.Dataset{DatasetID: "ds-1"}, Role: model.RolePrimary},
		},
	}
	// No volume observed at all yet, so Create dataset should appear but
	// Start container must not, even though the container isn't running.
	discrepancies := Diagnose("node-1", deployment, model.NewDeploymentState(), Observation{InstanceID: "this-host"})

	assertHasKind(t, discrepancies, KindCreateDataset)
	for _, d := range discrepancies {
		assert.NotEqual(t, KindStartContainer, d.Kind)
	}
}

func TestNextPicksLowestPriorityKind(t *testing.T) {
	discrepancies := []Discrepancy{
		{Kind: KindStartContainer},
		{Kind: KindCreateDataset},
		{Kind: KindStopContainer},
	}
	next, ok := Next(discrepancies)
	assert.True(t, ok)
	assert.Equal(t, KindStopContainer, next.Kind)
}

func TestNextOnEmptyReturnsFalse(t *testing.T) {
	_, ok := Next(nil)
	assert.False(t, ok)
}

func assertHasKind(t *testing.T, discrepancies []Discrepancy, kind Kind) {
	t.Helper()
	for _, d := range discrepancies {
		if d.Kind == kind {
			return
		}
	}
	t.Fatalf("expected a %s discrepancy, got %+v", kind, discrepancies)
}
