package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeploymentNodeDefaultsToEmptyConfig(t *testing.T) {
	d := NewDeployment()
	n := d.Node("node-a")
	assert.Equal(t, "node-a", n.NodeUUID)
	assert.Empty(t, n.Applications)
}

func TestDeploymentPrimaryNode(t *testing.T) {
	d := NewDeployment()
	d.Nodes["node-a"] = NodeConfig{
		NodeUUID: "node-a",
		Manifestations: []Manifestation{
			{Dataset: Dataset{DatasetID: "ds-1"}, Role: RolePrimary},
		},
	}

	node, ok := d.PrimaryNode("ds-1")
	require.True(t, ok)
	assert.Equal(t, "node-a", node)

	_, ok = d.PrimaryNode("ds-missing")
	assert.False(t, ok)
}

func TestDeploymentStatePrimaryCountCatchesDoublePrimary(t *testing.T) {
	state := NewDeploymentState()
	state.Nodes["a"] = NodeState{
		NodeUUID: "a",
		Manifestations: []ObservedManifestation{
			{Manifestation: Manifestation{Dataset: Dataset{DatasetID: "ds-1"}, Role: RolePrimary}, Path: "/a"},
		},
	}
	state.Nodes["b"] = NodeState{
		NodeUUID: "b",
		Manifestations: []ObservedManifestation{
			{Manifestation: Manifestation{Dataset: Dataset{DatasetID: "ds-1"}, Role: RolePrimary}, Path: "/b"},
		},
	}

	assert.Equal(t, 2, state.PrimaryCount("ds-1"), "double-primary must be observable so convergence can detect and fix it")
}

func TestApplicationEqualDetectsImageDrift(t *testing.T) {
	a := Application{Name: "web", Image: "nginx:1.27"}
	b := a
	b.Image = "nginx:1.28"

	assert.True(t, a.Equal(a))
	assert.False(t, a.Equal(b))
}

func TestDuplicateExternalPort(t *testing.T) {
	ports := []PortMap{{Internal: 80, External: 7}, {Internal: 81, External: 7}}
	port, dup := DuplicateExternalPort(ports)
	require.True(t, dup)
	assert.Equal(t, 7, port)

	_, dup = DuplicateExternalPort([]PortMap{{Internal: 80, External: 7}, {Internal: 81, External: 8}})
	assert.False(t, dup)
}

func TestDatasetCopyIsIndependent(t *testing.T) {
	size := int64(100)
	d := Dataset{DatasetID: "ds-1", MaximumSize: &size, Metadata: map[string]string{"k": "v"}}
	cp := d.Copy()
	cp.Metadata["k"] = "changed"
	*cp.MaximumSize = 200

	assert.Equal(t, "v", d.Metadata["k"])
	assert.Equal(t, int64(100), *d.MaximumSize)
}

func TestDeploymentEqualIgnoresMapOrdering(t *testing.T) {
	a := NewDeployment()
	a.Nodes["x"] = NodeConfig{NodeUUID: "x", Applications: []Application{{Name: "web", Image: "nginx"}}}
	a.Nodes["y"] = NodeConfig{NodeUUID: "y"}

	b := NewDeployment()
	b.Nodes["y"] = NodeConfig{NodeUUID: "y"}
	b.Nodes["x"] = NodeConfig{NodeUUID: "x", Applications: []Application{{Name: "web", Image: "nginx"}}}

	assert.True(t, a.Equal(b))
}

func TestErrorKindClassification(t *testing.T) {
	err := NewError(KindBackendTransient, "volume poll timed out", nil)
	assert.True(t, IsKind(err, KindBackendTransient))
	assert.False(t, IsKind(err, KindConflict))
	assert.Equal(t, KindBackendTransient, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(assertErr{}))
}

type assertErr struct{}

func (assertErr) Error() string { return "plain error" }
