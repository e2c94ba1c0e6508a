package metrics

import (
	"testing"
	"time"

	"github.com/flocker-cluster/flocker/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func testGaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		panic(err)
	}
	return m.GetGauge().GetValue()
}

type fakeStateSource struct {
	state model.DeploymentState
}

func (f fakeStateSource) AsDeploymentState() model.DeploymentState { return f.state }

type fakeSessionSource struct {
	count int
}

func (f fakeSessionSource) SessionCount() int { return f.count }

func TestCollectorCollectSetsGauges(t *testing.T) {
	state := model.NewDeploymentState()
	state.Nodes["node-a"] = model.NodeState{
		NodeUUID: "node-a",
		Containers: []model.ObservedContainer{
			{Name: "web", State: model.ContainerRunning},
		},
		Manifestations: []model.ObservedManifestation{
			{Manifestation: model.Manifestation{Dataset: model.Dataset{DatasetID: "ds-1"}, Role: model.RolePrimary}},
		},
	}
	state.NonManifestDatasets = model.NonManifestDatasets{Datasets: []model.Dataset{{DatasetID: "ds-orphan"}}}

	c := NewCollector(fakeStateSource{state: state}, fakeSessionSource{count: 3}, time.Hour)

	// collect is unexported but called by Start; exercise it directly
	// via the same package to confirm it does not panic against a
	// populated snapshot.
	c.collect()

	if got := testGaugeValue(NodesConnected); got != 3 {
		t.Fatalf("NodesConnected = %v, want 3", got)
	}
	if got := testGaugeValue(NonManifestDatasetsTotal); got != 1 {
		t.Fatalf("NonManifestDatasetsTotal = %v, want 1", got)
	}
}

func TestCollectorStartStop(t *testing.T) {
	c := NewCollector(fakeStateSource{state: model.NewDeploymentState()}, fakeSessionSource{}, time.Millisecond)
	c.Start()
	time.Sleep(5 * time.Millisecond)
	c.Stop()
}
