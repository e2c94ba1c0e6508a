package metrics

import (
	"strconv"
	"time"

	"github.com/flocker-cluster/flocker/pkg/model"
)

// StateSource is the minimal view of cluster state the collector needs.
// pkg/clusterstate.Store satisfies this.
type StateSource interface {
	AsDeploymentState() model.DeploymentState
}

// SessionSource reports how many agents currently hold a live session.
// pkg/control.Service satisfies this.
type SessionSource interface {
	SessionCount() int
}

// Collector periodically snapshots cluster state into the gauges in
// metrics.go. It is driven by the control service process; the agent
// process has no equivalent collector since its state is local and
// already observed every tick by the convergence loop.
type Collector struct {
	state    StateSource
	sessions SessionSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a Collector that snapshots state every interval.
// A non-positive interval defaults to 15 seconds.
func NewCollector(state StateSource, sessions SessionSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{state: state, sessions: sessions, interval: interval, stopCh: make(chan struct{})}
}

// Start begins the collection loop in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collection loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	NodesConnected.Set(float64(c.sessions.SessionCount()))

	snapshot := c.state.AsDeploymentState()

	containerCounts := make(map[model.ContainerState]int)
	for _, node := range snapshot.Nodes {
		for _, container := range node.Containers {
			containerCounts[container.State]++
		}
	}
	for state, count := range containerCounts {
		ContainersTotal.WithLabelValues(string(state)).Set(float64(count))
	}

	datasetCounts := map[bool]int{}
	for _, node := range snapshot.Nodes {
		for _, m := range node.Manifestations {
			datasetCounts[m.Manifestation.Dataset.Deleted]++
		}
	}
	for deleted, count := range datasetCounts {
		DatasetsTotal.WithLabelValues(strconv.FormatBool(deleted)).Set(float64(count))
	}

	NonManifestDatasetsTotal.Set(float64(len(snapshot.NonManifestDatasets.Datasets)))
}
