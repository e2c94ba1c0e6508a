package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster-wide gauges, refreshed by Collector off the control
	// service's own cluster state snapshot.
	NodesConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flocker_nodes_connected",
			Help: "Number of agents currently connected to the control service",
		},
	)

	DatasetsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flocker_datasets_total",
			Help: "Total number of datasets known to the cluster, by tombstone state",
		},
		[]string{"deleted"},
	)

	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flocker_containers_total",
			Help: "Total number of observed containers across the cluster, by state",
		},
		[]string{"state"},
	)

	NonManifestDatasetsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flocker_non_manifest_datasets_total",
			Help: "Number of datasets present on a backend but not attached to any node's reported manifestations",
		},
	)

	// REST API metrics.
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flocker_api_requests_total",
			Help: "Total number of REST API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flocker_api_request_duration_seconds",
			Help:    "REST API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Control service broadcast metrics.
	BroadcastLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flocker_broadcast_latency_seconds",
			Help:    "Time taken to snapshot and send ClusterStatus to connected agents",
			Buckets: prometheus.DefBuckets,
		},
	)

	BroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flocker_broadcasts_total",
			Help: "Total number of ClusterStatus broadcasts sent, by trigger",
		},
		[]string{"trigger"},
	)

	NodeStateUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flocker_node_state_updates_total",
			Help: "Total number of NodeState deliveries received by the control service",
		},
	)

	// Convergence agent metrics, for the diff-and-act loop.
	ReconciliationCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flocker_reconciliation_cycle_duration_seconds",
			Help:    "Time taken for one convergence loop iteration (diff plus at most one action)",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flocker_reconciliation_cycles_total",
			Help: "Total number of convergence loop iterations completed",
		},
	)

	DiscrepanciesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flocker_discrepancies_total",
			Help: "Number of discrepancies found in the most recent diff, by kind",
		},
		[]string{"kind"},
	)

	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flocker_actions_total",
			Help: "Total number of convergence actions executed, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// Block-volume driver metrics, for the volume-backend poll loop.
	VolumePollLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flocker_volume_poll_latency_seconds",
			Help:    "Time spent waiting for a volume backend operation to reach the expected status",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"operation"},
	)

	VolumeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flocker_volume_operations_total",
			Help: "Total number of block-volume driver operations, by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// Reconnect backoff metrics for the agent-control RPC dialer.
	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flocker_reconnects_total",
			Help: "Total number of times the agent has reconnected to the control service",
		},
	)
)

func init() {
	prometheus.MustRegister(
		NodesConnected,
		DatasetsTotal,
		ContainersTotal,
		NonManifestDatasetsTotal,
		APIRequestsTotal,
		APIRequestDuration,
		BroadcastLatency,
		BroadcastsTotal,
		NodeStateUpdatesTotal,
		ReconciliationCycleDuration,
		ReconciliationCyclesTotal,
		DiscrepanciesTotal,
		ActionsTotal,
		VolumePollLatency,
		VolumeOperationsTotal,
		ReconnectsTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall-clock time for histogram observations.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
