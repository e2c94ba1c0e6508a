/*
Package metrics provides Prometheus instrumentation for the control
service and convergence agent, plus the health/readiness/liveness HTTP
handlers both processes expose alongside the metrics endpoint.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│  Prometheus Registry (MustRegister at package init)       │
	│                                                            │
	│  Collector ── ticks ──► StateSource / SessionSource       │
	│  (control service)       (pkg/clusterstate, pkg/control)  │
	│                                                            │
	│  Gauges set by Collector:  datasets, containers, nodes    │
	│  Counters/histograms set inline by the emitting package:  │
	│  broadcasts, node state updates, reconciliation cycles,   │
	│  discrepancies, actions, reconnects, API requests         │
	└────────────────────────────────────────────────────────────┘

# Cluster gauges

Collector snapshots cluster state on an interval (default 15s) and sets:

  - flocker_nodes_connected: agents with a live session, from
    control.Service.SessionCount.
  - flocker_datasets_total{deleted}: datasets observed across all nodes'
    manifestations, split by tombstone state.
  - flocker_containers_total{state}: observed containers by lifecycle
    state (running, failed, exited).
  - flocker_non_manifest_datasets_total: datasets present on a backend
    but not attached to any node.

# Control service counters

pkg/control increments these inline as it runs its event loop:

  - flocker_broadcasts_total{trigger}: one of "config_change",
    "node_state", "new_session", matching the three triggers in the
    broadcast policy.
  - flocker_broadcast_latency_seconds: time to snapshot configuration
    and state and send ClusterStatus to every connected agent.
  - flocker_node_state_updates_total: NodeState deliveries received.

# Convergence agent counters

pkg/agent increments these inline during its convergence loop:

  - flocker_reconciliation_cycles_total /
    flocker_reconciliation_cycle_duration_seconds: one per loop
    iteration, whether or not an action was taken.
  - flocker_discrepancies_total{kind}: size of the most recent diff,
    broken down by the eight discrepancy kinds of the convergence loop.
  - flocker_actions_total{kind,outcome}: one increment per action
    attempted, outcome is "success" or "failure".
  - flocker_reconnects_total: agent-to-control reconnects via the
    pkg/wire dialer's backoff loop.

# Volume driver histograms

Two per-operation volume driver metrics are registered:

  - flocker_volume_poll_latency_seconds{operation}
  - flocker_volume_operations_total{operation,outcome}

pkg/blockdevice does not record into either of them.

# REST API

pkg/restapi records flocker_api_requests_total{method,status} and
flocker_api_request_duration_seconds{method} from middleware wrapping
every handler.

# Health endpoints

health.go is independent of the metric types above: RegisterComponent /
UpdateComponent track named component health (e.g. "configstore",
"engine", "restapi", "wire"); HealthHandler, ReadyHandler and
LivenessHandler expose /health, /ready and /live. Each binary calls
SetCriticalComponents once at startup with the components its own
startup sequence registers — flocker-control requires configstore,
restapi and wire; flocker-agent requires engine and wire — so
readiness reflects what that process actually depends on rather than
a fixed list shared by both.
*/
package metrics
