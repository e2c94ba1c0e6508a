// Package config loads startup configuration for the control service and
// convergence agent from environment variables: cluster identifier, CA
// materials path, listening addresses, and the rest. There is no global
// config singleton: Load returns a value that callers thread through
// explicit constructor arguments rather than a process-level resource
// reached for out of a global.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Control holds everything cmd/flocker-control needs to start.
type Control struct {
	// ClusterID seeds the at-rest encryption key for the cluster CA's
	// root key (security.DeriveKeyFromClusterID).
	ClusterID string

	// DataDir holds the configuration store and its persisted
	// Deployment document.
	DataDir string

	// WireAddr is the agent<->control pkg/wire listen address.
	WireAddr string

	// RESTAddr is the pkg/restapi HTTPS listen address.
	RESTAddr string

	// CADir holds the root CA's own certificate material, separate from
	// DataDir so it can be backed up/rotated independently.
	CADir string

	// NodeStateTTL is the Cluster State Store per-node expiry window.
	NodeStateTTL time.Duration

	// RESTRateLimit is the operator request rate limit, requests/sec per
	// pkg/restapi's rate-limiting middleware. Zero disables limiting.
	RESTRateLimit float64

	LogLevel string
	LogJSON  bool
}

// Agent holds everything cmd/flocker-agent needs to start.
type Agent struct {
	// NodeUUID is this agent's canonical identity: a stable UUID rather
	// than its network address, which can change across restarts.
	NodeUUID string

	// ClusterID tags every volume this node's blockdevice.Driver creates
	// for tenant isolation, matching the same cluster the control
	// service's CA was initialized with.
	ClusterID string

	// ControlAddr is the control service's pkg/wire listen address to
	// dial.
	ControlAddr string

	// DataDir holds this node's certificate material
	// (node.crt/node.key/ca.crt) and its loopback volume store.
	DataDir string

	// ContainerdSocket is the containerd socket pkg/engine dials. Empty
	// means the platform default (/run/containerd/containerd.sock).
	ContainerdSocket string

	// SnapshotPool is the ZFS pool (or pool/dataset path) pkg/snapshot's
	// FilesystemStore runs zfs(8) against, e.g. "flocker".
	SnapshotPool string

	// TickInterval is the convergence loop's periodic tick (default 5s).
	TickInterval time.Duration

	LogLevel string
	LogJSON  bool
}

const (
	envClusterID        = "FLOCKER_CLUSTER_ID"
	envDataDir          = "FLOCKER_DATA_DIR"
	envControlAddr      = "FLOCKER_CONTROL_ADDR"
	envRESTAddr         = "FLOCKER_REST_ADDR"
	envCADir            = "FLOCKER_CA_DIR"
	envNodeStateTTL     = "FLOCKER_NODE_STATE_TTL"
	envRESTRateLimit    = "FLOCKER_REST_RATE_LIMIT"
	envNodeUUID         = "FLOCKER_NODE_UUID"
	envContainerdSocket = "FLOCKER_CONTAINERD_SOCKET"
	envSnapshotPool     = "FLOCKER_SNAPSHOT_POOL"
	envTickInterval     = "FLOCKER_TICK_INTERVAL"
	envLogLevel         = "FLOCKER_LOG_LEVEL"
	envLogJSON          = "FLOCKER_LOG_JSON"

	defaultDataDir          = "/var/lib/flocker"
	defaultControlAddr      = "0.0.0.0:4524"
	defaultRESTAddr         = "0.0.0.0:4523"
	defaultNodeStateTTL     = 60 * time.Second
	defaultRESTRateLimit    = 20.0
	defaultContainerdSocket = "/run/containerd/containerd.sock"
	defaultSnapshotPool     = "flocker"
	defaultTickInterval     = 5 * time.Second
	defaultLogLevel         = "info"
)

// LoadControl reads Control configuration from the environment.
// FLOCKER_CLUSTER_ID is required; every other variable has a default.
func LoadControl() (Control, error) {
	clusterID := os.Getenv(envClusterID)
	if clusterID == "" {
		return Control{}, fmt.Errorf("config: %s is required", envClusterID)
	}

	dataDir := envOr(envDataDir, defaultDataDir)
	ttl, err := envDuration(envNodeStateTTL, defaultNodeStateTTL)
	if err != nil {
		return Control{}, err
	}
	rateLimit, err := envFloat(envRESTRateLimit, defaultRESTRateLimit)
	if err != nil {
		return Control{}, err
	}

	return Control{
		ClusterID:     clusterID,
		DataDir:       dataDir,
		WireAddr:      envOr(envControlAddr, defaultControlAddr),
		RESTAddr:      envOr(envRESTAddr, defaultRESTAddr),
		CADir:         envOr(envCADir, filepath.Join(dataDir, "ca")),
		NodeStateTTL:  ttl,
		RESTRateLimit: rateLimit,
		LogLevel:      envOr(envLogLevel, defaultLogLevel),
		LogJSON:       envBool(envLogJSON, false),
	}, nil
}

// LoadAgent reads Agent configuration from the environment.
// FLOCKER_NODE_UUID, FLOCKER_CLUSTER_ID and FLOCKER_CONTROL_ADDR are
// required.
func LoadAgent() (Agent, error) {
	nodeUUID := os.Getenv(envNodeUUID)
	if nodeUUID == "" {
		return Agent{}, fmt.Errorf("config: %s is required", envNodeUUID)
	}
	clusterID := os.Getenv(envClusterID)
	if clusterID == "" {
		return Agent{}, fmt.Errorf("config: %s is required", envClusterID)
	}
	controlAddr := os.Getenv(envControlAddr)
	if controlAddr == "" {
		return Agent{}, fmt.Errorf("config: %s is required", envControlAddr)
	}

	tick, err := envDuration(envTickInterval, defaultTickInterval)
	if err != nil {
		return Agent{}, err
	}

	return Agent{
		NodeUUID:         nodeUUID,
		ClusterID:        clusterID,
		ControlAddr:      controlAddr,
		DataDir:          envOr(envDataDir, defaultDataDir),
		ContainerdSocket: envOr(envContainerdSocket, defaultContainerdSocket),
		SnapshotPool:     envOr(envSnapshotPool, defaultSnapshotPool),
		TickInterval:     tick,
		LogLevel:         envOr(envLogLevel, defaultLogLevel),
		LogJSON:          envBool(envLogJSON, false),
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: invalid duration %q: %w", key, v, err)
	}
	return d, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: invalid number %q: %w", key, v, err)
	}
	return f, nil
}
