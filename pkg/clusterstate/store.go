// Package clusterstate is the Cluster State Store: an in-memory,
// single-writer aggregation of every node's latest self-reported
// DeploymentState, exposed to readers (the REST API, the control
// service's own broadcast) as one atomic snapshot.
package clusterstate

import (
	"sync"
	"time"

	"github.com/flocker-cluster/flocker/pkg/model"
)

// DefaultTTL is how long a node's reported state is trusted before it
// is dropped from the next snapshot.
const DefaultTTL = 60 * time.Second

type nodeEntry struct {
	state      model.NodeState
	receivedAt time.Time
}

// Store is the single in-memory home for observed cluster state. The
// control service's event loop is its only writer; readers call
// AsDeploymentState for a consistent snapshot.
type Store struct {
	mu                  sync.RWMutex
	ttl                 time.Duration
	nodes               map[string]nodeEntry
	nonManifestDatasets model.NonManifestDatasets
}

// New creates an empty Store with the given TTL (use DefaultTTL unless
// a test needs a tighter window).
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{ttl: ttl, nodes: make(map[string]nodeEntry)}
}

// ApplyNodeState merges a freshly received NodeState, replacing
// whatever was previously held for that node (last-writer-wins by
// arrival order).
func (s *Store) ApplyNodeState(state model.NodeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[state.NodeUUID] = nodeEntry{state: state.Copy(), receivedAt: time.Now()}
}

// ApplyNonManifestDatasets replaces the single global non-manifest
// dataset slot.
func (s *Store) ApplyNonManifestDatasets(datasets model.NonManifestDatasets) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonManifestDatasets = datasets.Copy()
}

// Expire drops any node entry whose last update is older than the
// store's TTL. The control service calls this on its own tick; an
// expired node is simply absent from the next AsDeploymentState
// snapshot, equivalent to "replaced with unknown".
func (s *Store) Expire(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, entry := range s.nodes {
		if now.Sub(entry.receivedAt) > s.ttl {
			expired = append(expired, id)
			delete(s.nodes, id)
		}
	}
	return expired
}

// AsDeploymentState returns a deep-copied, point-in-time snapshot of
// every non-expired node's state plus the current non-manifest dataset
// set.
func (s *Store) AsDeploymentState() model.DeploymentState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := model.NewDeploymentState()
	for id, entry := range s.nodes {
		out.Nodes[id] = entry.state.Copy()
	}
	out.NonManifestDatasets = s.nonManifestDatasets.Copy()
	return out
}

// NodeCount reports how many non-expired nodes are currently tracked.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}
