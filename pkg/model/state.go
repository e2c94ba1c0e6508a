package model

// ContainerState is the lifecycle state the local container engine
// reports for a running application instance.
type ContainerState string

const (
	ContainerRunning ContainerState = "running"
	ContainerFailed  ContainerState = "failed"
	ContainerExited  ContainerState = "exited"
)

// ObservedContainer is the actually-running counterpart to Application.
type ObservedContainer struct {
	Name        string         `json:"name"`
	Image       string         `json:"image"`
	State       ContainerState `json:"state"`
	ContainerID string         `json:"container_id"`
}

// ObservedManifestation is a manifestation actually present on a node,
// with the host path it's materialised at.
type ObservedManifestation struct {
	Manifestation Manifestation `json:"manifestation"`
	Path          string        `json:"path"`
}

// NodeState is a single node's observed truth at the moment it was
// gathered: the containers actually running, the manifestations actually
// present, and which of those are currently attached to an application.
type NodeState struct {
	NodeUUID       string                  `json:"node_uuid"`
	Containers     []ObservedContainer     `json:"containers,omitempty"`
	Manifestations []ObservedManifestation `json:"manifestations,omitempty"`
}

// Copy returns a deep copy.
func (n NodeState) Copy() NodeState {
	cp := n
	cp.Containers = append([]ObservedContainer(nil), n.Containers...)
	cp.Manifestations = append([]ObservedManifestation(nil), n.Manifestations...)
	return cp
}

// HasManifestation reports whether datasetID is present (in any role) on
// this node.
func (n NodeState) HasManifestation(datasetID string) bool {
	for _, m := range n.Manifestations {
		if m.Manifestation.Dataset.DatasetID == datasetID {
			return true
		}
	}
	return false
}

// NonManifestDatasets is the set of datasets present on a node's storage
// backend but not currently attached to any NodeState manifestation list
// (e.g. a dataset that exists in the volume backend but whose primary
// role moved elsewhere, leaving a dangling copy awaiting cleanup).
type NonManifestDatasets struct {
	Datasets []Dataset `json:"datasets"`
}

// Copy returns a deep copy.
func (n NonManifestDatasets) Copy() NonManifestDatasets {
	cp := NonManifestDatasets{Datasets: make([]Dataset, len(n.Datasets))}
	for i, d := range n.Datasets {
		cp.Datasets[i] = d.Copy()
	}
	return cp
}

// DeploymentState is the observed counterpart to Deployment: the union of
// every node's NodeState, plus the cluster-wide NonManifestDatasets set.
type DeploymentState struct {
	Nodes               map[string]NodeState `json:"nodes"`
	NonManifestDatasets NonManifestDatasets  `json:"non_manifest_datasets"`
}

// NewDeploymentState returns an empty DeploymentState.
func NewDeploymentState() DeploymentState {
	return DeploymentState{Nodes: map[string]NodeState{}}
}

// Copy returns a deep copy.
func (d DeploymentState) Copy() DeploymentState {
	cp := DeploymentState{
		Nodes:               make(map[string]NodeState, len(d.Nodes)),
		NonManifestDatasets: d.NonManifestDatasets.Copy(),
	}
	for id, n := range d.Nodes {
		cp.Nodes[id] = n.Copy()
	}
	return cp
}

// PrimaryNode returns the node UUID whose NodeState currently lists
// datasetID as a primary manifestation, and true, or ("", false).
func (d DeploymentState) PrimaryNode(datasetID string) (string, bool) {
	for _, n := range d.Nodes {
		for _, m := range n.Manifestations {
			if m.Manifestation.Dataset.DatasetID == datasetID && m.Manifestation.Role == RolePrimary {
				return n.NodeUUID, true
			}
		}
	}
	return "", false
}

// PrimaryCount returns how many nodes currently report datasetID as
// primary. This must never exceed 1 for a healthy cluster.
func (d DeploymentState) PrimaryCount(datasetID string) int {
	count := 0
	for _, n := range d.Nodes {
		for _, m := range n.Manifestations {
			if m.Manifestation.Dataset.DatasetID == datasetID && m.Manifestation.Role == RolePrimary {
				count++
			}
		}
	}
	return count
}

// Equal reports structural equality. The control service does not use
// it: it broadcasts on every NodeState delivery.
func (d DeploymentState) Equal(other DeploymentState) bool {
	if len(d.Nodes) != len(other.Nodes) {
		return false
	}
	for id, n := range d.Nodes {
		on, ok := other.Nodes[id]
		if !ok || !nodeStateEqual(n, on) {
			return false
		}
	}
	if len(d.NonManifestDatasets.Datasets) != len(other.NonManifestDatasets.Datasets) {
		return false
	}
	for i, ds := range d.NonManifestDatasets.Datasets {
		if !ds.Equal(other.NonManifestDatasets.Datasets[i]) {
			return false
		}
	}
	return true
}

func nodeStateEqual(a, b NodeState) bool {
	if a.NodeUUID != b.NodeUUID {
		return false
	}
	if len(a.Containers) != len(b.Containers) {
		return false
	}
	for i := range a.Containers {
		if a.Containers[i] != b.Containers[i] {
			return false
		}
	}
	if len(a.Manifestations) != len(b.Manifestations) {
		return false
	}
	for i := range a.Manifestations {
		if a.Manifestations[i].Path != b.Manifestations[i].Path ||
			!a.Manifestations[i].Manifestation.Equal(b.Manifestations[i].Manifestation) {
			return false
		}
	}
	return true
}
