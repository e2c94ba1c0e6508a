package model

// NodeConfig is the desired configuration for a single node: the
// applications that should run there and the dataset manifestations it
// should hold.
type NodeConfig struct {
	NodeUUID       string          `json:"node_uuid"`
	Address        string          `json:"address"`
	Applications   []Application   `json:"applications,omitempty"`
	Manifestations []Manifestation `json:"manifestations,omitempty"`
}

// Copy returns a deep copy.
func (n NodeConfig) Copy() NodeConfig {
	cp := n
	cp.Applications = make([]Application, len(n.Applications))
	for i, a := range n.Applications {
		cp.Applications[i] = a.Copy()
	}
	cp.Manifestations = append([]Manifestation(nil), n.Manifestations...)
	return cp
}

// ApplicationByName returns the named application and true, or the zero
// value and false.
func (n NodeConfig) ApplicationByName(name string) (Application, bool) {
	for _, a := range n.Applications {
		if a.Name == name {
			return a, true
		}
	}
	return Application{}, false
}

// PrimaryManifestation returns the manifestation for datasetID on this
// node, if it holds the primary.
func (n NodeConfig) PrimaryManifestation(datasetID string) (Manifestation, bool) {
	for _, m := range n.Manifestations {
		if m.Dataset.DatasetID == datasetID && m.Role == RolePrimary {
			return m, true
		}
	}
	return Manifestation{}, false
}

// Deployment is the cluster-wide desired configuration: a schema version
// plus one NodeConfig per known node.
type Deployment struct {
	Version int                   `json:"version"`
	Nodes   map[string]NodeConfig `json:"nodes"`
}

// NewDeployment returns an empty Deployment at the current schema version.
func NewDeployment() Deployment {
	return Deployment{Version: SchemaVersion, Nodes: map[string]NodeConfig{}}
}

// Copy returns a deep copy.
func (d Deployment) Copy() Deployment {
	cp := Deployment{Version: d.Version, Nodes: make(map[string]NodeConfig, len(d.Nodes))}
	for id, n := range d.Nodes {
		cp.Nodes[id] = n.Copy()
	}
	return cp
}

// Node returns the NodeConfig for nodeUUID, or an empty NodeConfig with
// that UUID set if the node has no configuration yet (a node with no
// applications and no manifestations still converges cleanly against an
// empty NodeConfig).
func (d Deployment) Node(nodeUUID string) NodeConfig {
	if n, ok := d.Nodes[nodeUUID]; ok {
		return n
	}
	return NodeConfig{NodeUUID: nodeUUID}
}

// PrimaryNode returns the node UUID holding the primary manifestation of
// datasetID, and true, or ("", false) if no node currently has it
// configured as primary.
func (d Deployment) PrimaryNode(datasetID string) (string, bool) {
	for _, n := range d.Nodes {
		if _, ok := n.PrimaryManifestation(datasetID); ok {
			return n.NodeUUID, true
		}
	}
	return "", false
}

// Equal reports structural equality.
func (d Deployment) Equal(other Deployment) bool {
	if d.Version != other.Version || len(d.Nodes) != len(other.Nodes) {
		return false
	}
	for id, n := range d.Nodes {
		on, ok := other.Nodes[id]
		if !ok || n.NodeUUID != on.NodeUUID || n.Address != on.Address {
			return false
		}
		if len(n.Applications) != len(on.Applications) {
			return false
		}
		for i := range n.Applications {
			if !n.Applications[i].Equal(on.Applications[i]) {
				return false
			}
		}
		if len(n.Manifestations) != len(on.Manifestations) {
			return false
		}
		for i := range n.Manifestations {
			if !n.Manifestations[i].Equal(on.Manifestations[i]) {
				return false
			}
		}
	}
	return true
}
