package model

// PortMap is a single internal/external port pairing exposed by an
// application. Externals must be unique within a node.
type PortMap struct {
	Internal int `json:"internal"`
	External int `json:"external"`
}

// Link describes a local/remote port forward to another application,
// reachable under Alias from within the application's container.
type Link struct {
	LocalPort  int    `json:"local_port"`
	RemotePort int    `json:"remote_port"`
	Alias      string `json:"alias"`
}

// EnvironmentVar is a single ordered environment variable entry. A slice
// (rather than a map) preserves ordered-mapping semantics: environment
// variables are applied in declaration order.
type EnvironmentVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ResourceLimits bounds an application's resource consumption.
type ResourceLimits struct {
	MemoryBytes int64 `json:"memory_bytes"`
	CPUShares   int   `json:"cpu_shares"`
}

// Application is a desired container instance.
type Application struct {
	// Name is unique within a node.
	Name string `json:"name"`

	// Image is a repository+tag reference, e.g. "nginx:1.27".
	Image string `json:"image"`

	Ports       []PortMap        `json:"ports,omitempty"`
	Links       []Link           `json:"links,omitempty"`
	Environment []EnvironmentVar `json:"environment,omitempty"`
	Limits      ResourceLimits   `json:"limits"`

	// Volume is the dataset this application mounts, if any.
	Volume *AttachedVolume `json:"volume,omitempty"`
}

// Copy returns a deep copy.
func (a Application) Copy() Application {
	cp := a
	cp.Ports = append([]PortMap(nil), a.Ports...)
	cp.Links = append([]Link(nil), a.Links...)
	cp.Environment = append([]EnvironmentVar(nil), a.Environment...)
	if a.Volume != nil {
		v := *a.Volume
		cp.Volume = &v
	}
	return cp
}

// Equal reports structural equality across name, image, ports, links,
// environment, resource limits and volume. The "stop container"
// discrepancy does not use it: it compares only the observed image, so
// drift in ports, links, environment or limits does not stop a container.
func (a Application) Equal(other Application) bool {
	if a.Name != other.Name || a.Image != other.Image || a.Limits != other.Limits {
		return false
	}
	if (a.Volume == nil) != (other.Volume == nil) {
		return false
	}
	if a.Volume != nil && !a.Volume.Equal(*other.Volume) {
		return false
	}
	if len(a.Ports) != len(other.Ports) {
		return false
	}
	for i := range a.Ports {
		if a.Ports[i] != other.Ports[i] {
			return false
		}
	}
	if len(a.Links) != len(other.Links) {
		return false
	}
	for i := range a.Links {
		if a.Links[i] != other.Links[i] {
			return false
		}
	}
	if len(a.Environment) != len(other.Environment) {
		return false
	}
	for i := range a.Environment {
		if a.Environment[i] != other.Environment[i] {
			return false
		}
	}
	return true
}

// DuplicateExternalPort returns the first external port that appears more
// than once in ports, and true, or (0, false) if there is no duplicate.
func DuplicateExternalPort(ports []PortMap) (int, bool) {
	seen := make(map[int]bool, len(ports))
	for _, p := range ports {
		if seen[p.External] {
			return p.External, true
		}
		seen[p.External] = true
	}
	return 0, false
}
