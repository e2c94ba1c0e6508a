package agent

import (
	"github.com/flocker-cluster/flocker/pkg/blockdevice"
	"github.com/flocker-cluster/flocker/pkg/model"
)

// Kind is one of the eight discrepancy categories the convergence loop
// resolves, in priority order (lower value resolves first).
type Kind int

const (
	KindStopContainer Kind = iota + 1
	KindDetachVolume
	KindDestroyDataset
	KindHandoffPrimary
	KindReceivePrimary
	KindCreateDataset
	KindAttachVolume
	KindStartContainer
)

func (k Kind) String() string {
	switch k {
	case KindStopContainer:
		return "stop_container"
	case KindDetachVolume:
		return "detach_volume"
	case KindDestroyDataset:
		return "destroy_dataset"
	case KindHandoffPrimary:
		return "handoff_primary"
	case KindReceivePrimary:
		return "receive_primary"
	case KindCreateDataset:
		return "create_dataset"
	case KindAttachVolume:
		return "attach_volume"
	case KindStartContainer:
		return "start_container"
	default:
		return "unknown"
	}
}

// Discrepancy is one unit of work the convergence loop can act on. Only
// the fields relevant to Kind are populated.
type Discrepancy struct {
	Kind           Kind
	ContainerName  string
	Application    model.Application
	DatasetID      string
	VolumeID       string
	TargetNodeUUID string
}

// Observation is everything the diff needs about this node's actual
// state, gathered fresh every tick by the agent's observe step.
type Observation struct {
	NodeState model.NodeState
	Volumes   []blockdevice.BlockDeviceVolume
	InstanceID string
}

func (o Observation) volumeByDataset(datasetID string) (blockdevice.BlockDeviceVolume, bool) {
	for _, v := range o.Volumes {
		if v.DatasetID == datasetID {
			return v, true
		}
	}
	return blockdevice.BlockDeviceVolume{}, false
}

func (o Observation) attachedLocally(v blockdevice.BlockDeviceVolume) bool {
	return v.AttachedTo != nil && *v.AttachedTo == o.InstanceID
}

func datasetLiveAnywhere(state model.DeploymentState, datasetID string) bool {
	for _, node := range state.Nodes {
		if node.HasManifestation(datasetID) {
			return true
		}
	}
	for _, ds := range state.NonManifestDatasets.Datasets {
		if ds.DatasetID == datasetID {
			return true
		}
	}
	return false
}

// Diagnose computes the full set of discrepancies between what nodeUUID
// is observed to be running/holding and what deployment says it should
// be, classified into the fixed discrepancy-kind taxonomy below. state is
// the last cluster-wide ClusterStatus snapshot, used to locate datasets
// and primaries this node does not itself hold. The returned slice is in
// no particular order; Next picks the highest-priority entry.
func Diagnose(nodeUUID string, deployment model.Deployment, state model.DeploymentState, obs Observation) []Discrepancy {
	desired := deployment.Node(nodeUUID)
	var out []Discrepancy

	// 1. Stop container: running locally but not desired, or image drifted.
	for _, c := range obs.NodeState.Containers {
		app, ok := desired.ApplicationByName(c.Name)
		if !ok || app.Image != c.Image {
			out = append(out, Discrepancy{Kind: KindStopContainer, ContainerName: c.Name})
		}
	}

	// 2. Detach volume: attached here but no longer desired here.
	for _, v := range obs.Volumes {
		if !obs.attachedLocally(v) {
			continue
		}
		if _, primaryHere := desired.PrimaryManifestation(v.DatasetID); !primaryHere {
			out = append(out, Discrepancy{Kind: KindDetachVolume, DatasetID: v.DatasetID, VolumeID: v.VolumeID})
		}
	}

	// 3. Destroy dataset: tombstoned in desired config and present locally
	// (as a manifestation or a volume attached to this host).
	for _, m := range desired.Manifestations {
		if !m.Dataset.Deleted {
			continue
		}
		if obs.NodeState.HasManifestation(m.Dataset.DatasetID) {
			d := Discrepancy{Kind: KindDestroyDataset, DatasetID: m.Dataset.DatasetID}
			if v, ok := obs.volumeByDataset(m.Dataset.DatasetID); ok {
				d.VolumeID = v.VolumeID
			}
			out = append(out, d)
			continue
		}
		if v, ok := obs.volumeByDataset(m.Dataset.DatasetID); ok && obs.attachedLocally(v) {
			out = append(out, Discrepancy{Kind: KindDestroyDataset, DatasetID: m.Dataset.DatasetID, VolumeID: v.VolumeID})
		}
	}

	// 4. Handoff primary: this node currently holds the primary, but the
	// desired primary has moved elsewhere.
	for _, m := range obs.NodeState.Manifestations {
		if m.Manifestation.Role != model.RolePrimary {
			continue
		}
		datasetID := m.Manifestation.Dataset.DatasetID
		if target, ok := deployment.PrimaryNode(datasetID); ok && target != nodeUUID {
			out = append(out, Discrepancy{Kind: KindHandoffPrimary, DatasetID: datasetID, TargetNodeUUID: target})
		}
	}

	// 5. Receive primary: desired primary is here, but cluster state still
	// shows it live on a different node.
	for _, m := range desired.Manifestations {
		if m.Role != model.RolePrimary {
			continue
		}
		datasetID := m.Dataset.DatasetID
		if current, ok := state.PrimaryNode(datasetID); ok && current != nodeUUID {
			out = append(out, Discrepancy{Kind: KindReceivePrimary, DatasetID: datasetID, TargetNodeUUID: current})
		}
	}

	// 6. Create dataset: desired here, and neither the cluster state (any
	// node's manifestations or the non-manifest set) nor this host's own
	// volume listing has it yet.
	for _, m := range desired.Manifestations {
		if m.Role != model.RolePrimary || m.Dataset.Deleted {
			continue
		}
		if datasetLiveAnywhere(state, m.Dataset.DatasetID) {
			continue
		}
		if _, ok := obs.volumeByDataset(m.Dataset.DatasetID); ok {
			continue
		}
		out = append(out, Discrepancy{Kind: KindCreateDataset, DatasetID: m.Dataset.DatasetID})
	}

	// 7. Attach volume: primary desired here, volume already exists, but
	// not yet attached to this host.
	for _, m := range desired.Manifestations {
		if m.Role != model.RolePrimary || m.Dataset.Deleted {
			continue
		}
		v, ok := obs.volumeByDataset(m.Dataset.DatasetID)
		if !ok || obs.attachedLocally(v) {
			continue
		}
		out = append(out, Discrepancy{Kind: KindAttachVolume, DatasetID: m.Dataset.DatasetID, VolumeID: v.VolumeID})
	}

	// 8. Start container: desired but not observed running. Safety
	// invariant: never start a container whose volume isn't attached yet.
	for _, app := range desired.Applications {
		if containerRunning(obs.NodeState, app.Name) {
			continue
		}
		if app.Volume != nil {
			v, ok := obs.volumeByDataset(app.Volume.ManifestationDatasetID)
			if !ok || !obs.attachedLocally(v) {
				continue
			}
		}
		out = append(out, Discrepancy{Kind: KindStartContainer, ContainerName: app.Name, Application: app})
	}

	return out
}

func containerRunning(state model.NodeState, name string) bool {
	for _, c := range state.Containers {
		if c.Name == name && c.State == model.ContainerRunning {
			return true
		}
	}
	return false
}

// Next returns the highest-priority (lowest Kind) discrepancy to act on,
// and true, or the zero value and false if discrepancies is empty: the
// loop performs exactly one action per tick, the smallest-priority one
// applicable.
func Next(discrepancies []Discrepancy) (Discrepancy, bool) {
	if len(discrepancies) == 0 {
		return Discrepancy{}, false
	}
	best := discrepancies[0]
	for _, d := range discrepancies[1:] {
		if d.Kind < best.Kind {
			best = d
		}
	}
	return best, true
}
