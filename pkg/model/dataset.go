// Package model defines Flocker's desired-configuration and observed-state
// data schema: datasets, their per-node manifestations, the applications
// that mount them, and the node-level documents that aggregate all of it.
package model

import (
	"sort"
)

// SchemaVersion is the current on-wire schema version of Deployment and
// DeploymentState documents. pkg/codec stamps it into every encoded
// document and refuses to decode a document carrying a newer version.
const SchemaVersion = 1

// Dataset is a persistent data unit, identified by a cluster-unique UUID
// that stays stable across moves between nodes.
type Dataset struct {
	DatasetID string `json:"dataset_id"`

	// MaximumSize is the operator-requested size cap in bytes. Nil means
	// unbounded (the backend's default allocation).
	MaximumSize *int64 `json:"maximum_size,omitempty"`

	// Metadata is an arbitrary string->string annotation map; keys are
	// unique by construction (it's a Go map).
	Metadata map[string]string `json:"metadata,omitempty"`

	// Deleted tombstones the dataset: true once an operator has asked for
	// it to be destroyed. Agents release underlying storage in response;
	// the record itself survives until every manifestation is gone.
	Deleted bool `json:"deleted"`
}

// Copy returns a deep copy so callers can't mutate shared state through a
// returned snapshot.
func (d Dataset) Copy() Dataset {
	cp := d
	if d.MaximumSize != nil {
		size := *d.MaximumSize
		cp.MaximumSize = &size
	}
	if d.Metadata != nil {
		cp.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// Equal reports structural equality.
func (d Dataset) Equal(other Dataset) bool {
	if d.DatasetID != other.DatasetID || d.Deleted != other.Deleted {
		return false
	}
	if (d.MaximumSize == nil) != (other.MaximumSize == nil) {
		return false
	}
	if d.MaximumSize != nil && *d.MaximumSize != *other.MaximumSize {
		return false
	}
	if len(d.Metadata) != len(other.Metadata) {
		return false
	}
	for k, v := range d.Metadata {
		if other.Metadata[k] != v {
			return false
		}
	}
	return true
}

// ManifestationRole distinguishes the authoritative copy of a dataset from
// any (currently unused by this spec, but named for forward compatibility)
// replica role.
type ManifestationRole string

const (
	// RolePrimary is the authoritative manifestation: reads and writes go
	// here. Exactly one primary may exist per live dataset.
	RolePrimary ManifestationRole = "primary"
)

// Manifestation is the placement of a dataset on a node.
type Manifestation struct {
	Dataset Dataset           `json:"dataset"`
	Role    ManifestationRole `json:"role"`
}

// Equal reports structural equality.
func (m Manifestation) Equal(other Manifestation) bool {
	return m.Role == other.Role && m.Dataset.Equal(other.Dataset)
}

// AttachedVolume is a manifestation materialised onto a running
// application at a host mountpoint.
type AttachedVolume struct {
	ManifestationDatasetID string `json:"manifestation_dataset_id"`
	Mountpoint             string `json:"mountpoint"`
}

// Equal reports structural equality.
func (v AttachedVolume) Equal(other AttachedVolume) bool {
	return v == other
}

// SortedMetadataKeys returns Metadata's keys in sorted order, useful for
// deterministic logging/diagnostics.
func SortedMetadataKeys(metadata map[string]string) []string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
