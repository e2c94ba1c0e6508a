// Package snapshot is the Filesystem-Snapshot interface: taking and
// enumerating point-in-time snapshots of a dataset's backing filesystem,
// used by the convergence agent when handing a dataset's primary role
// to another node.
package snapshot

import (
	"fmt"
	"strings"
	"time"
)

// nameLayout is the compact UTC timestamp format embedded in every Name.
// It round-trips at nanosecond precision; trailing zeros of the fraction
// are trimmed, so lexical order of encoded names is not always
// chronological, and FilesystemStore.List orders by the parsed timestamp.
const nameLayout = "20060102T150405.999999999Z"

// Name is Flocker's own snapshot naming scheme, grounded on
// original_source/flocker/filesystems/zfs.py's SnapshotName: a
// dataset id plus the instant the snapshot was requested, joined with
// "@" the same way ZFS itself joins a filesystem and a snapshot name.
type Name struct {
	DatasetID string
	Timestamp time.Time
}

// NewName builds a Name for datasetID at the given instant, truncated
// to the precision the on-disk encoding preserves.
func NewName(datasetID string, at time.Time) Name {
	return Name{DatasetID: datasetID, Timestamp: at.UTC()}
}

// Encode renders the name the way it is passed to "zfs snapshot" and
// parsed back out of "zfs list" output.
func (n Name) Encode() string {
	return fmt.Sprintf("%s@%s", n.DatasetID, n.Timestamp.UTC().Format(nameLayout))
}

func (n Name) String() string { return n.Encode() }

// DecodeName parses a string produced by Encode. Any string that does
// not split cleanly into "<dataset-id>@<timestamp>" or whose timestamp
// fails to parse is rejected. FilesystemStore.List does not use it: it
// parses zfs snapshot names with its own "<dataset-id>--<timestamp>"
// form (zfsSnapName).
func DecodeName(raw string) (Name, error) {
	datasetID, stamp, ok := strings.Cut(raw, "@")
	if !ok || datasetID == "" || stamp == "" {
		return Name{}, fmt.Errorf("snapshot: %q is not a flocker snapshot name", raw)
	}
	t, err := time.Parse(nameLayout, stamp)
	if err != nil {
		return Name{}, fmt.Errorf("snapshot: %q has an unparseable timestamp: %w", raw, err)
	}
	return Name{DatasetID: datasetID, Timestamp: t}, nil
}
