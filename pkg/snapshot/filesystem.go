package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/flocker-cluster/flocker/pkg/model"
)

// FilesystemStore is a Store backed by the zfs(8) command line tool,
// grounded on original_source/flocker/filesystems/zfs.py's ZFSSnapshots:
// the same two subcommands (snapshot, list -H -r -t snapshot), run
// synchronously instead of over a Twisted ProcessEndpoint since this
// agent has no reactor to hand.
type FilesystemStore struct {
	pool string
	// runCommand is overridable in tests; it defaults to exec.CommandContext.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewFilesystemStore returns a Store backed by the named ZFS pool (or
// pool/dataset path), e.g. "flocker".
func NewFilesystemStore(pool string) *FilesystemStore {
	return &FilesystemStore{pool: pool, runCommand: runZFS}
}

func runZFS(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &commandError{exitErr: err, stderr: stderr.String()}
	}
	return stdout.Bytes(), nil
}

type commandError struct {
	exitErr error
	stderr  string
}

func (e *commandError) Error() string {
	msg := e.exitErr.Error()
	if e.stderr != "" {
		msg += ": " + strings.TrimSpace(e.stderr)
	}
	return msg
}

func (e *commandError) Unwrap() error { return e.exitErr }

// noPoolMarker matches zfs's complaint when the named pool or dataset
// does not exist. "no pool" is treated as "no datasets" rather than a
// fatal error, per the Open Question about freshly-provisioned nodes
// that have not yet created their Flocker pool.
const noPoolMarker = "dataset does not exist"

// zfsSnapName renders a Name the way it is passed as the snapshot half
// of zfs's "filesystem@snapname" argument. It deliberately avoids "@" so
// the argument contains exactly one, keeping it unambiguous regardless
// of how strict a given zfs build is about the delimiter.
func zfsSnapName(n Name) string {
	return n.DatasetID + "--" + n.Timestamp.UTC().Format(nameLayout)
}

func parseZFSSnapName(raw string) (Name, error) {
	datasetID, stamp, ok := strings.Cut(raw, "--")
	if !ok || datasetID == "" || stamp == "" {
		return Name{}, fmt.Errorf("snapshot: %q is not a flocker snapshot name", raw)
	}
	t, err := time.Parse(nameLayout, stamp)
	if err != nil {
		return Name{}, fmt.Errorf("snapshot: %q has an unparseable timestamp: %w", raw, err)
	}
	return Name{DatasetID: datasetID, Timestamp: t}, nil
}

func (s *FilesystemStore) Create(ctx context.Context, name Name) error {
	arg := s.pool + "@" + zfsSnapName(name)
	_, err := s.runCommand(ctx, "zfs", "snapshot", arg)
	if err != nil {
		if strings.Contains(err.Error(), "dataset already exists") {
			return nil
		}
		return model.NewError(model.KindBackendTransient, "snapshot: zfs snapshot "+arg, err)
	}
	return nil
}

func (s *FilesystemStore) List(ctx context.Context) ([]Name, error) {
	out, err := s.runCommand(ctx, "zfs", "list", "-H", "-r", "-t", "snapshot", "-o", "name", "-s", "name", s.pool)
	if err != nil {
		if strings.Contains(err.Error(), noPoolMarker) {
			return nil, nil
		}
		return nil, model.NewError(model.KindBackendTransient, "snapshot: zfs list "+s.pool, err)
	}

	var names []Name
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		fsPool, snap, ok := strings.Cut(line, "@")
		if !ok || fsPool != s.pool {
			continue
		}
		name, err := parseZFSSnapName(snap)
		if err != nil {
			continue // foreign snapshot sharing this pool, not ours
		}
		names = append(names, name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		return names[i].Timestamp.Before(names[j].Timestamp)
	})
	return names, nil
}

var _ Store = (*FilesystemStore)(nil)
