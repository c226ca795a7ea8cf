// Package fsdriver wraps the copy-on-write filesystem (ZFS) operations
// the Snapshot/Clone Driver needs: dataset lifecycle, snapshots,
// clones, mounts and usage queries. All names are normalized against
// pool/base/name before being handed to the zfs/zpool binaries.
package fsdriver

import (
	"context"
	"fmt"
	"time"
)

// SnapshotInfo describes one filesystem snapshot.
type SnapshotInfo struct {
	Name      string // fully qualified dataset@label
	Dataset   string
	Label     string
	CreatedAt time.Time
}

// Driver abstracts the primitives of spec §4.C over a copy-on-write
// block store. Implementations must normalize short names against
// pool/base/name themselves.
type Driver interface {
	ListPools(ctx context.Context) ([]string, error)
	PoolExists(ctx context.Context, pool string) (bool, error)
	CreateDataset(ctx context.Context, name string, props map[string]string) error
	DatasetExists(ctx context.Context, name string) (bool, error)
	ListDatasets(ctx context.Context) ([]string, error)
	DestroyDataset(ctx context.Context, name string, recursive bool) error
	MountDataset(ctx context.Context, name string) error
	UnmountDataset(ctx context.Context, name string) error
	GetMountpoint(ctx context.Context, name string) (string, error)
	CreateSnapshot(ctx context.Context, dataset, label string) (string, error)
	DestroySnapshot(ctx context.Context, fqSnap string) error
	ListSnapshots(ctx context.Context, scope string) ([]SnapshotInfo, error)
	CloneSnapshot(ctx context.Context, fqSnap, target string) error
	GetUsedSpace(ctx context.Context, name string) (int64, error)
}

// Error wraps a filesystem-layer failure with the invocation context
// that produced it (spec §4.C: "typed filesystem error with the
// originating invocation context").
type Error struct {
	Op     string
	Target string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("filesystem error: %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(op, target string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Target: target, Err: err}
}
