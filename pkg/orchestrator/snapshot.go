package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/pgd/pkg/catalog"
	"github.com/cuemby/pgd/pkg/types"
)

// CreateSnapshot takes an explicit, labeled snapshot of a branch's
// dataset, checkpointing first if the branch is running.
func (o *Orchestrator) CreateSnapshot(ctx context.Context, branchName, label string) (*types.Snapshot, error) {
	var created *types.Snapshot
	err := o.store.WithLock(ctx, func(c *types.Catalog) (*types.Catalog, error) {
		branch, err := catalog.GetBranch(c, branchName)
		if err != nil {
			return nil, err
		}
		if label == "" {
			label = fmt.Sprintf("snap-%d", time.Now().UTC().UnixNano())
		}
		if branch.State == types.BranchStateRunning {
			if _, err := o.containers.ExecSQL(ctx, branch.ContainerName, "CHECKPOINT", checkpointUser); err != nil {
				return nil, err
			}
		}
		fqSnap, err := o.fs.CreateSnapshot(ctx, branch.DatasetName, label)
		if err != nil {
			return nil, err
		}
		snap := &types.Snapshot{
			ID:         newID(),
			BranchName: branch.Name,
			Reference:  fqSnap,
			Label:      label,
			CreatedAt:  time.Now().UTC(),
		}
		catalog.PutSnapshot(c, snap)
		created = snap
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ListSnapshots returns every snapshot, or only those of one branch
// if scope is non-empty.
func (o *Orchestrator) ListSnapshots(ctx context.Context, scope string) ([]*types.Snapshot, error) {
	c, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	if scope == "" {
		out := make([]*types.Snapshot, 0, len(c.Snapshots))
		for _, s := range c.Snapshots {
			out = append(out, s)
		}
		return out, nil
	}
	return catalog.ListSnapshotsForBranch(c, scope), nil
}

// DeleteSnapshot removes a snapshot from both the filesystem and the
// catalog.
func (o *Orchestrator) DeleteSnapshot(ctx context.Context, id string) error {
	return o.store.WithLock(ctx, func(c *types.Catalog) (*types.Catalog, error) {
		snap, err := catalog.GetSnapshot(c, id)
		if err != nil {
			return nil, err
		}
		if err := o.fs.DestroySnapshot(ctx, snap.Reference); err != nil {
			return nil, err
		}
		catalog.DeleteSnapshot(c, id)
		return c, nil
	})
}

// CleanupSnapshots deletes snapshots older than days within scope (or
// the whole catalog if scope is empty), returning the count removed.
// dryRun reports the count without deleting.
func (o *Orchestrator) CleanupSnapshots(ctx context.Context, scope string, days int, dryRun bool) (int, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	removed := 0
	err := o.store.WithLock(ctx, func(c *types.Catalog) (*types.Catalog, error) {
		var candidates []*types.Snapshot
		if scope == "" {
			for _, s := range c.Snapshots {
				candidates = append(candidates, s)
			}
		} else {
			candidates = catalog.ListSnapshotsForBranch(c, scope)
		}

		for _, snap := range candidates {
			if !snap.CreatedAt.Before(cutoff) {
				continue
			}
			if dryRun {
				removed++
				continue
			}
			if err := o.fs.DestroySnapshot(ctx, snap.Reference); err != nil {
				return nil, err
			}
			catalog.DeleteSnapshot(c, snap.ID)
			removed++
		}
		if dryRun {
			return nil, nil
		}
		return c, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
