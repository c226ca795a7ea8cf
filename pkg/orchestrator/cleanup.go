package orchestrator

import (
	"context"

	"github.com/cuemby/pgd/pkg/types"
)

// OrphanReport lists datasets and containers present in the external
// systems with no corresponding catalog record, plus catalog branch
// records whose container has independently vanished.
type OrphanReport struct {
	OrphanDatasets   []string
	OrphanContainers []string
	DanglingBranches []string
}

// DetectOrphans reconciles the catalog against reality: every dataset
// directly under the pool/base namespace and every container carrying
// the tool's name prefix is enumerated and checked against the
// catalog's branch records (spec §4.A: "enumerate ... all datasets
// under the base path and all containers with the tool's prefix; an
// orphan is one with no corresponding catalog record"). A snapshot-less
// clone — e.g. a crash between CloneSnapshot and container start —
// has no entry in ListSnapshots, so dataset orphans must be found by
// listing datasets directly rather than inferring them from snapshots.
func (o *Orchestrator) DetectOrphans(ctx context.Context) (*OrphanReport, error) {
	c, err := o.store.Load()
	if err != nil {
		return nil, err
	}

	knownDatasets := make(map[string]bool, len(c.Branches))
	knownContainers := make(map[string]bool, len(c.Branches))
	for _, b := range c.Branches {
		knownDatasets[b.DatasetName] = true
		knownContainers[b.ContainerName] = true
	}

	report := &OrphanReport{}

	datasets, err := o.fs.ListDatasets(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range datasets {
		if !knownDatasets[d] {
			report.OrphanDatasets = append(report.OrphanDatasets, d)
		}
	}

	containers, err := o.containers.ListContainers(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range containers {
		if !knownContainers[name] {
			report.OrphanContainers = append(report.OrphanContainers, name)
		}
	}

	// The reverse direction: a branch record whose container has
	// vanished out from under it (engine-crash recovery, spec §9 "no
	// long-running daemon") leaves a dangling catalog row that isn't
	// itself an orphan resource, but still needs reconciling so P7's
	// "no dangling catalog rows" holds.
	for name, branch := range c.Branches {
		exists, err := o.containers.GetByName(ctx, branch.ContainerName)
		if err != nil {
			continue
		}
		if !exists {
			report.DanglingBranches = append(report.DanglingBranches, name)
		}
	}

	return report, nil
}

// Cleanup runs DetectOrphans and, if force is set, reconciles what it
// finds: unmount+destroy orphan datasets, force-remove orphan
// containers, and clear the catalog record of any branch whose
// container has vanished out from under it. dryRun reports without
// acting, which is also Cleanup's behavior whenever force is false.
func (o *Orchestrator) Cleanup(ctx context.Context, dryRun, force bool) (*OrphanReport, error) {
	report, err := o.DetectOrphans(ctx)
	if err != nil {
		return nil, err
	}
	if dryRun || !force {
		return report, nil
	}

	for _, dataset := range report.OrphanDatasets {
		if err := o.fs.UnmountDataset(ctx, dataset); err != nil {
			o.logger.Warn().Err(err).Str("dataset", dataset).Msg("failed to unmount orphan dataset, continuing")
		}
		if err := o.fs.DestroyDataset(ctx, dataset, true); err != nil {
			o.logger.Warn().Err(err).Str("dataset", dataset).Msg("failed to destroy orphan dataset, continuing")
		}
	}

	for _, name := range report.OrphanContainers {
		if err := o.containers.Remove(ctx, name, true); err != nil {
			o.logger.Warn().Err(err).Str("container", name).Msg("failed to remove orphan container, continuing")
		}
	}

	if len(report.DanglingBranches) > 0 {
		if err := o.store.WithLock(ctx, func(c *types.Catalog) (*types.Catalog, error) {
			for _, name := range report.DanglingBranches {
				delete(c.Branches, name)
			}
			return c, nil
		}); err != nil {
			return report, err
		}
	}

	return report, nil
}
