package orchestrator

import (
	"context"

	"github.com/cuemby/pgd/pkg/catalog"
	"github.com/cuemby/pgd/pkg/wal"
)

// WALReport bundles a branch's archive statistics with any
// integrity gaps detected in its segment sequence.
type WALReport struct {
	Info wal.Info
	Gaps []string
}

// WALInfo reports the archive statistics and integrity gaps for one
// branch's WAL archive directory.
func (o *Orchestrator) WALInfo(ctx context.Context, branchName string) (*WALReport, error) {
	c, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	branch, err := catalog.GetBranch(c, branchName)
	if err != nil {
		return nil, err
	}

	info, err := o.wal.GetArchiveInfo(branch.DatasetName)
	if err != nil {
		return nil, err
	}
	gaps, err := o.wal.VerifyArchiveIntegrity(branch.DatasetName)
	if err != nil {
		return nil, err
	}
	return &WALReport{Info: info, Gaps: gaps}, nil
}

// CleanupWAL unlinks a branch's WAL segments older than days,
// defaulting to the engine's configured retention when days is zero.
func (o *Orchestrator) CleanupWAL(ctx context.Context, branchName string, days int) (int, error) {
	if days <= 0 {
		days = o.cfg.RetentionDays
	}
	c, err := o.store.Load()
	if err != nil {
		return 0, err
	}
	branch, err := catalog.GetBranch(c, branchName)
	if err != nil {
		return 0, err
	}
	return o.wal.CleanupOldWALs(branch.DatasetName, days)
}
