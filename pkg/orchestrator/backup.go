package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/pgd/pkg/backup"
	"github.com/cuemby/pgd/pkg/catalog"
	"github.com/cuemby/pgd/pkg/container"
	"github.com/cuemby/pgd/pkg/engineerr"
	"github.com/cuemby/pgd/pkg/types"
)

// requireBackupRepo fails loudly rather than silently no-op-ing when
// no `backup init` has run yet.
func (o *Orchestrator) requireBackupRepo() (backup.Repo, error) {
	if o.backupRepo == nil {
		return nil, engineerr.UserHint("no backup repository configured", "run `backup init` first", nil)
	}
	return o.backupRepo, nil
}

// InitBackup provisions the repository described by cfg, persists it
// to both its own local config document and the catalog, and attaches
// it to this orchestrator.
func (o *Orchestrator) InitBackup(ctx context.Context, cfg *types.BackupConfig) error {
	repo, err := backup.NewLocalRepo(cfg.RepositoryPrefix)
	if err != nil {
		return err
	}
	if err := backup.SaveConfig(cfg); err != nil {
		return err
	}
	if err := o.store.WithLock(ctx, func(c *types.Catalog) (*types.Catalog, error) {
		c.BackupConfig = cfg
		return c, nil
	}); err != nil {
		return err
	}
	o.SetBackupRepo(repo)
	return nil
}

// PushBackup ships a branch's mounted data tree (and, if requested,
// its WAL archive tree) to the backup repository, tagged by branch,
// dataset, snapshot and payload type.
func (o *Orchestrator) PushBackup(ctx context.Context, branchName string, includeWAL bool) ([]backup.Entry, error) {
	repo, err := o.requireBackupRepo()
	if err != nil {
		return nil, err
	}
	c, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	branch, err := catalog.GetBranch(c, branchName)
	if err != nil {
		return nil, err
	}

	mountpoint, err := o.fs.GetMountpoint(ctx, branch.DatasetName)
	if err != nil {
		return nil, err
	}

	var entries []backup.Entry
	dataTag := backup.Tag{Branch: branch.Name, Dataset: branch.DatasetName, Snapshot: branch.SnapshotName, Type: backup.DataPayload}
	dataEntry, err := repo.Push(ctx, dataTag, mountpoint)
	if err != nil {
		return nil, err
	}
	entries = append(entries, dataEntry)

	if includeWAL {
		walPath := o.wal.GetArchivePath(branch.DatasetName)
		walTag := backup.Tag{Branch: branch.Name, Dataset: branch.DatasetName, Snapshot: branch.SnapshotName, Type: backup.WALPayload}
		walEntry, err := repo.Push(ctx, walTag, walPath)
		if err != nil {
			return entries, err
		}
		entries = append(entries, walEntry)
	}
	return entries, nil
}

// PullBackup is the inverse of PushBackup: it materializes the tagged
// content into a fresh dataset for branchName and rebuilds the
// container on top of it. branchName must not already exist.
func (o *Orchestrator) PullBackup(ctx context.Context, branchName, snapshot string, includeWAL bool) error {
	repo, err := o.requireBackupRepo()
	if err != nil {
		return err
	}

	targetProject, _, err := types.SplitNamespacedName(branchName)
	if err != nil {
		return engineerr.User(err.Error(), err)
	}

	return o.store.WithLock(ctx, func(c *types.Catalog) (*types.Catalog, error) {
		if _, exists := c.Branches[branchName]; exists {
			return nil, engineerr.User(fmt.Sprintf("branch %q already exists", branchName), nil)
		}
		project, err := catalog.GetProject(c, targetProject)
		if err != nil {
			return nil, err
		}

		j := newJournal(o.logger)
		datasetName := types.DatasetName(branchName)
		containerName := types.ContainerName(branchName)

		if err := o.fs.CreateDataset(ctx, datasetName, nil); err != nil {
			return nil, err
		}
		j.push(func(ctx context.Context) error { return o.fs.DestroyDataset(ctx, datasetName, true) })

		if err := o.fs.MountDataset(ctx, datasetName); err != nil {
			j.unwind(ctx)
			return nil, err
		}
		j.push(func(ctx context.Context) error { return o.fs.UnmountDataset(ctx, datasetName) })

		mountpoint, err := o.fs.GetMountpoint(ctx, datasetName)
		if err != nil {
			j.unwind(ctx)
			return nil, err
		}

		dataTag := backup.Tag{Branch: branchName, Dataset: datasetName, Snapshot: snapshot, Type: backup.DataPayload}
		if err := repo.Pull(ctx, dataTag, mountpoint); err != nil {
			j.unwind(ctx)
			return nil, err
		}

		archivePath, err := o.wal.EnsureArchiveDir(datasetName)
		if err != nil {
			j.unwind(ctx)
			return nil, err
		}
		if includeWAL {
			walTag := backup.Tag{Branch: branchName, Dataset: datasetName, Snapshot: snapshot, Type: backup.WALPayload}
			if err := repo.Pull(ctx, walTag, archivePath); err != nil {
				j.unwind(ctx)
				return nil, err
			}
		}

		password, err := o.decryptPassword(project)
		if err != nil {
			j.unwind(ctx)
			return nil, err
		}
		spec := container.Spec{
			Name:          containerName,
			Image:         project.Image,
			Env:           credentialEnv(project.Credentials.User, project.Credentials.Database, password),
			DataMount:     container.Mount{Source: mountpoint, Destination: "/var/lib/postgresql/data"},
			WALMount:      container.Mount{Source: archivePath, Destination: "/var/lib/postgresql/wal-archive"},
			CertMount:     container.Mount{Source: project.CertDir, Destination: "/var/lib/postgresql/certs", ReadOnly: true},
			ContainerPort: o.cfg.ContainerPort,
		}
		if _, err := o.containers.Create(ctx, spec); err != nil {
			j.unwind(ctx)
			return nil, err
		}
		j.push(func(ctx context.Context) error { return o.containers.Remove(ctx, containerName, true) })

		if err := o.containers.Start(ctx, containerName); err != nil {
			j.unwind(ctx)
			return nil, err
		}
		healthCtx, cancel := context.WithTimeout(ctx, o.cfg.HealthTimeout)
		defer cancel()
		if err := o.containers.WaitHealthy(healthCtx, containerName, o.cfg.HealthTimeout); err != nil {
			j.unwind(ctx)
			return nil, err
		}

		port, err := o.containers.GetPort(ctx, containerName)
		if err != nil {
			j.unwind(ctx)
			return nil, err
		}

		var parentID string
		if primary, err := catalog.PrimaryBranch(c, targetProject); err == nil {
			parentID = primary.ID
		}
		branch := &types.Branch{
			ID:             newID(),
			ProjectName:    targetProject,
			Name:           branchName,
			ParentBranchID: parentID,
			SnapshotName:   snapshot,
			DatasetName:    datasetName,
			ContainerName:  containerName,
			Port:           port,
			State:          types.BranchStateRunning,
			CreatedAt:      time.Now().UTC(),
		}
		catalog.PutBranch(c, branch)
		return c, nil
	})
}

// ListBackups returns every entry in the repository.
func (o *Orchestrator) ListBackups(ctx context.Context) ([]backup.Entry, error) {
	repo, err := o.requireBackupRepo()
	if err != nil {
		return nil, err
	}
	return repo.List(ctx)
}

// CleanupBackups removes repository entries older than days.
func (o *Orchestrator) CleanupBackups(ctx context.Context, days int) (int, error) {
	repo, err := o.requireBackupRepo()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	return repo.Cleanup(ctx, cutoff)
}
