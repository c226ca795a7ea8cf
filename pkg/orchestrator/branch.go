package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/pgd/pkg/catalog"
	"github.com/cuemby/pgd/pkg/container"
	"github.com/cuemby/pgd/pkg/engineerr"
	"github.com/cuemby/pgd/pkg/types"
)

const checkpointUser = "postgres"

// selectOriginSnapshot implements phase 1 of createBranch: either
// locate the newest snapshot strictly older than a PITR target, or
// take a fresh one, checkpointing first if the source is running.
func (o *Orchestrator) selectOriginSnapshot(ctx context.Context, c *types.Catalog, source *types.Branch, pitr *time.Time, j *journal) (*types.Snapshot, error) {
	if pitr != nil {
		candidates := catalog.ListSnapshotsForBranch(c, source.Name) // newest first
		for _, snap := range candidates {
			if snap.CreatedAt.Before(*pitr) {
				return snap, nil
			}
		}
		return nil, engineerr.UserHint(
			fmt.Sprintf("no snapshot of %s older than the requested recovery time", source.Name),
			"create an earlier snapshot or choose a later recovery time",
			nil,
		)
	}

	if source.State == types.BranchStateRunning {
		if _, err := o.containers.ExecSQL(ctx, source.ContainerName, "CHECKPOINT", checkpointUser); err != nil {
			return nil, err
		}
	}
	label := fmt.Sprintf("br-%d", time.Now().UTC().UnixNano())
	fqSnap, err := o.fs.CreateSnapshot(ctx, source.DatasetName, label)
	if err != nil {
		return nil, err
	}
	j.push(func(ctx context.Context) error { return o.fs.DestroySnapshot(ctx, fqSnap) })

	snap := &types.Snapshot{
		ID:         newID(),
		BranchName: source.Name,
		Reference:  fqSnap,
		Label:      label,
		CreatedAt:  time.Now().UTC(),
	}
	catalog.PutSnapshot(c, snap)
	return snap, nil
}

// CreateBranch runs the eight-phase protocol of spec §4.A against
// target, cloning from sourceOverride (default the project's primary)
// or, if pitr is set, recovering to that point in time.
func (o *Orchestrator) CreateBranch(ctx context.Context, target, sourceOverride string, pitr *time.Time) (*types.Branch, error) {
	targetProject, _, err := types.SplitNamespacedName(target)
	if err != nil {
		return nil, engineerr.User(err.Error(), err)
	}

	var created *types.Branch
	err = o.store.WithLock(ctx, func(c *types.Catalog) (*types.Catalog, error) {
		if _, exists := c.Branches[target]; exists {
			return nil, engineerr.User(fmt.Sprintf("branch %q already exists", target), nil)
		}

		sourceName := sourceOverride
		if sourceName == "" {
			sourceName = types.NamespacedName(targetProject, types.PrimaryBranchName)
		}
		source, err := catalog.GetBranch(c, sourceName)
		if err != nil {
			return nil, err
		}
		sourceProject, _, err := types.SplitNamespacedName(sourceName)
		if err != nil {
			return nil, engineerr.User(err.Error(), err)
		}
		if sourceProject != targetProject {
			return nil, engineerr.User(fmt.Sprintf("source %q and target %q do not share a project", sourceName, target), nil)
		}
		project, err := catalog.GetProject(c, targetProject)
		if err != nil {
			return nil, err
		}

		j := newJournal(o.logger)

		// Phase 1: select origin snapshot.
		snap, err := o.selectOriginSnapshot(ctx, c, source, pitr, j)
		if err != nil {
			j.unwind(ctx)
			return nil, err
		}

		datasetName := types.DatasetName(target)
		containerName := types.ContainerName(target)

		// Phase 2: clone.
		if err := o.fs.CloneSnapshot(ctx, snap.Reference, datasetName); err != nil {
			j.unwind(ctx)
			return nil, err
		}
		j.push(func(ctx context.Context) error { return o.fs.DestroyDataset(ctx, datasetName, true) })

		// Phase 3: mount.
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

		// Phase 4: WAL archive directory.
		archivePath, err := o.wal.EnsureArchiveDir(datasetName)
		if err != nil {
			j.unwind(ctx)
			return nil, err
		}

		// Phase 5: PITR recovery configuration, sourced from the
		// parent's (source's) archive directory.
		if pitr != nil {
			sourceArchivePath := o.wal.GetArchivePath(source.DatasetName)
			if err := o.wal.SetupPITRecovery(mountpoint, sourceArchivePath, *pitr); err != nil {
				j.unwind(ctx)
				return nil, err
			}
		}

		// Phase 6: create container.
		password, err := o.decryptPassword(project)
		if err != nil {
			j.unwind(ctx)
			return nil, err
		}
		spec := container.Spec{
			Name:  containerName,
			Image: project.Image,
			Env:   credentialEnv(project.Credentials.User, project.Credentials.Database, password),
			DataMount: container.Mount{Source: mountpoint, Destination: "/var/lib/postgresql/data"},
			WALMount:  container.Mount{Source: archivePath, Destination: "/var/lib/postgresql/wal-archive"},
			CertMount: container.Mount{Source: project.CertDir, Destination: "/var/lib/postgresql/certs", ReadOnly: true},
			ContainerPort: o.cfg.ContainerPort,
		}
		if _, err := o.containers.Create(ctx, spec); err != nil {
			j.unwind(ctx)
			return nil, err
		}
		j.push(func(ctx context.Context) error { return o.containers.Remove(ctx, containerName, true) })

		// Phase 7: start, wait healthy.
		if err := o.containers.Start(ctx, containerName); err != nil {
			j.unwind(ctx)
			return nil, err
		}
		timeout := o.cfg.HealthTimeout
		if pitr != nil {
			timeout = o.cfg.PITRTimeout
		}
		healthCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := o.containers.WaitHealthy(healthCtx, containerName, timeout); err != nil {
			j.unwind(ctx)
			return nil, err
		}

		// Phase 8: read port, persist.
		port, err := o.containers.GetPort(ctx, containerName)
		if err != nil {
			j.unwind(ctx)
			return nil, err
		}

		branch := &types.Branch{
			ID:             newID(),
			ProjectName:    targetProject,
			Name:           target,
			ParentBranchID: source.ID,
			SnapshotName:   snap.Reference,
			DatasetName:    datasetName,
			ContainerName:  containerName,
			Port:           port,
			State:          types.BranchStateRunning,
			CreatedAt:      time.Now().UTC(),
		}
		catalog.PutBranch(c, branch)
		created = branch
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// decryptPassword recovers a project's plaintext credential password
// for the duration of one container-spec build; never persisted.
func (o *Orchestrator) decryptPassword(p *types.Project) (string, error) {
	plain, err := o.secretsMgr.Decrypt(p.Credentials.EncryptedPass)
	if err != nil {
		return "", engineerr.System("decrypt project credentials", err)
	}
	return string(plain), nil
}

// DeleteBranch refuses to delete the primary directly (use
// DeleteProject) and, without force, refuses if the branch has
// dependents.
func (o *Orchestrator) DeleteBranch(ctx context.Context, name string, force bool) error {
	return o.store.WithLock(ctx, func(c *types.Catalog) (*types.Catalog, error) {
		branch, err := catalog.GetBranch(c, name)
		if err != nil {
			return nil, err
		}
		if branch.IsPrimary() {
			return nil, engineerr.UserHint(
				fmt.Sprintf("%q is the primary branch", name),
				"delete the project instead to remove its primary branch",
				nil,
			)
		}

		descendants := postOrderDescendants(c, branch.ID)
		if len(descendants) > 0 && !force {
			return nil, engineerr.UserHint(
				fmt.Sprintf("branch %q has %d descendant branches", name, len(descendants)),
				"pass --force to delete them as well",
				nil,
			)
		}

		for _, d := range descendants {
			if err := o.destroyBranchResources(ctx, c, d); err != nil {
				return nil, err
			}
			catalog.DeleteBranch(c, d.Name)
		}
		if err := o.destroyBranchResources(ctx, c, branch); err != nil {
			return nil, err
		}
		catalog.DeleteBranch(c, branch.Name)
		return c, nil
	})
}

// StartBranch starts a branch's container if not already running and
// re-reads its (possibly changed) port. Idempotent.
func (o *Orchestrator) StartBranch(ctx context.Context, name string) error {
	return o.store.WithLock(ctx, func(c *types.Catalog) (*types.Catalog, error) {
		branch, err := catalog.GetBranch(c, name)
		if err != nil {
			return nil, err
		}
		if branch.State == types.BranchStateRunning {
			return nil, nil
		}
		if err := o.containers.Start(ctx, branch.ContainerName); err != nil {
			return nil, err
		}
		healthCtx, cancel := context.WithTimeout(ctx, o.cfg.HealthTimeout)
		defer cancel()
		if err := o.containers.WaitHealthy(healthCtx, branch.ContainerName, o.cfg.HealthTimeout); err != nil {
			return nil, err
		}
		port, err := o.containers.GetPort(ctx, branch.ContainerName)
		if err != nil {
			return nil, err
		}
		branch.Port = port
		branch.State = types.BranchStateRunning
		catalog.PutBranch(c, branch)
		return c, nil
	})
}

// StopBranch stops a branch's container. Idempotent.
func (o *Orchestrator) StopBranch(ctx context.Context, name string) error {
	return o.store.WithLock(ctx, func(c *types.Catalog) (*types.Catalog, error) {
		branch, err := catalog.GetBranch(c, name)
		if err != nil {
			return nil, err
		}
		if branch.State == types.BranchStateStopped {
			return nil, nil
		}
		if err := o.containers.Stop(ctx, branch.ContainerName, o.cfg.StopTimeout); err != nil {
			return nil, err
		}
		branch.State = types.BranchStateStopped
		branch.Port = 0
		catalog.PutBranch(c, branch)
		return c, nil
	})
}

// RestartBranch restarts a branch's container, re-reading its port.
func (o *Orchestrator) RestartBranch(ctx context.Context, name string) error {
	return o.store.WithLock(ctx, func(c *types.Catalog) (*types.Catalog, error) {
		branch, err := catalog.GetBranch(c, name)
		if err != nil {
			return nil, err
		}
		if err := o.containers.Restart(ctx, branch.ContainerName, o.cfg.StopTimeout); err != nil {
			return nil, err
		}
		healthCtx, cancel := context.WithTimeout(ctx, o.cfg.HealthTimeout)
		defer cancel()
		if err := o.containers.WaitHealthy(healthCtx, branch.ContainerName, o.cfg.HealthTimeout); err != nil {
			return nil, err
		}
		port, err := o.containers.GetPort(ctx, branch.ContainerName)
		if err != nil {
			return nil, err
		}
		branch.Port = port
		branch.State = types.BranchStateRunning
		catalog.PutBranch(c, branch)
		return c, nil
	})
}

// SyncBranch rebuilds a branch against the current state of its
// parent, refusing the primary and, without force, refusing when the
// branch has dependents.
func (o *Orchestrator) SyncBranch(ctx context.Context, name string, force bool) error {
	return o.rebuildBranch(ctx, name, false, force)
}

// ResetBranch rebuilds a branch from its own original origin
// snapshot rather than a fresh parent snapshot.
func (o *Orchestrator) ResetBranch(ctx context.Context, name string) error {
	return o.rebuildBranch(ctx, name, true, false)
}

// rebuildBranch is the shared implementation behind SyncBranch and
// ResetBranch: both stop and remove the branch's own container and
// dataset, take or reuse an origin snapshot, clone it back into the
// same dataset name, and restart.
func (o *Orchestrator) rebuildBranch(ctx context.Context, name string, reuseSnapshot bool, force bool) error {
	return o.store.WithLock(ctx, func(c *types.Catalog) (*types.Catalog, error) {
		branch, err := catalog.GetBranch(c, name)
		if err != nil {
			return nil, err
		}
		if branch.IsPrimary() {
			return nil, engineerr.User(fmt.Sprintf("%q is the primary branch and has no parent to rebuild from", name), nil)
		}

		dependents := catalog.ChildBranches(c, branch.ID)
		if len(dependents) > 0 && !force {
			return nil, engineerr.UserHint(
				fmt.Sprintf("branch %q has %d dependent branches", name, len(dependents)),
				"pass --force to destroy them as well",
				nil,
			)
		}
		for _, dep := range postOrderDescendants(c, branch.ID) {
			if err := o.destroyBranchResources(ctx, c, dep); err != nil {
				return nil, err
			}
			catalog.DeleteBranch(c, dep.Name)
		}

		j := newJournal(o.logger)

		var parent *types.Branch
		if !reuseSnapshot {
			for _, b := range c.Branches {
				if b.ID == branch.ParentBranchID {
					parent = b
					break
				}
			}
			if parent == nil {
				return nil, engineerr.Invariant(fmt.Sprintf("branch %q has no resolvable parent", name), nil)
			}
		}

		if err := o.containers.Stop(ctx, branch.ContainerName, o.cfg.StopTimeout); err != nil {
			return nil, err
		}
		if err := o.containers.Remove(ctx, branch.ContainerName, true); err != nil {
			return nil, err
		}
		if err := o.fs.UnmountDataset(ctx, branch.DatasetName); err != nil {
			return nil, err
		}
		if err := o.fs.DestroyDataset(ctx, branch.DatasetName, true); err != nil {
			return nil, err
		}

		var fqSnap string
		if reuseSnapshot {
			fqSnap = branch.SnapshotName
		} else {
			if parent.State == types.BranchStateRunning {
				if _, err := o.containers.ExecSQL(ctx, parent.ContainerName, "CHECKPOINT", checkpointUser); err != nil {
					return nil, err
				}
			}
			label := fmt.Sprintf("br-%d", time.Now().UTC().UnixNano())
			snap, err := o.fs.CreateSnapshot(ctx, parent.DatasetName, label)
			if err != nil {
				return nil, err
			}
			fqSnap = snap
			catalog.PutSnapshot(c, &types.Snapshot{
				ID: newID(), BranchName: parent.Name, Reference: snap, Label: label, CreatedAt: time.Now().UTC(),
			})
		}

		if err := o.fs.CloneSnapshot(ctx, fqSnap, branch.DatasetName); err != nil {
			j.unwind(ctx)
			return nil, err
		}
		if err := o.fs.MountDataset(ctx, branch.DatasetName); err != nil {
			return nil, err
		}
		mountpoint, err := o.fs.GetMountpoint(ctx, branch.DatasetName)
		if err != nil {
			return nil, err
		}

		project, err := catalog.GetProject(c, branch.ProjectName)
		if err != nil {
			return nil, err
		}
		password, err := o.decryptPassword(project)
		if err != nil {
			return nil, err
		}
		archivePath, err := o.wal.EnsureArchiveDir(branch.DatasetName)
		if err != nil {
			return nil, err
		}
		spec := container.Spec{
			Name:  branch.ContainerName,
			Image: project.Image,
			Env:   credentialEnv(project.Credentials.User, project.Credentials.Database, password),
			DataMount: container.Mount{Source: mountpoint, Destination: "/var/lib/postgresql/data"},
			WALMount:  container.Mount{Source: archivePath, Destination: "/var/lib/postgresql/wal-archive"},
			CertMount: container.Mount{Source: project.CertDir, Destination: "/var/lib/postgresql/certs", ReadOnly: true},
			ContainerPort: o.cfg.ContainerPort,
		}
		if _, err := o.containers.Create(ctx, spec); err != nil {
			return nil, err
		}
		if err := o.containers.Start(ctx, branch.ContainerName); err != nil {
			return nil, err
		}
		healthCtx, cancel := context.WithTimeout(ctx, o.cfg.HealthTimeout)
		defer cancel()
		if err := o.containers.WaitHealthy(healthCtx, branch.ContainerName, o.cfg.HealthTimeout); err != nil {
			return nil, err
		}
		port, err := o.containers.GetPort(ctx, branch.ContainerName)
		if err != nil {
			return nil, err
		}

		branch.SnapshotName = fqSnap
		branch.Port = port
		branch.State = types.BranchStateRunning
		catalog.PutBranch(c, branch)
		return c, nil
	})
}
