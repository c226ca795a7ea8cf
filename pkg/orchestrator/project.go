package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/pgd/pkg/catalog"
	"github.com/cuemby/pgd/pkg/container"
	"github.com/cuemby/pgd/pkg/engineerr"
	"github.com/cuemby/pgd/pkg/types"
)

// detectPool auto-detects the copy-on-write storage pool the first
// time a catalog has none recorded: exactly one present pool is used
// automatically, zero is an error, more than one requires an explicit
// override.
func (o *Orchestrator) detectPool(ctx context.Context, override string) (string, error) {
	if override != "" {
		exists, err := o.fs.PoolExists(ctx, override)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", engineerr.User(fmt.Sprintf("storage pool %q does not exist", override), nil)
		}
		return override, nil
	}

	pools, err := o.fs.ListPools(ctx)
	if err != nil {
		return "", err
	}
	switch len(pools) {
	case 0:
		return "", engineerr.UserHint("no storage pool found", "create a pool or pass --pool explicitly", nil)
	case 1:
		return pools[0], nil
	default:
		return "", engineerr.UserHint(fmt.Sprintf("%d storage pools found", len(pools)), "pass --pool to select one", nil)
	}
}

// CreateProject auto-initializes the catalog's pool on first call,
// then runs project creation as a rollback-journaled protocol:
// credentials, root dataset, container, health, persistence.
func (o *Orchestrator) CreateProject(ctx context.Context, name, image, poolOverride string) (*types.Project, error) {
	if !types.ValidComponent(name) {
		return nil, engineerr.User(fmt.Sprintf("invalid project name %q", name), nil)
	}
	if image == "" {
		image = o.cfg.DefaultImage
	}

	var created *types.Project
	err := o.store.WithLock(ctx, func(c *types.Catalog) (*types.Catalog, error) {
		if _, exists := c.Projects[name]; exists {
			return nil, engineerr.User(fmt.Sprintf("project %q already exists", name), nil)
		}

		if c.Pool == "" {
			pool, err := o.detectPool(ctx, poolOverride)
			if err != nil {
				return nil, err
			}
			c.Pool = pool
			c.BasePath = types.NamePrefix
		}

		j := newJournal(o.logger)
		namespacedName := types.NamespacedName(name, types.PrimaryBranchName)
		datasetName := types.DatasetName(namespacedName)
		containerName := types.ContainerName(namespacedName)

		password := uuid.NewString()
		encryptedPass, err := o.secretsMgr.Encrypt([]byte(password))
		if err != nil {
			return nil, engineerr.System("encrypt project credentials", err)
		}

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

		certDir, err := provisionTLSDir(o.cfg.DataBaseDir, name)
		if err != nil {
			j.unwind(ctx)
			return nil, err
		}

		archivePath, err := o.wal.EnsureArchiveDir(datasetName)
		if err != nil {
			j.unwind(ctx)
			return nil, err
		}

		exists, err := o.containers.ImageExists(ctx, image)
		if err != nil {
			j.unwind(ctx)
			return nil, err
		}
		if !exists {
			if err := o.containers.PullImage(ctx, image); err != nil {
				j.unwind(ctx)
				return nil, err
			}
		}

		spec := container.Spec{
			Name:  containerName,
			Image: image,
			Env:   credentialEnv("postgres", name, password),
			DataMount: container.Mount{Source: mountpoint, Destination: "/var/lib/postgresql/data"},
			WALMount:  container.Mount{Source: archivePath, Destination: "/var/lib/postgresql/wal-archive"},
			CertMount: container.Mount{Source: certDir, Destination: "/var/lib/postgresql/certs", ReadOnly: true},
			ContainerPort: o.cfg.ContainerPort,
		}
		port, err := o.containers.Create(ctx, spec)
		if err != nil {
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

		now := time.Now().UTC()
		project := &types.Project{
			ID:      newID(),
			Name:    name,
			Image:   image,
			CertDir: certDir,
			Credentials: types.Credentials{
				User:          "postgres",
				Database:      name,
				EncryptedPass: encryptedPass,
			},
			CreatedAt: now,
		}
		primary := &types.Branch{
			ID:            newID(),
			ProjectName:   name,
			Name:          namespacedName,
			DatasetName:   datasetName,
			ContainerName: containerName,
			Port:          port,
			State:         types.BranchStateRunning,
			CreatedAt:     now,
		}

		catalog.PutProject(c, project)
		catalog.PutBranch(c, primary)
		created = project
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteProject deletes every branch of the project (primary last)
// then the project record and its TLS material.
func (o *Orchestrator) DeleteProject(ctx context.Context, name string, force bool) error {
	return o.store.WithLock(ctx, func(c *types.Catalog) (*types.Catalog, error) {
		project, err := catalog.GetProject(c, name)
		if err != nil {
			return nil, err
		}

		branches := catalog.ListBranchesForProject(c, name)
		if len(branches) > 1 && !force {
			return nil, engineerr.UserHint(
				fmt.Sprintf("project %q has %d branches", name, len(branches)),
				"pass --force to delete the project and all its branches",
				nil,
			)
		}

		var primary *types.Branch
		for _, b := range branches {
			if b.IsPrimary() {
				primary = b
				continue
			}
			if err := o.destroyBranchResources(ctx, c, b); err != nil {
				return nil, err
			}
			catalog.DeleteBranch(c, b.Name)
		}
		if primary != nil {
			if err := o.destroyBranchResources(ctx, c, primary); err != nil {
				return nil, err
			}
			catalog.DeleteBranch(c, primary.Name)
		}

		if err := removeTLSDir(project.CertDir); err != nil {
			o.logger.Warn().Err(err).Str("project", name).Msg("failed to remove TLS directory, continuing")
		}
		catalog.DeleteProject(c, name)
		return c, nil
	})
}
