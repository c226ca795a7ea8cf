/*
Package types defines the branching engine's catalog data model: the
structures persisted to the State Store and passed between
pkg/orchestrator, pkg/catalog, pkg/fsdriver, pkg/container and
pkg/backup.

# Core Types

Project:
  - A logical grouping of branches sharing one container image, one
    certificate directory and one set of database credentials.
    Exactly one of its branches is primary (see Branch.IsPrimary).

Branch:
  - A single writable PostgreSQL instance backed by one copy-on-write
    dataset and one container. Non-primary branches carry a
    ParentBranchID and a SnapshotName recording the origin snapshot
    their dataset was cloned from.
  - BranchState tracks lifecycle: created, running, stopped.

Snapshot:
  - A named point-in-time image of a branch's dataset
    (Reference is the fully qualified "dataset@label").

BackupConfig:
  - The local record of how to reach the optional remote backup
    repository (endpoint, bucket, credentials, local config path).
    The remote store itself is an external collaborator.

Catalog:
  - The complete, persisted state document: every Project, Branch and
    Snapshot, the resolved storage pool and dataset base path, and the
    backup repository configuration if one has been initialized.
    NewCatalog returns an empty, well-formed document; Pool and
    BasePath are filled in on first project creation.

# Usage

Creating a project and its primary branch (as pkg/orchestrator does):

	project := &types.Project{
		ID:        uuid.New().String(),
		Name:      "storefront",
		Image:     "postgres:16",
		CreatedAt: time.Now().UTC(),
	}
	primary := &types.Branch{
		ID:          uuid.New().String(),
		ProjectName: project.Name,
		Name:        project.Name + "/main",
		DatasetName:   types.DatasetName(project.Name + "/main"),
		ContainerName: types.ContainerName(project.Name + "/main"),
		State:         types.BranchStateRunning,
		CreatedAt:   time.Now().UTC(),
	}

# See Also

  - pkg/catalog for the locked, persisted Catalog document
  - pkg/orchestrator for the operations that create and mutate these types
*/
package types
