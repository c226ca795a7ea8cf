package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/pgd/pkg/catalog"
	"github.com/cuemby/pgd/pkg/engineerr"
	"github.com/cuemby/pgd/pkg/types"
)

// credentialEnv builds the container environment variables carrying
// the project's database credentials and the in-container data
// directory path.
func credentialEnv(user, database, password string) []string {
	return []string{
		"POSTGRES_USER=" + user,
		"POSTGRES_DB=" + database,
		"POSTGRES_PASSWORD=" + password,
		"PGDATA=/var/lib/postgresql/data",
	}
}

// provisionTLSDir creates (if absent) a project's certificate
// directory. Certificate *generation* is out of scope; the directory
// is handed to the Container Driver as an opaque read-only bind mount.
func provisionTLSDir(baseDir, project string) (string, error) {
	dir := filepath.Join(baseDir, "certs", project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", engineerr.System(fmt.Sprintf("create TLS directory for %s", project), err)
	}
	return dir, nil
}

// removeTLSDir removes a project's certificate directory. Tolerates
// an already-missing directory, the same "recover from partial prior
// failure" posture as dataset/container teardown.
func removeTLSDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return engineerr.System("remove TLS directory", err)
	}
	return nil
}

// destroyBranchResources tears down everything deleteBranch/
// deleteProject need to remove for one branch: container, WAL archive
// directory, snapshots, dataset. Tolerates already-missing external
// resources so it can safely run again after a partial prior failure.
func (o *Orchestrator) destroyBranchResources(ctx context.Context, c *types.Catalog, b *types.Branch) error {
	if exists, err := o.containers.GetByName(ctx, b.ContainerName); err != nil {
		return err
	} else if exists {
		if err := o.containers.Remove(ctx, b.ContainerName, true); err != nil {
			return err
		}
	}

	archivePath := o.wal.GetArchivePath(b.DatasetName)
	if err := os.RemoveAll(archivePath); err != nil {
		o.logger.Warn().Err(err).Str("branch", b.Name).Msg("failed to remove WAL archive directory, continuing")
	}

	for _, snap := range catalog.ListSnapshotsForBranch(c, b.Name) {
		catalog.DeleteSnapshot(c, snap.ID)
	}

	exists, err := o.fs.DatasetExists(ctx, b.DatasetName)
	if err != nil {
		return err
	}
	if exists {
		if err := o.fs.UnmountDataset(ctx, b.DatasetName); err != nil {
			return err
		}
		if err := o.fs.DestroyDataset(ctx, b.DatasetName, true); err != nil {
			return err
		}
	}
	return nil
}

// postOrderDescendants returns all descendants of branch name within
// its project, in post-order (children before parents), so deletion
// can proceed leaves-first.
func postOrderDescendants(c *types.Catalog, branchID string) []*types.Branch {
	var out []*types.Branch
	for _, child := range catalog.ChildBranches(c, branchID) {
		out = append(out, postOrderDescendants(c, child.ID)...)
		out = append(out, child)
	}
	return out
}
