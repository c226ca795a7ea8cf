package catalog

import (
	"fmt"
	"sort"

	"github.com/cuemby/pgd/pkg/engineerr"
	"github.com/cuemby/pgd/pkg/types"
)

// Per-entity accessors over an in-memory catalog document, mirroring
// the shape of a Create/Get/List/Delete store contract even though the
// whole catalog lives in one JSON document rather than per-record rows.

// GetProject returns the named project, or a user error if absent.
func GetProject(c *types.Catalog, name string) (*types.Project, error) {
	p, ok := c.Projects[name]
	if !ok {
		return nil, engineerr.User(fmt.Sprintf("project %q not found", name), nil)
	}
	return p, nil
}

// PutProject inserts or replaces a project.
func PutProject(c *types.Catalog, p *types.Project) {
	c.Projects[p.Name] = p
}

// DeleteProject removes a project record (callers must already have
// destroyed/reassigned its branches).
func DeleteProject(c *types.Catalog, name string) {
	delete(c.Projects, name)
}

// ListProjects returns all projects sorted by name.
func ListProjects(c *types.Catalog) []*types.Project {
	out := make([]*types.Project, 0, len(c.Projects))
	for _, p := range c.Projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetBranch returns the named branch ("project/branch"), or a user
// error if absent.
func GetBranch(c *types.Catalog, name string) (*types.Branch, error) {
	b, ok := c.Branches[name]
	if !ok {
		return nil, engineerr.User(fmt.Sprintf("branch %q not found", name), nil)
	}
	return b, nil
}

// PutBranch inserts or replaces a branch.
func PutBranch(c *types.Catalog, b *types.Branch) {
	c.Branches[b.Name] = b
}

// DeleteBranch removes a branch record.
func DeleteBranch(c *types.Catalog, name string) {
	delete(c.Branches, name)
}

// ListBranchesForProject returns all branches belonging to project,
// sorted by name.
func ListBranchesForProject(c *types.Catalog, project string) []*types.Branch {
	out := make([]*types.Branch, 0)
	for _, b := range c.Branches {
		if b.ProjectName == project {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ChildBranches returns the direct children of branch parentID.
func ChildBranches(c *types.Catalog, parentID string) []*types.Branch {
	out := make([]*types.Branch, 0)
	for _, b := range c.Branches {
		if b.ParentBranchID == parentID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PrimaryBranch returns a project's primary branch.
func PrimaryBranch(c *types.Catalog, project string) (*types.Branch, error) {
	for _, b := range c.Branches {
		if b.ProjectName == project && b.IsPrimary() {
			return b, nil
		}
	}
	return nil, engineerr.Invariant(fmt.Sprintf("project %q has no primary branch", project), nil)
}

// GetSnapshot returns the snapshot by id.
func GetSnapshot(c *types.Catalog, id string) (*types.Snapshot, error) {
	s, ok := c.Snapshots[id]
	if !ok {
		return nil, engineerr.User(fmt.Sprintf("snapshot %q not found", id), nil)
	}
	return s, nil
}

// PutSnapshot inserts or replaces a snapshot.
func PutSnapshot(c *types.Catalog, s *types.Snapshot) {
	c.Snapshots[s.ID] = s
}

// DeleteSnapshot removes a snapshot record.
func DeleteSnapshot(c *types.Catalog, id string) {
	delete(c.Snapshots, id)
}

// ListSnapshotsForBranch returns all snapshots of branch, newest first.
func ListSnapshotsForBranch(c *types.Catalog, branch string) []*types.Snapshot {
	out := make([]*types.Snapshot, 0)
	for _, s := range c.Snapshots {
		if s.BranchName == branch {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
