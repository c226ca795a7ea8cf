package catalog

import (
	"fmt"

	"github.com/cuemby/pgd/pkg/engineerr"
	"github.com/cuemby/pgd/pkg/types"
)

// Validate checks every invariant from spec.md §3 against c. It is run
// on every load and every save; a violation is always an Invariant
// error ("state corrupted"), never auto-repaired.
func Validate(c *types.Catalog) error {
	if err := validateProjects(c); err != nil {
		return err
	}
	if err := validateBranches(c); err != nil {
		return err
	}
	if err := validateSnapshots(c); err != nil {
		return err
	}
	return nil
}

func validateProjects(c *types.Catalog) error {
	for name, p := range c.Projects {
		if p.Name != name {
			return engineerr.Invariant(fmt.Sprintf("project key %q does not match project.Name %q", name, p.Name), nil)
		}
	}

	primaryCount := make(map[string]int)
	for _, b := range c.Branches {
		if b.IsPrimary() {
			primaryCount[b.ProjectName]++
		}
	}
	for name := range c.Projects {
		if primaryCount[name] != 1 {
			return engineerr.Invariant(fmt.Sprintf("project %q has %d primary branches, want exactly 1", name, primaryCount[name]), nil)
		}
	}
	return nil
}

func validateBranches(c *types.Catalog) error {
	datasetNames := make(map[string]string) // dataset -> branch name
	containerNames := make(map[string]string)
	byID := make(map[string]*types.Branch)

	for name, b := range c.Branches {
		if b.Name != name {
			return engineerr.Invariant(fmt.Sprintf("branch key %q does not match branch.Name %q", name, b.Name), nil)
		}
		projectName, _, err := types.SplitNamespacedName(b.Name)
		if err != nil {
			return engineerr.Invariant(fmt.Sprintf("branch %q has malformed namespaced name", b.Name), err)
		}
		if projectName != b.ProjectName {
			return engineerr.Invariant(fmt.Sprintf("branch %q has projectName %q, expected %q", b.Name, b.ProjectName, projectName), nil)
		}
		if _, ok := c.Projects[b.ProjectName]; !ok {
			return engineerr.Invariant(fmt.Sprintf("branch %q belongs to unknown project %q", b.Name, b.ProjectName), nil)
		}
		if b.DatasetName != types.DatasetName(b.Name) {
			return engineerr.Invariant(fmt.Sprintf("branch %q has dataset name %q, expected %q", b.Name, b.DatasetName, types.DatasetName(b.Name)), nil)
		}
		if b.ContainerName != types.ContainerName(b.Name) {
			return engineerr.Invariant(fmt.Sprintf("branch %q has container name %q, expected %q", b.Name, b.ContainerName, types.ContainerName(b.Name)), nil)
		}
		if existing, ok := datasetNames[b.DatasetName]; ok && existing != b.Name {
			return engineerr.Invariant(fmt.Sprintf("dataset name %q is shared by branches %q and %q", b.DatasetName, existing, b.Name), nil)
		}
		datasetNames[b.DatasetName] = b.Name
		if existing, ok := containerNames[b.ContainerName]; ok && existing != b.Name {
			return engineerr.Invariant(fmt.Sprintf("container name %q is shared by branches %q and %q", b.ContainerName, existing, b.Name), nil)
		}
		containerNames[b.ContainerName] = b.Name
		byID[b.ID] = b
	}

	for _, b := range c.Branches {
		if b.IsPrimary() {
			continue
		}
		if b.ParentBranchID == "" {
			return engineerr.Invariant(fmt.Sprintf("non-primary branch %q has no parent", b.Name), nil)
		}
		if _, ok := byID[b.ParentBranchID]; !ok {
			return engineerr.Invariant(fmt.Sprintf("branch %q has dangling parentBranchId %q", b.Name, b.ParentBranchID), nil)
		}
	}

	// Lineage is a forest rooted at primaries: walk parent edges from
	// every branch and confirm we reach a primary without cycling.
	for _, b := range c.Branches {
		visited := make(map[string]bool)
		cur := b
		for !cur.IsPrimary() {
			if visited[cur.ID] {
				return engineerr.Invariant(fmt.Sprintf("lineage cycle detected reaching branch %q", cur.Name), nil)
			}
			visited[cur.ID] = true
			parent, ok := byID[cur.ParentBranchID]
			if !ok {
				return engineerr.Invariant(fmt.Sprintf("branch %q's lineage does not resolve to a primary", b.Name), nil)
			}
			cur = parent
		}
		if cur.ProjectName != b.ProjectName {
			return engineerr.Invariant(fmt.Sprintf("branch %q's lineage root belongs to a different project", b.Name), nil)
		}
	}

	return nil
}

func validateSnapshots(c *types.Catalog) error {
	for id, s := range c.Snapshots {
		if s.ID != id {
			return engineerr.Invariant(fmt.Sprintf("snapshot key %q does not match snapshot.ID %q", id, s.ID), nil)
		}
		if _, ok := c.Branches[s.BranchName]; !ok {
			return engineerr.Invariant(fmt.Sprintf("snapshot %q refers to non-existent branch %q", s.ID, s.BranchName), nil)
		}
	}
	return nil
}
