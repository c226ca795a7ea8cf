package orchestrator

import (
	"context"

	"github.com/cuemby/pgd/pkg/catalog"
	"github.com/cuemby/pgd/pkg/types"
)

// ProjectStatus summarizes one project and its branches for the
// `status` command.
type ProjectStatus struct {
	Project  *types.Project
	Branches []*types.Branch
}

// Status returns every project with its branches, sorted as the
// catalog accessors already order them.
func (o *Orchestrator) Status(ctx context.Context) ([]ProjectStatus, error) {
	c, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	var out []ProjectStatus
	for _, p := range catalog.ListProjects(c) {
		out = append(out, ProjectStatus{
			Project:  p,
			Branches: catalog.ListBranchesForProject(c, p.Name),
		})
	}
	return out, nil
}

// ListProjects returns every known project.
func (o *Orchestrator) ListProjects(ctx context.Context) ([]*types.Project, error) {
	c, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	return catalog.ListProjects(c), nil
}

// GetProject returns one project by name.
func (o *Orchestrator) GetProject(ctx context.Context, name string) (*types.Project, error) {
	c, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	return catalog.GetProject(c, name)
}

// ListBranches returns every branch, optionally restricted to one
// project.
func (o *Orchestrator) ListBranches(ctx context.Context, project string) ([]*types.Branch, error) {
	c, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	if project == "" {
		var out []*types.Branch
		for _, p := range catalog.ListProjects(c) {
			out = append(out, catalog.ListBranchesForProject(c, p.Name)...)
		}
		return out, nil
	}
	return catalog.ListBranchesForProject(c, project), nil
}

// GetBranch returns one branch by its namespaced name.
func (o *Orchestrator) GetBranch(ctx context.Context, name string) (*types.Branch, error) {
	c, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	return catalog.GetBranch(c, name)
}
