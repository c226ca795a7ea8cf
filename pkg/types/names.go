package types

import (
	"fmt"
	"regexp"
	"strings"
)

// NamePrefix is the engine's container-name prefix (spec §9 open
// question: one of bpg/velo/pgd, purely cosmetic; pgd was chosen).
const NamePrefix = "pgd"

// PrimaryBranchName is the conventional name of a project's primary
// branch.
const PrimaryBranchName = "main"

var componentRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidComponent reports whether s is a valid project or branch
// component name.
func ValidComponent(s string) bool {
	return s != "" && componentRe.MatchString(s)
}

// NamespacedName builds the "project/branch" name from its components.
func NamespacedName(project, branch string) string {
	return project + "/" + branch
}

// SplitNamespacedName splits "project/branch" into its components.
func SplitNamespacedName(name string) (project, branch string, err error) {
	parts := strings.SplitN(name, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid namespaced name %q: expected project/branch", name)
	}
	project, branch = parts[0], parts[1]
	if !ValidComponent(project) || !ValidComponent(branch) {
		return "", "", fmt.Errorf("invalid namespaced name %q: components must match [A-Za-z0-9_-]+", name)
	}
	return project, branch, nil
}

// DatasetName returns the deterministic dataset name for a namespaced
// branch name: "project-branch".
func DatasetName(namespacedName string) string {
	return strings.Replace(namespacedName, "/", "-", 1)
}

// ContainerName returns the deterministic container name for a
// namespaced branch name: "<prefix>-project-branch".
func ContainerName(namespacedName string) string {
	return NamePrefix + "-" + DatasetName(namespacedName)
}
