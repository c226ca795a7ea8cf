package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/pgd/pkg/container"
	"github.com/cuemby/pgd/pkg/secrets"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeStore, *fakeFS, *fakeContainers) {
	t.Helper()
	store := newFakeStore()
	fs := newFakeFS("tank")
	containers := newFakeContainers()
	walMgr := newFakeWAL()
	secretsMgr, err := secrets.NewManager(make([]byte, 32))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.DataBaseDir = t.TempDir()
	o := New(cfg, store, fs, containers, walMgr, secretsMgr)
	return o, store, fs, containers
}

func TestCreateProjectProvisionsPrimaryBranch(t *testing.T) {
	o, _, fs, containers := newTestOrchestrator(t)
	ctx := context.Background()

	project, err := o.CreateProject(ctx, "api", "", "")
	require.NoError(t, err)
	assert.Equal(t, "api", project.Name)

	c, err := o.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "tank", c.Pool)

	primary, err := o.Status(ctx)
	require.NoError(t, err)
	require.Len(t, primary, 1)
	require.Len(t, primary[0].Branches, 1)
	assert.True(t, primary[0].Branches[0].IsPrimary())
	assert.True(t, fs.mounted["api-main"])
	assert.True(t, containers.running["pgd-api-main"])
}

func TestCreateProjectRejectsDuplicateName(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.CreateProject(ctx, "api", "", "")
	require.NoError(t, err)
	_, err = o.CreateProject(ctx, "api", "", "")
	assert.Error(t, err)
}

func TestCreateBranchClonesFromPrimary(t *testing.T) {
	o, _, fs, containers := newTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.CreateProject(ctx, "api", "", "")
	require.NoError(t, err)

	branch, err := o.CreateBranch(ctx, "api/feature", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "api-feature", branch.DatasetName)
	assert.True(t, fs.datasets["api-feature"])
	assert.True(t, containers.running["pgd-api-feature"])
	assert.Contains(t, containers.execCalls, "CHECKPOINT")
}

func TestCreateBranchFailsIfTargetExists(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.CreateProject(ctx, "api", "", "")
	require.NoError(t, err)
	_, err = o.CreateBranch(ctx, "api/main", "", nil)
	assert.Error(t, err)
}

func TestCreateBranchPITRSelectsOlderSnapshot(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.CreateProject(ctx, "api", "", "")
	require.NoError(t, err)

	early, err := o.CreateSnapshot(ctx, "api/main", "early")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	cutoff := time.Now()
	time.Sleep(time.Millisecond)
	_, err = o.CreateSnapshot(ctx, "api/main", "late")
	require.NoError(t, err)

	branch, err := o.CreateBranch(ctx, "api/recovered", "", &cutoff)
	require.NoError(t, err)
	assert.Equal(t, early.Reference, branch.SnapshotName)
}

func TestCreateBranchPITRFailsWithNoEligibleSnapshot(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.CreateProject(ctx, "api", "", "")
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	_, err = o.CreateBranch(ctx, "api/recovered", "", &past)
	assert.Error(t, err)
}

func TestDeleteBranchRefusesPrimary(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.CreateProject(ctx, "api", "", "")
	require.NoError(t, err)
	err = o.DeleteBranch(ctx, "api/main", false)
	assert.Error(t, err)
}

func TestDeleteBranchRefusesDescendantsWithoutForce(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.CreateProject(ctx, "api", "", "")
	require.NoError(t, err)
	_, err = o.CreateBranch(ctx, "api/feature", "", nil)
	require.NoError(t, err)
	_, err = o.CreateBranch(ctx, "api/feature2", "api/feature", nil)
	require.NoError(t, err)

	err = o.DeleteBranch(ctx, "api/feature", false)
	assert.Error(t, err)
	err = o.DeleteBranch(ctx, "api/feature", true)
	assert.NoError(t, err)
}

func TestSyncBranchRebuildsFromParent(t *testing.T) {
	o, store, fs, _ := newTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.CreateProject(ctx, "api", "", "")
	require.NoError(t, err)
	_, err = o.CreateBranch(ctx, "api/feature", "", nil)
	require.NoError(t, err)

	err = o.SyncBranch(ctx, "api/feature", false)
	require.NoError(t, err)

	cat, _ := store.Load()
	branch := cat.Branches["api/feature"]
	assert.Equal(t, "running", string(branch.State))
	assert.True(t, fs.datasets["api-feature"])
}

func TestResetBranchReusesOriginalSnapshot(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.CreateProject(ctx, "api", "", "")
	require.NoError(t, err)
	branch, err := o.CreateBranch(ctx, "api/feature", "", nil)
	require.NoError(t, err)
	originalSnapshot := branch.SnapshotName

	err = o.ResetBranch(ctx, "api/feature")
	require.NoError(t, err)

	c, _ := o.store.Load()
	assert.Equal(t, originalSnapshot, c.Branches["api/feature"].SnapshotName)
}

func TestStartStopBranchIsIdempotent(t *testing.T) {
	o, _, _, containers := newTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.CreateProject(ctx, "api", "", "")
	require.NoError(t, err)

	require.NoError(t, o.StopBranch(ctx, "api/main"))
	require.NoError(t, o.StopBranch(ctx, "api/main"))
	assert.False(t, containers.running["pgd-api-main"])

	require.NoError(t, o.StartBranch(ctx, "api/main"))
	require.NoError(t, o.StartBranch(ctx, "api/main"))
	assert.True(t, containers.running["pgd-api-main"])
}

func TestCleanupSnapshotsRemovesOldOnes(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.CreateProject(ctx, "api", "", "")
	require.NoError(t, err)
	_, err = o.CreateSnapshot(ctx, "api/main", "manual")
	require.NoError(t, err)

	removed, err := o.CleanupSnapshots(ctx, "api/main", 0, false)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestDetectOrphansFindsUntrackedDataset(t *testing.T) {
	o, _, fs, _ := newTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.CreateProject(ctx, "api", "", "")
	require.NoError(t, err)

	require.NoError(t, fs.CreateDataset(ctx, "orphan-dataset", nil))
	_, err = fs.CreateSnapshot(ctx, "orphan-dataset", "stray")
	require.NoError(t, err)

	report, err := o.DetectOrphans(ctx)
	require.NoError(t, err)
	assert.Contains(t, report.OrphanDatasets, "orphan-dataset")
}

// TestDetectOrphansFindsSnapshotlessClone covers the crash scenario where
// branch create was killed after CloneSnapshot but before the container
// started: the clone has no snapshot of its own, so it would be invisible
// to orphan detection driven off ListSnapshots rather than ListDatasets.
func TestDetectOrphansFindsSnapshotlessClone(t *testing.T) {
	o, _, fs, _ := newTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.CreateProject(ctx, "api", "", "")
	require.NoError(t, err)

	require.NoError(t, fs.CloneSnapshot(ctx, "tank/pgd/api-main@checkpoint", "api-crash"))

	report, err := o.DetectOrphans(ctx)
	require.NoError(t, err)
	assert.Contains(t, report.OrphanDatasets, "api-crash")
}

// TestDetectOrphansFindsUntrackedContainer covers the crash scenario where
// branch create was killed after the container was created but before the
// catalog record was persisted.
func TestDetectOrphansFindsUntrackedContainer(t *testing.T) {
	o, _, _, containers := newTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.CreateProject(ctx, "api", "", "")
	require.NoError(t, err)

	_, err = containers.Create(ctx, container.Spec{Name: "pgd-api-crash"})
	require.NoError(t, err)

	report, err := o.DetectOrphans(ctx)
	require.NoError(t, err)
	assert.Contains(t, report.OrphanContainers, "pgd-api-crash")
}

func TestCleanupForceRemovesOrphanContainer(t *testing.T) {
	o, _, _, containers := newTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.CreateProject(ctx, "api", "", "")
	require.NoError(t, err)

	_, err = containers.Create(ctx, container.Spec{Name: "pgd-api-crash"})
	require.NoError(t, err)

	report, err := o.Cleanup(ctx, false, true)
	require.NoError(t, err)
	assert.Contains(t, report.OrphanContainers, "pgd-api-crash")

	exists, err := containers.GetByName(ctx, "pgd-api-crash")
	require.NoError(t, err)
	assert.False(t, exists)
}
