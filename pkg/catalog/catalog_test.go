package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/pgd/pkg/types"
)

func newTestCatalogWithPrimary(t *testing.T) *types.Catalog {
	t.Helper()
	c := types.NewCatalog()
	PutProject(c, &types.Project{Name: "api", ID: "proj-1", CreatedAt: time.Now()})
	name := types.NamespacedName("api", types.PrimaryBranchName)
	PutBranch(c, &types.Branch{
		ID:            "branch-1",
		ProjectName:   "api",
		Name:          name,
		DatasetName:   types.DatasetName(name),
		ContainerName: types.ContainerName(name),
		State:         types.BranchStateRunning,
		CreatedAt:     time.Now(),
	})
	return c
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	c := newTestCatalogWithPrimary(t)

	if err := s.Save(c); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Projects) != 1 || len(loaded.Branches) != 1 {
		t.Fatalf("round-tripped catalog has wrong shape: %+v", loaded)
	}
	if _, ok := loaded.Branches["api/main"]; !ok {
		t.Fatalf("expected branch api/main in round-tripped catalog")
	}
}

func TestLoadMissingCatalogReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	c, err := s.Load()
	if err != nil {
		t.Fatalf("Load on fresh dir should not error: %v", err)
	}
	if len(c.Projects) != 0 {
		t.Fatalf("expected empty catalog, got %+v", c)
	}
}

func TestSaveRejectsMissingPrimary(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	c := types.NewCatalog()
	PutProject(c, &types.Project{Name: "api"})

	if err := s.Save(c); err == nil {
		t.Fatalf("expected invariant violation for project with no primary branch")
	}
}

func TestSavePreservesBackupOfPriorDocument(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	c := newTestCatalogWithPrimary(t)
	if err := s.Save(c); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	name := types.NamespacedName("api", "dev")
	PutBranch(c, &types.Branch{
		ID:             "branch-2",
		ProjectName:    "api",
		Name:           name,
		ParentBranchID: "branch-1",
		SnapshotName:   "api-main@t0",
		DatasetName:    types.DatasetName(name),
		ContainerName:  types.ContainerName(name),
		State:          types.BranchStateCreated,
		CreatedAt:      time.Now(),
	})
	if err := s.Save(c); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	backupPath := filepath.Join(dir, backupFileName)
	fi, err := os.Stat(backupPath)
	if err != nil {
		t.Fatalf("expected backup file at %s: %v", backupPath, err)
	}
	if fi.Size() == 0 {
		t.Fatalf("expected non-empty backup file, got size 0")
	}

	var backed types.Catalog
	data, _ := os.ReadFile(backupPath)
	if err := json.Unmarshal(data, &backed); err != nil {
		t.Fatalf("backup file is not valid JSON: %v", err)
	}
	if len(backed.Branches) != 1 {
		t.Fatalf("backup should reflect the catalog *before* the second branch was added, got %d branches", len(backed.Branches))
	}
}

func TestAcquireLockReclaimsStaleLock(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)

	lk, err := s.acquireLock(context.Background())
	if err != nil {
		t.Fatalf("acquireLock: %v", err)
	}

	// Overwrite the lock file as if a process that can no longer be
	// alive had crashed while holding it (pid 1 owned by a different,
	// unreachable boot id simulates "prior boot").
	info := lockInfo{PID: 1, BootID: "stale-boot-id-from-a-previous-boot", AcquiredAt: time.Now().Add(-time.Hour)}
	data, _ := json.Marshal(info)
	if err := os.WriteFile(s.lockPath(), data, 0o644); err != nil {
		t.Fatalf("failed to simulate a stale lock: %v", err)
	}

	lk2, err := s.acquireLock(context.Background())
	if err != nil {
		t.Fatalf("acquireLock should reclaim a stale lock, got: %v", err)
	}
	if err := lk2.release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	_ = lk // original lock's file was replaced out from under it; nothing further to assert on it
}
