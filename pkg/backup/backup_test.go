package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/pgd/pkg/types"
)

func writeTree(t *testing.T, root string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, "base"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "PG_VERSION"), []byte("16\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "base", "1"), []byte("data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestPushPullRoundTrip(t *testing.T) {
	repo, err := NewLocalRepo(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalRepo: %v", err)
	}
	src := t.TempDir()
	writeTree(t, src)

	tag := Tag{Branch: "api/main", Dataset: "api-main", Snapshot: "snap1", Type: DataPayload}
	entry, err := repo.Push(context.Background(), tag, src)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if entry.Digest == "" || entry.Size == 0 {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	dest := t.TempDir()
	if err := repo.Pull(context.Background(), tag, dest); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "PG_VERSION"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(got) != "16\n" {
		t.Fatalf("unexpected restored contents: %q", got)
	}
	if _, err := os.Stat(filepath.Join(dest, "base", "1")); err != nil {
		t.Fatalf("missing restored nested file: %v", err)
	}
}

func TestPullUnknownTagIsUserError(t *testing.T) {
	repo, _ := NewLocalRepo(t.TempDir())
	err := repo.Pull(context.Background(), Tag{Branch: "x", Dataset: "y", Snapshot: "z", Type: DataPayload}, t.TempDir())
	if err == nil {
		t.Fatalf("expected error for unknown tag")
	}
}

func TestPushDedupesIdenticalContent(t *testing.T) {
	repo, _ := NewLocalRepo(t.TempDir())
	src := t.TempDir()
	writeTree(t, src)

	tagA := Tag{Branch: "api/main", Dataset: "api-main", Snapshot: "snap1", Type: DataPayload}
	tagB := Tag{Branch: "api/feature", Dataset: "api-feature", Snapshot: "snap1", Type: DataPayload}

	entryA, err := repo.Push(context.Background(), tagA, src)
	if err != nil {
		t.Fatalf("push A: %v", err)
	}
	entryB, err := repo.Push(context.Background(), tagB, src)
	if err != nil {
		t.Fatalf("push B: %v", err)
	}
	if entryA.Digest != entryB.Digest {
		t.Fatalf("expected identical trees to share a digest, got %s vs %s", entryA.Digest, entryB.Digest)
	}
}

func TestListReturnsAllEntries(t *testing.T) {
	repo, _ := NewLocalRepo(t.TempDir())
	src := t.TempDir()
	writeTree(t, src)
	_, _ = repo.Push(context.Background(), Tag{Branch: "a", Dataset: "a", Snapshot: "s1", Type: DataPayload}, src)
	_, _ = repo.Push(context.Background(), Tag{Branch: "b", Dataset: "b", Snapshot: "s1", Type: WALPayload}, src)

	entries, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestCleanupRemovesExpiredEntriesAndOrphanBlobs(t *testing.T) {
	repo, _ := NewLocalRepo(t.TempDir())
	src := t.TempDir()
	writeTree(t, src)

	tag := Tag{Branch: "a", Dataset: "a", Snapshot: "s1", Type: DataPayload}
	entry, err := repo.Push(context.Background(), tag, src)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	removed, err := repo.Cleanup(context.Background(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := os.Stat(repo.blobPath(entry.Digest)); !os.IsNotExist(err) {
		t.Fatalf("expected orphan blob to be garbage collected")
	}
}

func TestSaveLoadConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repo.yaml")
	cfg := &types.BackupConfig{
		Endpoint:         "https://s3.example.com",
		Bucket:           "branches",
		RepositoryPrefix: "pgd",
		LocalConfigPath:  path,
	}
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Bucket != "branches" || loaded.RepositoryPrefix != "pgd" {
		t.Fatalf("unexpected loaded config: %+v", loaded)
	}
}
