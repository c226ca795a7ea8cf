package wal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSegment(t *testing.T, dir, name string, mtime time.Time) {
	t.Helper()
	full := filepath.Join(dir, name)
	if err := os.WriteFile(full, []byte("segment"), 0o600); err != nil {
		t.Fatalf("write segment: %v", err)
	}
	if err := os.Chtimes(full, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestEnsureArchiveDirCreatesAndIsIdempotent(t *testing.T) {
	m := NewManager(t.TempDir())
	path, err := m.EnsureArchiveDir("proj-main")
	if err != nil {
		t.Fatalf("EnsureArchiveDir: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("archive dir not created: %v", err)
	}
	if _, err := m.EnsureArchiveDir("proj-main"); err != nil {
		t.Fatalf("second EnsureArchiveDir: %v", err)
	}
}

func TestGetArchivePathDeterministic(t *testing.T) {
	m := NewManager("/var/lib/pgd")
	got := m.GetArchivePath("proj-main")
	want := "/var/lib/pgd/wal-archive/proj-main"
	if got != want {
		t.Fatalf("GetArchivePath() = %q, want %q", got, want)
	}
}

func TestGetArchiveInfoMissingDirReturnsZero(t *testing.T) {
	m := NewManager(t.TempDir())
	info, err := m.GetArchiveInfo("nope")
	if err != nil {
		t.Fatalf("GetArchiveInfo: %v", err)
	}
	if info.FileCount != 0 {
		t.Fatalf("expected zero info, got %+v", info)
	}
}

func TestGetArchiveInfoCountsAndOrders(t *testing.T) {
	m := NewManager(t.TempDir())
	dir, _ := m.EnsureArchiveDir("proj-main")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	writeSegment(t, dir, "000000010000000000000001", base)
	writeSegment(t, dir, "000000010000000000000002", base.Add(time.Hour))
	writeSegment(t, dir, "000000010000000000000003", base.Add(2*time.Hour))

	info, err := m.GetArchiveInfo("proj-main")
	if err != nil {
		t.Fatalf("GetArchiveInfo: %v", err)
	}
	if info.FileCount != 3 {
		t.Fatalf("expected 3 files, got %d", info.FileCount)
	}
	if info.OldestSegment != "000000010000000000000001" {
		t.Fatalf("unexpected oldest segment: %s", info.OldestSegment)
	}
	if info.NewestSegment != "000000010000000000000003" {
		t.Fatalf("unexpected newest segment: %s", info.NewestSegment)
	}
	if !info.OldestTime.Equal(base) {
		t.Fatalf("unexpected oldest time: %v", info.OldestTime)
	}
}

func TestVerifyArchiveIntegrityDetectsGap(t *testing.T) {
	m := NewManager(t.TempDir())
	dir, _ := m.EnsureArchiveDir("proj-main")

	now := time.Now()
	writeSegment(t, dir, "000000010000000000000001", now)
	writeSegment(t, dir, "000000010000000000000002", now)
	writeSegment(t, dir, "000000010000000000000005", now)

	gaps, err := m.VerifyArchiveIntegrity("proj-main")
	if err != nil {
		t.Fatalf("VerifyArchiveIntegrity: %v", err)
	}
	if len(gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d: %v", len(gaps), gaps)
	}
}

func TestVerifyArchiveIntegrityNoGapForContiguousSegments(t *testing.T) {
	m := NewManager(t.TempDir())
	dir, _ := m.EnsureArchiveDir("proj-main")

	now := time.Now()
	writeSegment(t, dir, "000000010000000000000001", now)
	writeSegment(t, dir, "000000010000000000000002", now)
	writeSegment(t, dir, "000000010000000000000003.partial", now)

	gaps, err := m.VerifyArchiveIntegrity("proj-main")
	if err != nil {
		t.Fatalf("VerifyArchiveIntegrity: %v", err)
	}
	if len(gaps) != 0 {
		t.Fatalf("expected no gaps, got %v", gaps)
	}
}

func TestVerifyArchiveIntegrityCrossesLogBoundary(t *testing.T) {
	m := NewManager(t.TempDir())
	dir, _ := m.EnsureArchiveDir("proj-main")

	now := time.Now()
	writeSegment(t, dir, "0000000100000000000000FF", now)
	writeSegment(t, dir, "000000010000000100000000", now)

	gaps, err := m.VerifyArchiveIntegrity("proj-main")
	if err != nil {
		t.Fatalf("VerifyArchiveIntegrity: %v", err)
	}
	if len(gaps) != 0 {
		t.Fatalf("expected log-boundary rollover to not count as a gap, got %v", gaps)
	}
}

func TestCleanupOldWALsRemovesOnlyStale(t *testing.T) {
	m := NewManager(t.TempDir())
	dir, _ := m.EnsureArchiveDir("proj-main")

	old := time.Now().Add(-10 * 24 * time.Hour)
	recent := time.Now().Add(-1 * time.Hour)
	writeSegment(t, dir, "000000010000000000000001", old)
	writeSegment(t, dir, "000000010000000000000002", recent)

	removed, err := m.CleanupOldWALs("proj-main", 7)
	if err != nil {
		t.Fatalf("CleanupOldWALs: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "000000010000000000000002")); err != nil {
		t.Fatalf("recent segment should remain: %v", err)
	}
}

func TestSetupPITRecoveryWritesMarkerAndConfig(t *testing.T) {
	m := NewManager(t.TempDir())
	mountpoint := t.TempDir()
	target := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := m.SetupPITRecovery(mountpoint, "/wal-archive/proj-main", target); err != nil {
		t.Fatalf("SetupPITRecovery: %v", err)
	}

	if _, err := os.Stat(filepath.Join(mountpoint, recoverySignalFile)); err != nil {
		t.Fatalf("missing recovery signal: %v", err)
	}
	confBytes, err := os.ReadFile(filepath.Join(mountpoint, autoConfFile))
	if err != nil {
		t.Fatalf("missing auto-config: %v", err)
	}
	conf := string(confBytes)
	if !strings.Contains(conf, "restore_command") || !strings.Contains(conf, "/wal-archive/proj-main") {
		t.Fatalf("auto-config missing restore_command: %s", conf)
	}
	if !strings.Contains(conf, "2026-06-01 12:00:00") {
		t.Fatalf("auto-config missing recovery_target_time: %s", conf)
	}
}
