// Package wal manages per-branch WAL archive directories: the
// database container archives completed segments into them via its
// own archive_command, and the engine reads, audits, prunes, and
// bootstraps PITR recovery from them. No WAL is ever read or written
// from inside the engine process itself — this package only touches
// archive directories on the host filesystem, plus the two recovery
// files SetupPITRecovery writes into a cloned data directory.
package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/pgd/pkg/engineerr"
	"github.com/cuemby/pgd/pkg/log"
)

// segmentNameLen is the length of a plain WAL segment filename (24 hex
// digits), before any ".partial" or compression suffix.
const segmentNameLen = 24

// Manager roots every archive directory under base/wal-archive/<dataset>.
type Manager struct {
	base   string
	logger zerolog.Logger
}

// NewManager returns a Manager rooted at base (the engine's data
// directory; archive trees live under base/wal-archive).
func NewManager(base string) *Manager {
	return &Manager{base: base, logger: log.WithComponent("wal")}
}

// GetArchivePath returns the deterministic absolute archive path for a
// dataset, without creating it.
func (m *Manager) GetArchivePath(dataset string) string {
	return filepath.Join(m.base, "wal-archive", dataset)
}

// EnsureArchiveDir creates the archive directory if absent, with
// permissions that allow the in-container database user to write.
func (m *Manager) EnsureArchiveDir(dataset string) (string, error) {
	path := m.GetArchivePath(dataset)
	if err := os.MkdirAll(path, 0o777); err != nil {
		return "", engineerr.System(fmt.Sprintf("create WAL archive dir for %s", dataset), err)
	}
	return path, nil
}

// Info describes the contents of an archive directory.
type Info struct {
	FileCount     int
	TotalBytes    int64
	OldestTime    time.Time
	NewestTime    time.Time
	OldestSegment string
	NewestSegment string
}

// GetArchiveInfo reports file count, total bytes, and the oldest and
// newest segments (by name, which sorts chronologically for WAL
// segments) in a dataset's archive directory.
func (m *Manager) GetArchiveInfo(dataset string) (Info, error) {
	path := m.GetArchivePath(dataset)
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, nil
		}
		return Info{}, engineerr.System(fmt.Sprintf("read WAL archive for %s", dataset), err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return Info{}, nil
	}
	sort.Strings(names)

	var info Info
	info.OldestSegment = names[0]
	info.NewestSegment = names[len(names)-1]
	for _, name := range names {
		fi, err := os.Stat(filepath.Join(path, name))
		if err != nil {
			continue
		}
		info.FileCount++
		info.TotalBytes += fi.Size()
		mtime := fi.ModTime().UTC()
		if info.OldestTime.IsZero() || mtime.Before(info.OldestTime) {
			info.OldestTime = mtime
		}
		if mtime.After(info.NewestTime) {
			info.NewestTime = mtime
		}
	}
	return info, nil
}

// segmentName strips a ".partial" or ".gz" suffix and reports whether
// the remaining name is a plain 24-hex-digit WAL segment name.
func segmentName(fileName string) (string, bool) {
	name := strings.TrimSuffix(fileName, ".partial")
	name = strings.TrimSuffix(name, ".gz")
	if len(name) != segmentNameLen {
		return "", false
	}
	for _, r := range name {
		if !strings.ContainsRune("0123456789ABCDEF", r) {
			return "", false
		}
	}
	return name, true
}

// VerifyArchiveIntegrity sorts segments by segment-number order and
// reports any gaps in the sequence. WAL segment names are ordered
// lexically, so string sort is sufficient.
func (m *Manager) VerifyArchiveIntegrity(dataset string) ([]string, error) {
	path := m.GetArchivePath(dataset)
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, engineerr.System(fmt.Sprintf("read WAL archive for %s", dataset), err)
	}

	var segments []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := segmentName(e.Name()); ok {
			segments = append(segments, name)
		}
	}
	sort.Strings(segments)

	var gaps []string
	for i := 1; i < len(segments); i++ {
		prev, cur := segments[i-1], segments[i]
		if !isNextSegment(prev, cur) {
			gaps = append(gaps, fmt.Sprintf("%s -> %s", prev, cur))
		}
	}
	return gaps, nil
}

// isNextSegment reports whether cur is the segment immediately
// following prev, per the WAL segment numbering scheme
// (timelineID/logID/segment, base 16): the next segment of the same log
// file, or segment 0 of the next log file. Timeline IDs are not compared.
func isNextSegment(prev, cur string) bool {
	if prev == cur {
		return true
	}
	prevLog, prevSeg := prev[8:16], prev[16:24]
	curLog, curSeg := cur[8:16], cur[16:24]
	prevSegNum, err1 := parseHex32(prevSeg)
	curSegNum, err2 := parseHex32(curSeg)
	if err1 != nil || err2 != nil {
		return false
	}
	if prevLog == curLog {
		return curSegNum == prevSegNum+1
	}
	// crossed a log-file boundary: segment wraps from 0xFF to 0x00
	prevLogNum, err3 := parseHex32(prevLog)
	curLogNum, err4 := parseHex32(curLog)
	if err3 != nil || err4 != nil {
		return false
	}
	return curLogNum == prevLogNum+1 && prevSegNum == 0xFF && curSegNum == 0
}

func parseHex32(s string) (uint32, error) {
	var v uint32
	_, err := fmt.Sscanf(s, "%08X", &v)
	return v, err
}

// CleanupOldWALs unlinks segments strictly older than retentionDays
// and returns the count removed.
func (m *Manager) CleanupOldWALs(dataset string, retentionDays int) (int, error) {
	path := m.GetArchivePath(dataset)
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, engineerr.System(fmt.Sprintf("read WAL archive for %s", dataset), err)
	}

	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		full := filepath.Join(path, e.Name())
		fi, err := os.Stat(full)
		if err != nil {
			continue
		}
		if fi.ModTime().Before(cutoff) {
			if err := os.Remove(full); err != nil {
				return removed, engineerr.System(fmt.Sprintf("remove stale WAL segment %s", e.Name()), err)
			}
			removed++
		}
	}
	m.logger.Info().Str("dataset", dataset).Int("removed", removed).Msg("cleaned up old WAL segments")
	return removed, nil
}

// recoverySignalFile is the marker PostgreSQL 12+ looks for to start
// the cluster in archive recovery.
const recoverySignalFile = "recovery.signal"

// autoConfFile is appended to by the server; the engine writes it
// fresh into a just-cloned data directory, so a plain write (not an
// append) is correct here.
const autoConfFile = "postgresql.auto.conf"

// SetupPITRecovery emits recovery.signal and a postgresql.auto.conf
// snippet into the cloned data directory at mountpoint, pointing
// restore_command at sourceArchivePath and recovery_target_time at
// recoveryTarget (already resolved to an absolute ISO-8601 timestamp).
func (m *Manager) SetupPITRecovery(mountpoint, sourceArchivePath string, recoveryTarget time.Time) error {
	signalPath := filepath.Join(mountpoint, recoverySignalFile)
	if err := os.WriteFile(signalPath, nil, 0o600); err != nil {
		return engineerr.System("write recovery signal file", err)
	}

	restoreCommand := fmt.Sprintf("cp %s/%%f %%p", sourceArchivePath)
	conf := fmt.Sprintf(
		"restore_command = '%s'\nrecovery_target_time = '%s'\nrecovery_target_action = 'promote'\n",
		restoreCommand,
		recoveryTarget.UTC().Format("2006-01-02 15:04:05Z07:00"),
	)
	confPath := filepath.Join(mountpoint, autoConfFile)
	if err := os.WriteFile(confPath, []byte(conf), 0o600); err != nil {
		return engineerr.System("write recovery auto-config", err)
	}

	m.logger.Info().
		Str("mountpoint", mountpoint).
		Str("source_archive", sourceArchivePath).
		Time("recovery_target", recoveryTarget).
		Msg("wrote PITR recovery configuration")
	return nil
}
