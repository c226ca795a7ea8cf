package catalog

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/pgd/pkg/engineerr"
)

const (
	lockPollInterval = 100 * time.Millisecond
	lockTimeout      = 10 * time.Second
)

// lockInfo is the content written into the .lock file: who holds it
// and on which boot, so a reclaim can tell "process gone" apart from
// "pid recycled after a reboot" (spec §9 open question).
type lockInfo struct {
	PID        int       `json:"pid"`
	BootID     string    `json:"boot_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

type lock struct {
	path string
}

// acquireLock takes the exclusive catalog lock, cooperatively polling
// until it succeeds, a stale lock is reclaimed, or timeout elapses (in
// which case it returns a "busy" system error).
func (s *Store) acquireLock(ctx context.Context) (*lock, error) {
	deadline := time.Now().Add(lockTimeout)
	info := lockInfo{PID: os.Getpid(), BootID: bootID(), AcquiredAt: time.Now()}
	data, err := json.Marshal(info)
	if err != nil {
		return nil, engineerr.System("failed to encode lock holder info", err)
	}

	for {
		f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if _, werr := f.Write(data); werr != nil {
				f.Close()
				os.Remove(s.lockPath())
				return nil, engineerr.System("failed to write lock holder info", werr)
			}
			f.Close()
			return &lock{path: s.lockPath()}, nil
		}
		if !os.IsExist(err) {
			return nil, engineerr.System("failed to create lock file", err)
		}

		if s.reclaimStaleLock() {
			continue
		}

		select {
		case <-ctx.Done():
			return nil, engineerr.SystemHint("catalog lock unobtainable", "another invocation may be running; if you are certain none is, remove the .lock file manually", ctx.Err())
		default:
		}

		if time.Now().After(deadline) {
			return nil, engineerr.SystemHint("catalog busy", "another invocation holds the lock; retry shortly", nil)
		}
		time.Sleep(lockPollInterval)
	}
}

func (l *lock) release() error {
	return os.Remove(l.path)
}

// reclaimStaleLock removes the lock file if its recorded holder is
// provably gone: either a different boot id (the pid could have been
// recycled since), or the same boot id but no live process with that
// pid. Returns true if it removed the lock (caller should retry
// acquisition).
func (s *Store) reclaimStaleLock() bool {
	data, err := os.ReadFile(s.lockPath())
	if err != nil {
		// Lock disappeared between our failed create and this read;
		// let the next loop iteration retry the create.
		return os.IsNotExist(err)
	}

	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		// Unreadable lock metadata: treat conservatively as live.
		return false
	}

	if info.BootID != "" && info.BootID != bootID() {
		s.logger.Warn().Int("holder_pid", info.PID).Str("holder_boot_id", info.BootID).Msg("reclaiming lock from a prior boot")
		return os.Remove(s.lockPath()) == nil
	}

	if !processAlive(info.PID) {
		s.logger.Warn().Int("holder_pid", info.PID).Msg("reclaiming lock from a dead process")
		return os.Remove(s.lockPath()) == nil
	}

	return false
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 performs no-op existence/permission checks only.
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != syscall.ESRCH
}

// bootID returns this host's boot id, or "" if unavailable (e.g. a
// non-Linux platform), in which case stale-lock reclaim falls back to
// pid-liveness alone.
func bootID() string {
	data, err := os.ReadFile("/proc/sys/kernel/random/boot_id")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
