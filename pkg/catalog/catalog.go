// Package catalog implements the State Store: a durable JSON document
// holding the engine's projects, branches, snapshots and optional
// backup configuration, guarded by an advisory file lock and saved with
// an atomic-rename-plus-fsync discipline so a crash mid-write never
// corrupts the prior document.
package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/cuemby/pgd/pkg/engineerr"
	"github.com/cuemby/pgd/pkg/log"
	"github.com/cuemby/pgd/pkg/types"
)

const (
	catalogFileName = "catalog.json"
	lockFileName    = ".lock"
	backupFileName  = ".backup"
)

// Store is the on-disk state store rooted at a single directory.
type Store struct {
	dir    string
	logger zerolog.Logger
}

// NewStore returns a Store rooted at dir. dir is created if absent.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, engineerr.System("failed to create state directory", err)
	}
	return &Store{dir: dir, logger: log.WithComponent("catalog")}, nil
}

func (s *Store) catalogPath() string { return filepath.Join(s.dir, catalogFileName) }
func (s *Store) lockPath() string    { return filepath.Join(s.dir, lockFileName) }
func (s *Store) backupPath() string  { return filepath.Join(s.dir, backupFileName) }

// Load reads and validates the catalog. A missing catalog file yields
// a fresh, empty catalog (first-call auto-init, per the orchestrator's
// createProject contract) rather than an error.
func (s *Store) Load() (*types.Catalog, error) {
	data, err := os.ReadFile(s.catalogPath())
	if os.IsNotExist(err) {
		return types.NewCatalog(), nil
	}
	if err != nil {
		return nil, engineerr.System("failed to read catalog", err)
	}

	var c types.Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, engineerr.Invariant("catalog is not valid JSON", err)
	}
	if c.Projects == nil {
		c.Projects = make(map[string]*types.Project)
	}
	if c.Branches == nil {
		c.Branches = make(map[string]*types.Branch)
	}
	if c.Snapshots == nil {
		c.Snapshots = make(map[string]*types.Snapshot)
	}
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save validates c, preserves the prior document at .backup, then
// atomically replaces the catalog: write catalog.json.tmp, fsync the
// file, rename over catalog.json, fsync the containing directory. A
// failure at any point before the rename leaves the prior catalog
// authoritative.
func (s *Store) Save(c *types.Catalog) error {
	if err := Validate(c); err != nil {
		return err
	}

	if prior, err := os.ReadFile(s.catalogPath()); err == nil {
		if err := os.WriteFile(s.backupPath(), prior, 0o644); err != nil {
			s.logger.Warn().Err(err).Msg("failed to write catalog backup, continuing save")
		}
	} else if !os.IsNotExist(err) {
		return engineerr.System("failed to read prior catalog for backup", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return engineerr.System("failed to marshal catalog", err)
	}

	tmpPath := s.catalogPath() + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return engineerr.System("failed to open temp catalog file", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return engineerr.System("failed to write temp catalog file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return engineerr.System("failed to fsync temp catalog file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return engineerr.System("failed to close temp catalog file", err)
	}

	if err := os.Rename(tmpPath, s.catalogPath()); err != nil {
		os.Remove(tmpPath)
		return engineerr.System("failed to install new catalog", err)
	}

	dir, err := os.Open(s.dir)
	if err != nil {
		return engineerr.System("failed to open state directory for fsync", err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return engineerr.System("failed to fsync state directory", err)
	}

	return nil
}

// WithLock acquires the catalog lock, loads the catalog, runs fn, and
// -- if fn returns a non-nil *types.Catalog -- saves it, all before
// releasing the lock. This is the shape every orchestrator operation
// uses: load, mutate, save, all serialized across invocations.
func (s *Store) WithLock(ctx context.Context, fn func(c *types.Catalog) (*types.Catalog, error)) error {
	lock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer lock.release()

	c, err := s.Load()
	if err != nil {
		return err
	}

	updated, err := fn(c)
	if err != nil {
		return err
	}
	if updated == nil {
		return nil
	}
	return s.Save(updated)
}
