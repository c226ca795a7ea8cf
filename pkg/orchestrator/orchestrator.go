// Package orchestrator implements the Branching Orchestrator: the
// create/delete/start/stop/sync/reset/PITR protocols over a project's
// lineage of branches, each step registered to an in-memory rollback
// journal so a mid-protocol failure unwinds every external side effect
// it already performed.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/pgd/pkg/backup"
	"github.com/cuemby/pgd/pkg/container"
	"github.com/cuemby/pgd/pkg/fsdriver"
	"github.com/cuemby/pgd/pkg/log"
	"github.com/cuemby/pgd/pkg/secrets"
	"github.com/cuemby/pgd/pkg/types"
	"github.com/cuemby/pgd/pkg/wal"
)

// ContainerRuntime is the subset of the Container Driver the
// orchestrator needs. container.Driver satisfies it structurally.
type ContainerRuntime interface {
	ImageExists(ctx context.Context, ref string) (bool, error)
	PullImage(ctx context.Context, ref string) error
	Create(ctx context.Context, spec container.Spec) (int, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string, timeout time.Duration) error
	Restart(ctx context.Context, name string, timeout time.Duration) error
	Remove(ctx context.Context, name string, force bool) error
	GetByName(ctx context.Context, name string) (bool, error)
	ListContainers(ctx context.Context) ([]string, error)
	GetPort(ctx context.Context, name string) (int, error)
	InspectStatus(ctx context.Context, name string) (container.State, error)
	WaitHealthy(ctx context.Context, name string, timeout time.Duration) error
	ExecSQL(ctx context.Context, name, sql, user string) (string, error)
}

// WALManager is the subset of the WAL Manager the orchestrator needs.
// wal.Manager satisfies it structurally.
type WALManager interface {
	GetArchivePath(dataset string) string
	EnsureArchiveDir(dataset string) (string, error)
	GetArchiveInfo(dataset string) (wal.Info, error)
	VerifyArchiveIntegrity(dataset string) ([]string, error)
	CleanupOldWALs(dataset string, retentionDays int) (int, error)
	SetupPITRecovery(mountpoint, sourceArchivePath string, recoveryTarget time.Time) error
}

// CatalogStore is the subset of the State Store the orchestrator uses.
// catalog.Store satisfies it structurally.
type CatalogStore interface {
	Load() (*types.Catalog, error)
	WithLock(ctx context.Context, fn func(c *types.Catalog) (*types.Catalog, error)) error
}

// Config bundles the orchestrator's tunables. The CLI layer sets only
// DataBaseDir (from --data-dir); the rest keep DefaultConfig's values.
type Config struct {
	DataBaseDir    string // root for per-project TLS directories
	HealthTimeout  time.Duration
	PITRTimeout    time.Duration
	StopTimeout    time.Duration
	DefaultImage   string
	ContainerPort  int // port the database listens on inside the container
	RetentionDays  int
}

// DefaultConfig returns the engine's default tunables (spec §5: health
// ~60s, PITR ~180s).
func DefaultConfig() Config {
	return Config{
		HealthTimeout: 60 * time.Second,
		PITRTimeout:   180 * time.Second,
		StopTimeout:   30 * time.Second,
		DefaultImage:  "postgres:16",
		ContainerPort: 5432,
		RetentionDays: 7,
	}
}

// Orchestrator wires the six components together.
type Orchestrator struct {
	cfg        Config
	store      CatalogStore
	fs         fsdriver.Driver
	containers ContainerRuntime
	wal        WALManager
	secretsMgr *secrets.Manager
	backupRepo backup.Repo // nil until a backup config is initialized
	logger     zerolog.Logger
}

// New builds an Orchestrator from its component dependencies.
func New(cfg Config, store CatalogStore, fs fsdriver.Driver, containers ContainerRuntime, walMgr WALManager, secretsMgr *secrets.Manager) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		fs:         fs,
		containers: containers,
		wal:        walMgr,
		secretsMgr: secretsMgr,
		logger:     log.WithComponent("orchestrator"),
	}
}

// SetBackupRepo attaches a backup repository once one has been
// initialized (spec §4.F is optional; absent until `backup init`).
func (o *Orchestrator) SetBackupRepo(repo backup.Repo) {
	o.backupRepo = repo
}

func newID() string {
	return uuid.NewString()
}
