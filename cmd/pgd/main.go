package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/pgd/pkg/backup"
	"github.com/cuemby/pgd/pkg/catalog"
	"github.com/cuemby/pgd/pkg/container"
	"github.com/cuemby/pgd/pkg/engineerr"
	"github.com/cuemby/pgd/pkg/fsdriver"
	"github.com/cuemby/pgd/pkg/log"
	"github.com/cuemby/pgd/pkg/orchestrator"
	"github.com/cuemby/pgd/pkg/secrets"
	"github.com/cuemby/pgd/pkg/types"
	"github.com/cuemby/pgd/pkg/wal"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		debug, _ := rootCmd.PersistentFlags().GetBool("debug")
		fmt.Fprintln(os.Stderr, "Error:", engineerr.Render(err, debug))
		os.Exit(engineerr.KindOf(err).ExitCode())
	}
}

var rootCmd = &cobra.Command{
	Use:   "pgd",
	Short: "pgd - instant, space-efficient PostgreSQL branches",
	Long: `pgd clones a PostgreSQL database in seconds using copy-on-write
filesystem snapshots instead of a logical dump/restore, and brings each
clone up as its own isolated container.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("pgd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	defaultDataDir := filepath.Join(os.Getenv("HOME"), ".pgd")
	if defaultDataDir == "" || os.Getenv("HOME") == "" {
		defaultDataDir = "/var/lib/pgd"
	}

	rootCmd.PersistentFlags().String("data-dir", defaultDataDir, "Root directory for the catalog, WAL archives and TLS material")
	rootCmd.PersistentFlags().String("pool", "", "Storage pool to use (auto-detected when exactly one exists)")
	rootCmd.PersistentFlags().String("containerd-socket", "/run/containerd/containerd.sock", "containerd socket path")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "Print the underlying cause chain on failure")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(walCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

// newEngine resolves the storage pool (flag, then catalog, then
// auto-detection against a fixed single candidate) and wires every
// component the orchestrator needs. It returns the resolved pool so
// callers can pass it through as createProject's explicit override,
// keeping the CLI's already-bound fsdriver consistent with whatever
// the catalog ends up recording.
func newEngine(cmd *cobra.Command) (*orchestrator.Orchestrator, string, error) {
	ctx := context.Background()
	dataDir, _ := cmd.Flags().GetString("data-dir")
	poolFlag, _ := cmd.Flags().GetString("pool")
	socket, _ := cmd.Flags().GetString("containerd-socket")

	store, err := catalog.NewStore(filepath.Join(dataDir, "state"))
	if err != nil {
		return nil, "", err
	}

	pool := poolFlag
	if pool == "" {
		cat, err := store.Load()
		if err != nil {
			return nil, "", err
		}
		pool = cat.Pool
	}
	if pool == "" {
		pool, err = autodetectPool(ctx)
		if err != nil {
			return nil, "", err
		}
	}

	fs := fsdriver.NewZFSDriver(pool, types.NamePrefix)

	containers, err := container.New(socket)
	if err != nil {
		return nil, "", engineerr.SystemHint("connect to container runtime", "is containerd running at the configured socket?", err)
	}

	walMgr := wal.NewManager(dataDir)

	secretsMgr, err := loadOrCreateSecretsManager(dataDir)
	if err != nil {
		return nil, "", err
	}

	cfg := orchestrator.DefaultConfig()
	cfg.DataBaseDir = dataDir
	o := orchestrator.New(cfg, store, fs, containers, walMgr, secretsMgr)

	if repo, err := loadBackupRepo(store); err == nil && repo != nil {
		o.SetBackupRepo(repo)
	}

	return o, pool, nil
}

// autodetectPool probes for storage pools using an unbound driver
// (ListPools never touches the driver's own pool field).
func autodetectPool(ctx context.Context) (string, error) {
	probe := fsdriver.NewZFSDriver("", types.NamePrefix)
	pools, err := probe.ListPools(ctx)
	if err != nil {
		return "", err
	}
	switch len(pools) {
	case 0:
		return "", engineerr.UserHint("no storage pool found", "create a pool or pass --pool", nil)
	case 1:
		return pools[0], nil
	default:
		return "", engineerr.UserHint(fmt.Sprintf("%d storage pools found", len(pools)), "pass --pool to select one", nil)
	}
}

const secretsKeyFile = "secret.key"

// loadOrCreateSecretsManager reads the engine's credential-encryption
// key from <data-dir>/secret.key, generating one on first use.
func loadOrCreateSecretsManager(dataDir string) (*secrets.Manager, error) {
	path := filepath.Join(dataDir, secretsKeyFile)
	key, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, engineerr.System("generate credential encryption key", err)
		}
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, engineerr.System("create data directory", err)
		}
		if err := os.WriteFile(path, key, 0o600); err != nil {
			return nil, engineerr.System("write credential encryption key", err)
		}
	} else if err != nil {
		return nil, engineerr.System("read credential encryption key", err)
	}
	return secrets.NewManager(key)
}

// loadBackupRepo attaches a backup repository only once one has been
// initialized with `pgd backup init`; its absence is not an error.
func loadBackupRepo(store *catalog.Store) (backup.Repo, error) {
	c, err := store.Load()
	if err != nil {
		return nil, err
	}
	if c.BackupConfig == nil || c.BackupConfig.LocalConfigPath == "" {
		return nil, nil
	}
	return backup.NewLocalRepo(c.BackupConfig.RepositoryPrefix)
}

func parseRecoveryTarget(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return parseRelativeTarget(s)
}
