package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/pgd/pkg/container"
	"github.com/cuemby/pgd/pkg/fsdriver"
	"github.com/cuemby/pgd/pkg/types"
	"github.com/cuemby/pgd/pkg/wal"
)

// fakeStore is an in-memory CatalogStore with the same WithLock/Load
// contract as pkg/catalog.Store, minus the file lock (a single mutex
// suffices for single-process tests).
type fakeStore struct {
	mu  sync.Mutex
	cat *types.Catalog
}

func newFakeStore() *fakeStore {
	return &fakeStore{cat: types.NewCatalog()}
}

func (s *fakeStore) Load() (*types.Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCatalog(s.cat), nil
}

func (s *fakeStore) WithLock(ctx context.Context, fn func(c *types.Catalog) (*types.Catalog, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated, err := fn(cloneCatalog(s.cat))
	if err != nil {
		return err
	}
	if updated != nil {
		s.cat = updated
	}
	return nil
}

func cloneCatalog(c *types.Catalog) *types.Catalog {
	clone := types.NewCatalog()
	clone.Version = c.Version
	clone.Pool = c.Pool
	clone.BasePath = c.BasePath
	for k, v := range c.Projects {
		p := *v
		clone.Projects[k] = &p
	}
	for k, v := range c.Branches {
		b := *v
		clone.Branches[k] = &b
	}
	for k, v := range c.Snapshots {
		s := *v
		clone.Snapshots[k] = &s
	}
	return clone
}

// fakeFS implements fsdriver.Driver entirely in memory.
type fakeFS struct {
	mu        sync.Mutex
	pools     []string
	datasets  map[string]bool
	mounted   map[string]bool
	snapshots []fsdriver.SnapshotInfo
	snapCount int
}

func newFakeFS(pool string) *fakeFS {
	return &fakeFS{pools: []string{pool}, datasets: map[string]bool{}, mounted: map[string]bool{}}
}

func (f *fakeFS) ListPools(ctx context.Context) ([]string, error) { return f.pools, nil }

func (f *fakeFS) PoolExists(ctx context.Context, pool string) (bool, error) {
	for _, p := range f.pools {
		if p == pool {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeFS) CreateDataset(ctx context.Context, name string, props map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.datasets[name] = true
	return nil
}

func (f *fakeFS) DatasetExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.datasets[name], nil
}

func (f *fakeFS) ListDatasets(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.datasets))
	for name := range f.datasets {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeFS) DestroyDataset(ctx context.Context, name string, recursive bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.datasets, name)
	delete(f.mounted, name)
	return nil
}

func (f *fakeFS) MountDataset(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounted[name] = true
	return nil
}

func (f *fakeFS) UnmountDataset(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.mounted, name)
	return nil
}

func (f *fakeFS) GetMountpoint(ctx context.Context, name string) (string, error) {
	return "/mnt/" + name, nil
}

func (f *fakeFS) CreateSnapshot(ctx context.Context, dataset, label string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapCount++
	fqSnap := fmt.Sprintf("%s@%s", dataset, label)
	f.snapshots = append(f.snapshots, fsdriver.SnapshotInfo{Name: fqSnap, Dataset: dataset, Label: label, CreatedAt: time.Now()})
	return fqSnap, nil
}

func (f *fakeFS) DestroySnapshot(ctx context.Context, fqSnap string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.snapshots {
		if s.Name == fqSnap {
			f.snapshots = append(f.snapshots[:i], f.snapshots[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeFS) ListSnapshots(ctx context.Context, scope string) ([]fsdriver.SnapshotInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fsdriver.SnapshotInfo(nil), f.snapshots...), nil
}

func (f *fakeFS) CloneSnapshot(ctx context.Context, fqSnap, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.datasets[target] = true
	return nil
}

func (f *fakeFS) GetUsedSpace(ctx context.Context, name string) (int64, error) { return 1024, nil }

// fakeContainers implements orchestrator.ContainerRuntime in memory.
type fakeContainers struct {
	mu          sync.Mutex
	running     map[string]bool
	ports       map[string]int
	nextPort    int
	execCalls   []string
	imagesKnown map[string]bool
}

func newFakeContainers() *fakeContainers {
	return &fakeContainers{
		running:     map[string]bool{},
		ports:       map[string]int{},
		nextPort:    40000,
		imagesKnown: map[string]bool{},
	}
}

func (f *fakeContainers) ImageExists(ctx context.Context, ref string) (bool, error) {
	return f.imagesKnown[ref], nil
}

func (f *fakeContainers) PullImage(ctx context.Context, ref string) error {
	f.imagesKnown[ref] = true
	return nil
}

func (f *fakeContainers) Create(ctx context.Context, spec container.Spec) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPort++
	f.ports[spec.Name] = f.nextPort
	f.running[spec.Name] = false
	return f.nextPort, nil
}

func (f *fakeContainers) Start(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[name] = true
	return nil
}

func (f *fakeContainers) Stop(ctx context.Context, name string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[name] = false
	return nil
}

func (f *fakeContainers) Restart(ctx context.Context, name string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[name] = true
	return nil
}

func (f *fakeContainers) Remove(ctx context.Context, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, name)
	delete(f.ports, name)
	return nil
}

func (f *fakeContainers) GetByName(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.running[name]
	return ok, nil
}

func (f *fakeContainers) ListContainers(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.running))
	for name := range f.running {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeContainers) GetPort(ctx context.Context, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ports[name], nil
}

func (f *fakeContainers) InspectStatus(ctx context.Context, name string) (container.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running[name] {
		return container.StateRunning, nil
	}
	return container.StateStopped, nil
}

func (f *fakeContainers) WaitHealthy(ctx context.Context, name string, timeout time.Duration) error {
	return nil
}

func (f *fakeContainers) ExecSQL(ctx context.Context, name, sql, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls = append(f.execCalls, sql)
	return "", nil
}

// fakeWAL implements orchestrator.WALManager in memory.
type fakeWAL struct {
	mu      sync.Mutex
	ensured map[string]bool
}

func newFakeWAL() *fakeWAL { return &fakeWAL{ensured: map[string]bool{}} }

func (w *fakeWAL) GetArchivePath(dataset string) string { return "/wal/" + dataset }

func (w *fakeWAL) EnsureArchiveDir(dataset string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensured[dataset] = true
	return w.GetArchivePath(dataset), nil
}

func (w *fakeWAL) GetArchiveInfo(dataset string) (wal.Info, error) { return wal.Info{}, nil }

func (w *fakeWAL) VerifyArchiveIntegrity(dataset string) ([]string, error) { return nil, nil }

func (w *fakeWAL) CleanupOldWALs(dataset string, retentionDays int) (int, error) { return 0, nil }

func (w *fakeWAL) SetupPITRecovery(mountpoint, sourceArchivePath string, recoveryTarget time.Time) error {
	return nil
}
