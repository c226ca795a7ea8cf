package fsdriver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/pgd/pkg/log"
)

// ZFSDriver implements Driver by shelling out to the zfs/zpool
// binaries, normalizing every short name against pool/base.
type ZFSDriver struct {
	pool   string
	base   string
	logger zerolog.Logger
}

// NewZFSDriver returns a driver rooted at pool/base (e.g. "tank/pgd").
func NewZFSDriver(pool, base string) *ZFSDriver {
	return &ZFSDriver{pool: pool, base: base, logger: log.WithComponent("fsdriver")}
}

func (d *ZFSDriver) normalize(name string) string {
	return fmt.Sprintf("%s/%s/%s", d.pool, d.base, name)
}

func (d *ZFSDriver) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "zfs", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		return stdout.String(), fmt.Errorf("%s: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (d *ZFSDriver) runZpool(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "zpool", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		return stdout.String(), fmt.Errorf("%s: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// ListPools returns the names of every imported storage pool, used by
// createProject's auto-detection (spec: "exactly one present ⇒ use
// it; zero ⇒ fail; many ⇒ require override").
func (d *ZFSDriver) ListPools(ctx context.Context) ([]string, error) {
	out, err := d.runZpool(ctx, "list", "-H", "-o", "name")
	if err != nil {
		return nil, wrapErr("listPools", "", err)
	}
	var pools []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			pools = append(pools, line)
		}
	}
	return pools, nil
}

func (d *ZFSDriver) PoolExists(ctx context.Context, pool string) (bool, error) {
	_, err := d.runZpool(ctx, "list", "-H", pool)
	if err != nil {
		if strings.Contains(err.Error(), "no such pool") {
			return false, nil
		}
		return false, wrapErr("poolExists", pool, err)
	}
	return true, nil
}

func (d *ZFSDriver) CreateDataset(ctx context.Context, name string, props map[string]string) error {
	full := d.normalize(name)
	args := []string{"create"}
	for k, v := range props {
		args = append(args, "-o", k+"="+v)
	}
	args = append(args, full)
	if _, err := d.run(ctx, args...); err != nil {
		return wrapErr("createDataset", full, err)
	}
	return nil
}

func (d *ZFSDriver) DatasetExists(ctx context.Context, name string) (bool, error) {
	full := d.normalize(name)
	_, err := d.run(ctx, "list", "-H", full)
	if err != nil {
		if strings.Contains(err.Error(), "dataset does not exist") {
			return false, nil
		}
		return false, wrapErr("datasetExists", full, err)
	}
	return true, nil
}

// ListDatasets returns the short names of every dataset directly under
// pool/base (one level deep, e.g. the datasets createBranch/createProject
// name branches after), used to find orphan clones that have no
// snapshot of their own and so are invisible to ListSnapshots.
func (d *ZFSDriver) ListDatasets(ctx context.Context) ([]string, error) {
	base := fmt.Sprintf("%s/%s", d.pool, d.base)
	out, err := d.run(ctx, "list", "-H", "-o", "name", "-r", base)
	if err != nil {
		return nil, wrapErr("listDatasets", base, err)
	}
	return parseDatasetList(out, base), nil
}

// parseDatasetList parses `zfs list -H -o name -r <base>` output,
// keeping only base's direct children (deeper descendants, e.g. a
// clone of a clone, are excluded).
func parseDatasetList(out, base string) []string {
	prefix := base + "/"
	var names []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == base {
			continue
		}
		rest := strings.TrimPrefix(line, prefix)
		if rest == line || strings.Contains(rest, "/") {
			continue
		}
		names = append(names, rest)
	}
	return names
}

func (d *ZFSDriver) DestroyDataset(ctx context.Context, name string, recursive bool) error {
	full := d.normalize(name)
	args := []string{"destroy"}
	if recursive {
		args = append(args, "-r")
	}
	args = append(args, full)
	if _, err := d.run(ctx, args...); err != nil {
		return wrapErr("destroyDataset", full, err)
	}
	return nil
}

func (d *ZFSDriver) MountDataset(ctx context.Context, name string) error {
	full := d.normalize(name)
	if _, err := d.run(ctx, "mount", full); err != nil {
		if strings.Contains(err.Error(), "already mounted") {
			return nil
		}
		return wrapErr("mountDataset", full, err)
	}
	return nil
}

func (d *ZFSDriver) UnmountDataset(ctx context.Context, name string) error {
	full := d.normalize(name)
	if _, err := d.run(ctx, "unmount", full); err != nil {
		if strings.Contains(err.Error(), "not currently mounted") {
			return nil
		}
		return wrapErr("unmountDataset", full, err)
	}
	return nil
}

func (d *ZFSDriver) GetMountpoint(ctx context.Context, name string) (string, error) {
	full := d.normalize(name)
	out, err := d.run(ctx, "get", "-H", "-o", "value", "mountpoint", full)
	if err != nil {
		return "", wrapErr("getMountpoint", full, err)
	}
	return strings.TrimSpace(out), nil
}

func (d *ZFSDriver) CreateSnapshot(ctx context.Context, dataset, label string) (string, error) {
	full := d.normalize(dataset)
	fqSnap := full + "@" + label
	if _, err := d.run(ctx, "snapshot", fqSnap); err != nil {
		return "", wrapErr("createSnapshot", fqSnap, err)
	}
	return fqSnap, nil
}

func (d *ZFSDriver) DestroySnapshot(ctx context.Context, fqSnap string) error {
	if _, err := d.run(ctx, "destroy", fqSnap); err != nil {
		return wrapErr("destroySnapshot", fqSnap, err)
	}
	return nil
}

func (d *ZFSDriver) ListSnapshots(ctx context.Context, scope string) ([]SnapshotInfo, error) {
	args := []string{"list", "-H", "-t", "snapshot", "-o", "name,creation", "-p", "-s", "creation"}
	if scope != "" {
		args = append(args, "-r", d.normalize(scope))
	}
	out, err := d.run(ctx, args...)
	if err != nil {
		return nil, wrapErr("listSnapshots", scope, err)
	}
	return parseSnapshotList(out), nil
}

// parseSnapshotList parses the output of `zfs list -H -t snapshot -o
// name,creation -p -s creation` into ordered SnapshotInfo values.
func parseSnapshotList(out string) []SnapshotInfo {
	var infos []SnapshotInfo
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		name, epoch := fields[0], fields[1]
		secs, err := strconv.ParseInt(epoch, 10, 64)
		if err != nil {
			continue
		}
		dataset, label, _ := strings.Cut(name, "@")
		infos = append(infos, SnapshotInfo{
			Name:      name,
			Dataset:   dataset,
			Label:     label,
			CreatedAt: time.Unix(secs, 0).UTC(),
		})
	}
	return infos
}

func (d *ZFSDriver) CloneSnapshot(ctx context.Context, fqSnap, target string) error {
	full := d.normalize(target)
	if _, err := d.run(ctx, "clone", fqSnap, full); err != nil {
		return wrapErr("cloneSnapshot", fqSnap+"->"+full, err)
	}
	return nil
}

func (d *ZFSDriver) GetUsedSpace(ctx context.Context, name string) (int64, error) {
	full := d.normalize(name)
	out, err := d.run(ctx, "get", "-H", "-p", "-o", "value", "used", full)
	if err != nil {
		return 0, wrapErr("getUsedSpace", full, err)
	}
	used, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, wrapErr("getUsedSpace", full, err)
	}
	return used, nil
}
