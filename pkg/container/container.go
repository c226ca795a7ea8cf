// Package container wraps the container runtime (containerd) the
// Container Driver needs: create/start/stop/remove/restart, status
// inspection, port discovery, health waiting, and in-container SQL
// execution as the database superuser.
package container

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"

	"github.com/cuemby/pgd/pkg/engineerr"
	"github.com/cuemby/pgd/pkg/health"
	"github.com/cuemby/pgd/pkg/log"
)

const (
	// DefaultNamespace is the containerd namespace branches run in.
	DefaultNamespace = "pgd"
	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	portLabel = "pgd.port"

	// containerNamePrefix identifies this engine's containers among
	// everything else the containerd namespace might hold.
	containerNamePrefix = "pgd-"
)

// State is a container's coarse runtime status.
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateUnknown State = "unknown"
)

// Mount describes one bind mount for a branch container.
type Mount struct {
	Source      string
	Destination string
	ReadOnly    bool
}

// Spec describes the container to create for one branch (spec §4.D).
type Spec struct {
	Name          string // deterministic container name, types.ContainerName(branch)
	Image         string
	Env           []string // credentials + data-directory path
	DataMount     Mount    // branch data mount -> database data path
	WALMount      Mount    // branch WAL archive dir -> in-container archive path
	CertMount     Mount    // project TLS directory -> certificate path, read-only
	ContainerPort int      // port the database listens on inside the container
}

// Driver implements the Container Driver over containerd.
type Driver struct {
	client    *containerd.Client
	namespace string
	logger    zerolog.Logger
}

// New connects to the containerd socket at socketPath (DefaultSocketPath
// if empty).
func New(socketPath string) (*Driver, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, engineerr.SystemHint("failed to connect to container runtime", "is the container runtime daemon running?", err)
	}
	return &Driver{client: client, namespace: DefaultNamespace, logger: log.WithComponent("container")}, nil
}

func (d *Driver) Close() error {
	if d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *Driver) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, d.namespace)
}

// ImageExists reports whether ref has already been pulled.
func (d *Driver) ImageExists(ctx context.Context, ref string) (bool, error) {
	ctx = d.ctx(ctx)
	_, err := d.client.GetImage(ctx, ref)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// PullImage pulls ref from its registry.
func (d *Driver) PullImage(ctx context.Context, ref string) error {
	ctx = d.ctx(ctx)
	if _, err := d.client.Pull(ctx, ref, containerd.WithPullUnpack); err != nil {
		return engineerr.System(fmt.Sprintf("failed to pull image %s", ref), err)
	}
	return nil
}

// reserveFreePort asks the OS for an unused TCP port and releases it
// immediately; the container's database is configured to listen on it
// (spec §9: "request port 0 then read back").
func reserveFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Create builds and creates (but does not start) a branch's container,
// assigning it a dynamic host port recorded as a container label.
func (d *Driver) Create(ctx context.Context, spec Spec) (int, error) {
	ctx = d.ctx(ctx)

	port, err := reserveFreePort()
	if err != nil {
		return 0, engineerr.System("failed to reserve a host port", err)
	}

	image, err := d.client.GetImage(ctx, spec.Image)
	if err != nil {
		return 0, engineerr.System(fmt.Sprintf("image %s not found locally", spec.Image), err)
	}

	mounts := []specs.Mount{
		bindMount(spec.DataMount),
		bindMount(spec.WALMount),
		bindMount(spec.CertMount),
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(append(spec.Env, fmt.Sprintf("PGD_PORT=%d", port))),
		oci.WithMounts(mounts),
	}

	_, err = d.client.NewContainer(
		ctx,
		spec.Name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.Name+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(map[string]string{portLabel: fmt.Sprintf("%d", port)}),
	)
	if err != nil {
		return 0, engineerr.System(fmt.Sprintf("failed to create container %s", spec.Name), err)
	}
	return port, nil
}

func bindMount(m Mount) specs.Mount {
	opts := []string{"bind"}
	if m.ReadOnly {
		opts = append(opts, "ro")
	} else {
		opts = append(opts, "rw")
	}
	return specs.Mount{
		Source:      m.Source,
		Destination: m.Destination,
		Type:        "bind",
		Options:     opts,
	}
}

// Start creates a task for name and starts it. A container whose task
// exits is not restarted automatically: neither containerd nor the
// orchestrator watches for or restarts a crashed task.
func (d *Driver) Start(ctx context.Context, name string) error {
	ctx = d.ctx(ctx)
	c, err := d.client.LoadContainer(ctx, name)
	if err != nil {
		return engineerr.System(fmt.Sprintf("failed to load container %s", name), err)
	}
	task, err := c.NewTask(ctx, cio.NewCreator(cio.WithStdio))
	if err != nil {
		return engineerr.System(fmt.Sprintf("failed to create task for %s", name), err)
	}
	if err := task.Start(ctx); err != nil {
		return engineerr.System(fmt.Sprintf("failed to start container %s", name), err)
	}
	return nil
}

// Stop sends SIGTERM, waits up to timeout, then SIGKILLs and deletes
// the task.
func (d *Driver) Stop(ctx context.Context, name string, timeout time.Duration) error {
	ctx = d.ctx(ctx)
	c, err := d.client.LoadContainer(ctx, name)
	if err != nil {
		return engineerr.System(fmt.Sprintf("failed to load container %s", name), err)
	}
	task, err := c.Task(ctx, nil)
	if err != nil {
		return nil // not running
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return engineerr.System(fmt.Sprintf("failed to signal container %s", name), err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return engineerr.System(fmt.Sprintf("failed to wait on container %s", name), err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return engineerr.System(fmt.Sprintf("failed to force-kill container %s", name), err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return engineerr.System(fmt.Sprintf("failed to delete task for %s", name), err)
	}
	return nil
}

// Restart stops then starts name.
func (d *Driver) Restart(ctx context.Context, name string, timeout time.Duration) error {
	if err := d.Stop(ctx, name, timeout); err != nil {
		return err
	}
	return d.Start(ctx, name)
}

// Remove deletes the container and its snapshot. If force is false and
// a task is still running, it returns a user error instead of killing
// it out from under the caller.
func (d *Driver) Remove(ctx context.Context, name string, force bool) error {
	ctx = d.ctx(ctx)
	c, err := d.client.LoadContainer(ctx, name)
	if err != nil {
		return nil // already gone
	}

	if _, terr := c.Task(ctx, nil); terr == nil {
		if !force {
			return engineerr.User(fmt.Sprintf("container %s is still running; stop it first or use --force", name), nil)
		}
		if err := d.Stop(ctx, name, 10*time.Second); err != nil {
			d.logger.Warn().Err(err).Str("container", name).Msg("failed to stop container before removal, continuing")
		}
	}

	if err := c.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return engineerr.System(fmt.Sprintf("failed to delete container %s", name), err)
	}
	return nil
}

// GetByName reports whether a container exists.
func (d *Driver) GetByName(ctx context.Context, name string) (bool, error) {
	ctx = d.ctx(ctx)
	_, err := d.client.LoadContainer(ctx, name)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// ListContainers returns the names of every engine-owned container
// known to the runtime, regardless of catalog state — the reverse
// direction from GetByName, needed to find containers a crashed
// createBranch left behind with no catalog record at all.
func (d *Driver) ListContainers(ctx context.Context) ([]string, error) {
	ctx = d.ctx(ctx)
	containers, err := d.client.Containers(ctx)
	if err != nil {
		return nil, engineerr.System("failed to list containers", err)
	}
	var names []string
	for _, c := range containers {
		if strings.HasPrefix(c.ID(), containerNamePrefix) {
			names = append(names, c.ID())
		}
	}
	return names, nil
}

// GetPort returns the dynamic host port assigned at Create time.
func (d *Driver) GetPort(ctx context.Context, name string) (int, error) {
	ctx = d.ctx(ctx)
	c, err := d.client.LoadContainer(ctx, name)
	if err != nil {
		return 0, engineerr.System(fmt.Sprintf("failed to load container %s", name), err)
	}
	labels, err := c.Labels(ctx)
	if err != nil {
		return 0, engineerr.System(fmt.Sprintf("failed to read labels for %s", name), err)
	}
	var port int
	if _, err := fmt.Sscanf(labels[portLabel], "%d", &port); err != nil {
		return 0, engineerr.Invariant(fmt.Sprintf("container %s has no recorded port label", name), err)
	}
	return port, nil
}

// InspectStatus returns a container's coarse runtime status.
func (d *Driver) InspectStatus(ctx context.Context, name string) (State, error) {
	ctx = d.ctx(ctx)
	c, err := d.client.LoadContainer(ctx, name)
	if err != nil {
		return StateUnknown, engineerr.System(fmt.Sprintf("failed to load container %s", name), err)
	}
	task, err := c.Task(ctx, nil)
	if err != nil {
		return StateStopped, nil
	}
	status, err := task.Status(ctx)
	if err != nil {
		return StateUnknown, engineerr.System(fmt.Sprintf("failed to read status for %s", name), err)
	}
	switch status.Status {
	case containerd.Running:
		return StateRunning, nil
	default:
		return StateStopped, nil
	}
}

// WaitHealthy polls a TCP health check against the branch's discovered
// port until it succeeds or timeout elapses.
func (d *Driver) WaitHealthy(ctx context.Context, name string, timeout time.Duration) error {
	port, err := d.GetPort(ctx, name)
	if err != nil {
		return err
	}
	checker := health.NewTCPChecker(fmt.Sprintf("127.0.0.1:%d", port))

	deadline := time.Now().Add(timeout)
	for {
		result := checker.Check(ctx)
		if result.Healthy {
			return nil
		}
		if time.Now().After(deadline) {
			return engineerr.SystemHint(fmt.Sprintf("container %s did not become healthy within %s", name, timeout), "check the container logs for startup errors", nil)
		}
		select {
		case <-ctx.Done():
			return engineerr.System("health wait cancelled", ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// ExecSQL runs a single SQL statement inside the running container as
// the database superuser, via containerd's task exec facility.
func (d *Driver) ExecSQL(ctx context.Context, name, sql, user string) (string, error) {
	ctx = d.ctx(ctx)
	c, err := d.client.LoadContainer(ctx, name)
	if err != nil {
		return "", engineerr.System(fmt.Sprintf("failed to load container %s", name), err)
	}
	task, err := c.Task(ctx, nil)
	if err != nil {
		return "", engineerr.System(fmt.Sprintf("container %s has no running task", name), err)
	}

	spec := &specs.Process{
		Args: []string{"psql", "-U", user, "-c", sql},
		Cwd:  "/",
		Env:  []string{"PATH=/usr/local/bin:/usr/bin:/bin"},
	}

	var stdout, stderr bytes.Buffer
	execID := fmt.Sprintf("execsql-%d", time.Now().UnixNano())
	process, err := task.Exec(ctx, execID, spec, cio.NewCreator(cio.WithStreams(nil, &stdout, &stderr)))
	if err != nil {
		return "", engineerr.System(fmt.Sprintf("failed to start exec in container %s", name), err)
	}
	defer process.Delete(ctx)

	statusC, err := process.Wait(ctx)
	if err != nil {
		return "", engineerr.System("failed to wait for exec to complete", err)
	}
	if err := process.Start(ctx); err != nil {
		return "", engineerr.System("failed to start exec process", err)
	}

	status := <-statusC
	if code, _, _ := status.Result(); code != 0 {
		return stdout.String(), engineerr.System(fmt.Sprintf("statement failed inside container %s: %s", name, stderr.String()), nil)
	}
	return stdout.String(), nil
}
