package container

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestDriverBasicWorkflow exercises create -> start -> inspect -> stop
// -> remove against a real containerd socket. It is skipped wherever
// containerd isn't reachable, the same way the teacher's own
// containerd integration test skips rather than fails.
func TestDriverBasicWorkflow(t *testing.T) {
	d, err := New(DefaultSocketPath)
	if err != nil {
		t.Skipf("containerd not available: %v", err)
	}
	defer d.Close()

	ctx := context.Background()
	image := "docker.io/library/alpine:latest"

	if err := d.PullImage(ctx, image); err != nil {
		t.Skipf("could not pull test image: %v", err)
	}

	name := "pgd-test-" + uuid.NewString()[:8]
	spec := Spec{
		Name:          name,
		Image:         image,
		Env:           []string{"PGD_TEST=1"},
		ContainerPort: 5432,
	}

	port, err := d.Create(ctx, spec)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if port == 0 {
		t.Fatal("expected a non-zero reserved port")
	}
	defer d.Remove(ctx, name, true)

	if err := d.Start(ctx, name); err != nil {
		t.Fatalf("Start: %v", err)
	}

	status, err := d.InspectStatus(ctx, name)
	if err != nil {
		t.Fatalf("InspectStatus: %v", err)
	}
	if status != StateRunning {
		t.Fatalf("expected state running, got %s", status)
	}

	gotPort, err := d.GetPort(ctx, name)
	if err != nil {
		t.Fatalf("GetPort: %v", err)
	}
	if gotPort != port {
		t.Fatalf("GetPort returned %d, want %d", gotPort, port)
	}

	if err := d.Stop(ctx, name, 5*time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	status, err = d.InspectStatus(ctx, name)
	if err != nil {
		t.Fatalf("InspectStatus after stop: %v", err)
	}
	if status != StateStopped {
		t.Fatalf("expected state stopped, got %s", status)
	}

	if err := d.Remove(ctx, name, false); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	exists, err := d.GetByName(ctx, name)
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if exists {
		t.Fatal("expected container to be gone after Remove")
	}
}

func TestBindMountOptions(t *testing.T) {
	m := bindMount(Mount{Source: "/src", Destination: "/dst", ReadOnly: true})
	if m.Options[len(m.Options)-1] != "ro" {
		t.Fatalf("expected read-only mount, got options %v", m.Options)
	}

	m = bindMount(Mount{Source: "/src", Destination: "/dst"})
	if m.Options[len(m.Options)-1] != "rw" {
		t.Fatalf("expected read-write mount, got options %v", m.Options)
	}
}
