package engineerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestExitCodes(t *testing.T) {
	if KindUser.ExitCode() != 1 {
		t.Fatalf("user error exit code = %d, want 1", KindUser.ExitCode())
	}
	if KindSystem.ExitCode() != 2 {
		t.Fatalf("system error exit code = %d, want 2", KindSystem.ExitCode())
	}
	if KindInvariant.ExitCode() != 2 {
		t.Fatalf("invariant error exit code = %d, want 2", KindInvariant.ExitCode())
	}
}

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	base := User("branch not found", errors.New("no such branch"))
	wrapped := errors.New("context: " + base.Error())
	if KindOf(wrapped) != KindSystem {
		t.Fatalf("KindOf on a plain error should default to KindSystem")
	}
	if KindOf(base) != KindUser {
		t.Fatalf("KindOf(base) = %v, want KindUser", KindOf(base))
	}
	if got := KindOf(fmt.Errorf("context: %w", base)); got != KindUser {
		t.Fatalf("KindOf(%%w-wrapped) = %v, want KindUser", got)
	}
}

func TestRenderDebugIncludesCause(t *testing.T) {
	cause := errors.New("dataset busy")
	err := SystemHint("failed to destroy dataset", "is anything still mounted?", cause)

	plain := Render(err, false)
	if strings.Contains(plain, "dataset busy") {
		t.Fatalf("non-debug render should not include cause, got %q", plain)
	}
	debugOut := Render(err, true)
	if !strings.Contains(debugOut, "dataset busy") {
		t.Fatalf("debug render should include cause, got %q", debugOut)
	}
	if !strings.Contains(debugOut, "is anything still mounted?") {
		t.Fatalf("render should include hint, got %q", debugOut)
	}
}

func TestInvariantHeadlinePrefixed(t *testing.T) {
	err := Invariant("dangling snapshot reference", errors.New("branch api/gone not found"))
	if err.Kind != KindInvariant {
		t.Fatalf("expected KindInvariant")
	}
	if !strings.Contains(err.Headline, "state corrupted") {
		t.Fatalf("invariant headline should mention state corrupted, got %q", err.Headline)
	}
}
