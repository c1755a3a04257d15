package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquirePIDLockWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "data", "hookrelay.lock")
	l, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		t.Fatalf("expected PID in lock file, got empty")
	}
}

func TestAcquirePIDLockHeld(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "hookrelay.lock")
	l, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}

	// flock locks belong to the open file description, so a second open in
	// the same process conflicts.
	if _, err := AcquirePIDLock(lockPath); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}

	pid, err := Holder(lockPath)
	if err != nil {
		t.Fatalf("Holder: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("expected holder %d, got %d", os.Getpid(), pid)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if pid, err := Holder(lockPath); err != nil || pid != 0 {
		t.Fatalf("expected no holder after release, got %d, %v", pid, err)
	}

	l2, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	_ = l2.Release()
}

func TestHolderMissingFile(t *testing.T) {
	t.Parallel()

	pid, err := Holder(filepath.Join(t.TempDir(), "none.lock"))
	if err != nil || pid != 0 {
		t.Fatalf("expected 0, nil; got %d, %v", pid, err)
	}
}

func TestPathFor(t *testing.T) {
	t.Parallel()

	if got := PathFor("/var/lib/hookrelay/journal.db"); got != "/var/lib/hookrelay/hookrelay.lock" {
		t.Fatalf("unexpected lock path %q", got)
	}
}
