package lockfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTryAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mylock")
	l := New(path, time.Second)

	acquired, err := l.TryAcquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatal("expected to acquire free lock")
	}
	if l.State() != Held {
		t.Error("expected state Held after acquire")
	}

	if err := l.Release(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.State() != Free {
		t.Error("expected state Free after release")
	}

	if _, err := os.Stat(l.lockPath()); !os.IsNotExist(err) {
		t.Error("expected lock file removed after release")
	}
	if _, err := os.Stat(l.alivePath()); !os.IsNotExist(err) {
		t.Error("expected alive marker removed after release")
	}
}

func TestTryAcquireBreaksStaleLockWithMissingAliveMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mylock")

	// Simulate a holder that created the lock symlink but crashed before
	// its first heartbeat ever wrote the alive marker.
	if err := platformAcquire(path+".lock", newOwner()); err != nil {
		t.Fatalf("unable to seed stale lock: %v", err)
	}
	if _, err := os.Stat(path + ".alive"); !os.IsNotExist(err) {
		t.Fatalf("expected no alive marker to exist yet, got err=%v", err)
	}

	l := New(path, time.Second)
	acquired, err := l.TryAcquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatal("expected a missing alive marker to be treated as stale and broken")
	}
	if l.State() != Held {
		t.Error("expected state Held after breaking the stale lock")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mylock")
	l := New(path, time.Second)

	if err := l.Release(); err != nil {
		t.Fatalf("expected releasing an unheld lock to be a no-op, got: %v", err)
	}

	if _, err := l.TryAcquire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("expected second release to be a no-op, got: %v", err)
	}
}

func TestSecondTryAcquireFailsWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mylock")
	first := New(path, time.Second)
	second := New(path, time.Second)

	acquired, err := first.TryAcquire()
	if err != nil || !acquired {
		t.Fatalf("expected first acquisition to succeed, acquired=%v err=%v", acquired, err)
	}

	acquired, err = second.TryAcquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acquired {
		t.Fatal("expected second acquisition to fail while first holds the lock")
	}
}

func TestStaleLockIsBroken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mylock")
	staleAfter := 10 * time.Millisecond

	first := New(path, staleAfter)
	acquired, err := first.TryAcquire()
	if err != nil || !acquired {
		t.Fatalf("expected first acquisition to succeed, acquired=%v err=%v", acquired, err)
	}

	// Simulate a dead holder: back-date the alive marker past staleness.
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(first.alivePath(), old, old); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := New(path, staleAfter)
	acquired, err = second.TryAcquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatal("expected second acquisition to break the stale lock and succeed")
	}
}

func TestAcquireBlocksUntilReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mylock")
	first := New(path, time.Second)

	if acquired, err := first.TryAcquire(); err != nil || !acquired {
		t.Fatalf("expected first acquisition to succeed, acquired=%v err=%v", acquired, err)
	}

	second := New(path, time.Second)
	done := make(chan bool, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		acquired, err := second.Acquire(ctx, 2*time.Second)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- acquired
	}()

	time.Sleep(50 * time.Millisecond)
	if err := first.Release(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case acquired := <-done:
		if !acquired {
			t.Error("expected second Acquire to succeed once first released")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for second Acquire to complete")
	}
}

func TestAcquireTimesOutWithoutError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mylock")
	first := New(path, time.Hour)
	if acquired, err := first.TryAcquire(); err != nil || !acquired {
		t.Fatalf("expected first acquisition to succeed, acquired=%v err=%v", acquired, err)
	}
	defer first.Release()

	second := New(path, time.Hour)
	acquired, err := second.Acquire(context.Background(), 60*time.Millisecond)
	if err != nil {
		t.Fatalf("expected timeout to be a non-error outcome, got: %v", err)
	}
	if acquired {
		t.Fatal("expected acquisition to fail while first still holds the lock")
	}
}

func TestMutualExclusionNeverBothAcquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mylock")

	const n = 8
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() {
			l := New(path, time.Second)
			acquired, _ := l.TryAcquire()
			results <- acquired
		}()
	}

	acquiredCount := 0
	for i := 0; i < n; i++ {
		if <-results {
			acquiredCount++
		}
	}
	if acquiredCount != 1 {
		t.Errorf("expected exactly one concurrent TryAcquire to succeed, got %d", acquiredCount)
	}
}

func TestMakeLongLivedRefreshesAliveMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mylock")
	l := New(path, time.Second)
	if acquired, err := l.TryAcquire(); err != nil || !acquired {
		t.Fatalf("expected acquisition to succeed, acquired=%v err=%v", acquired, err)
	}

	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(l.alivePath(), old, old); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	manager := NewManager()
	if err := l.MakeLongLived(manager, 20*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	info, err := os.Stat(l.alivePath())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(info.ModTime()) > 500*time.Millisecond {
		t.Error("expected heartbeat to have refreshed the alive marker mtime")
	}

	if err := l.Release(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	manager.Close()
}

func TestMakeLongLivedRequiresHeldLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mylock")
	l := New(path, time.Second)
	manager := NewManager()
	if err := l.MakeLongLived(manager, time.Second); err == nil {
		t.Fatal("expected error for making an unheld lock long-lived")
	}
}

func TestOwnerStringRoundTrip(t *testing.T) {
	o := Owner{Hostname: "host", PID: 1234, Tag: "abc-def"}
	parsed, err := parseOwner(o.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !parsed.Equal(o) {
		t.Errorf("round trip mismatch: got %+v, want %+v", parsed, o)
	}
}
