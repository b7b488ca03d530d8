// Package lockfile implements the advisory lock-file primitive described
// in spec.md §4.6: a short-lived or long-lived mutual-exclusion marker on
// a named path, represented on POSIX as an atomically-created symlink
// plus a heartbeat "alive" file, grounded on the Lock/Unlock contract of
// mutagen pkg/filesystem/locking/locker.go and locker_posix.go, extended
// with the staleness-break and heartbeat state machine spec.md §4.6 and
// §5 call for.
package lockfile

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// State is the coarse state of a Locker, exposed for tests and
// diagnostics. spec.md §4.6: "Free -> Held(owner, alive_ts)".
type State int

const (
	Free State = iota
	Held
)

// Owner identifies the process that holds (or held) a lock: hostname,
// pid, and a random tag disambiguating distinct owners on the same host
// across process restarts (spec.md §4.6 "stores the owner's hostname,
// pid, and a random tag").
type Owner struct {
	Hostname string
	PID      int
	Tag      string
}

func newOwner() Owner {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return Owner{Hostname: hostname, PID: os.Getpid(), Tag: uuid.NewString()}
}

// String renders the owner as the symlink-target / lock-file-content
// encoding: "hostname:pid:tag".
func (o Owner) String() string {
	return fmt.Sprintf("%s:%d:%s", o.Hostname, o.PID, o.Tag)
}

func parseOwner(s string) (Owner, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Owner{}, fmt.Errorf("lockfile: malformed owner encoding %q", s)
	}
	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return Owner{}, fmt.Errorf("lockfile: malformed owner pid in %q: %w", s, err)
	}
	return Owner{Hostname: parts[0], PID: pid, Tag: parts[2]}, nil
}

// Equal reports whether two owners are the same process instance.
func (o Owner) Equal(other Owner) bool {
	return o.Hostname == other.Hostname && o.PID == other.PID && o.Tag == other.Tag
}

// Locker is one named lock: acquire(path)/try_acquire(path)/release() plus
// an optional transfer to long-lived, heartbeat-refreshed ownership
// (spec.md §4.6 "Contract").
type Locker struct {
	path       string
	owner      Owner
	staleAfter time.Duration

	held    bool
	manager *Manager
}

// defaultBackoff and maxBackoff bound the exponential backoff a blocking
// Acquire uses between retries (spec.md §4.6 "sleeps with exponential
// backoff until either the lock is free or a timeout is reached").
const (
	defaultBackoff = 10 * time.Millisecond
	maxBackoff     = 500 * time.Millisecond
)

// New constructs a Locker for path, presuming an existing lock's "alive"
// marker stale once it is older than staleAfter (spec.md §9 Open Question:
// "default to a value large enough to cover a slow cleanup pass").
func New(path string, staleAfter time.Duration) *Locker {
	return &Locker{path: path, owner: newOwner(), staleAfter: staleAfter}
}

func (l *Locker) lockPath() string  { return l.path + ".lock" }
func (l *Locker) alivePath() string { return l.path + ".alive" }

// TryAcquire attempts a non-blocking acquisition (spec.md §4.6
// "try_acquire(path)"). It returns (true, nil) if the lock was claimed by
// this Locker, (false, nil) if another live owner currently holds it, and
// a non-nil error only for an unexpected I/O failure.
func (l *Locker) TryAcquire() (bool, error) {
	acquired, err := l.tryOnce()
	if err != nil {
		return false, err
	}
	if acquired {
		return true, nil
	}

	stale, err := l.breakIfStale()
	if err != nil {
		return false, err
	}
	if !stale {
		return false, nil
	}

	// Retry exactly once after breaking a stale lock (spec.md §4.6 "removes
	// both files and retries once").
	return l.tryOnce()
}

// tryOnce attempts the atomic platform-level claim and, on success,
// creates the adjacent alive marker.
func (l *Locker) tryOnce() (bool, error) {
	if err := platformAcquire(l.lockPath(), l.owner); err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "unable to acquire lock")
	}

	if err := l.touchAlive(); err != nil {
		_ = platformRemove(l.lockPath())
		return false, errors.Wrap(err, "unable to create alive marker")
	}

	l.held = true
	return true, nil
}

func (l *Locker) touchAlive() error {
	f, err := os.Create(l.alivePath())
	if err != nil {
		return err
	}
	return f.Close()
}

// breakIfStale reports whether an existing lock's alive marker is older
// than staleAfter (or absent, which is equally presumptive of a dead
// holder that crashed before its first heartbeat) and, if so, removes
// both lock-representation files (spec.md §4.6 "Stale-lock policy").
func (l *Locker) breakIfStale() (bool, error) {
	info, err := os.Stat(l.alivePath())
	stale := false
	switch {
	case err == nil:
		stale = time.Since(info.ModTime()) > l.staleAfter
	case os.IsNotExist(err):
		// The lock symlink exists but its heartbeat marker never showed up;
		// presume the creator died between the two steps.
		if _, ok, lockErr := platformOwner(l.lockPath()); lockErr == nil && ok {
			stale = true
		}
	default:
		return false, errors.Wrap(err, "unable to stat alive marker")
	}

	if !stale {
		return false, nil
	}

	if err := platformRemove(l.lockPath()); err != nil {
		return false, errors.Wrap(err, "unable to remove stale lock")
	}
	if err := os.Remove(l.alivePath()); err != nil && !os.IsNotExist(err) {
		return false, errors.Wrap(err, "unable to remove stale alive marker")
	}
	return true, nil
}

// Acquire performs a blocking acquisition, retrying with exponential
// backoff until either the lock is claimed, ctx is cancelled, or timeout
// elapses. A timed-out acquisition returns (false, nil): spec.md §4.6
// "returns not-acquired, never kills the holder" — this is a normal
// outcome, not an error.
func (l *Locker) Acquire(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	backoff := defaultBackoff

	for {
		acquired, err := l.TryAcquire()
		if err != nil {
			return false, err
		}
		if acquired {
			return true, nil
		}

		if !time.Now().Before(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// MakeLongLived transfers this lock to manager, which starts a background
// heartbeat refreshing the alive marker's mtime every interval until
// Release is called (spec.md §4.6 "make_long_lived(manager)").
func (l *Locker) MakeLongLived(manager *Manager, interval time.Duration) error {
	if !l.held {
		return errors.New("lockfile: cannot make an unheld lock long-lived")
	}
	manager.adopt(l, interval)
	l.manager = manager
	return nil
}

// Release is idempotent: releasing a lock this Locker does not hold is a
// no-op (spec.md §4.6 "release() -- idempotent").
func (l *Locker) Release() error {
	if !l.held {
		return nil
	}

	if l.manager != nil {
		l.manager.release(l)
		l.manager = nil
	}

	if err := os.Remove(l.alivePath()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "unable to remove alive marker")
	}
	if err := platformRemove(l.lockPath()); err != nil {
		return errors.Wrap(err, "unable to remove lock")
	}

	l.held = false
	return nil
}

// State reports whether this Locker currently believes it holds path's
// lock. It reflects only local bookkeeping, not a fresh filesystem check.
func (l *Locker) State() State {
	if l.held {
		return Held
	}
	return Free
}
