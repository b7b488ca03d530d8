package remotestore

import (
	"context"
	"sync"
	"time"

	"github.com/compilecache/ccache/pkg/ccacheerr"
	"github.com/compilecache/ccache/pkg/contextutil"
	"github.com/compilecache/ccache/pkg/logging"
	"github.com/compilecache/ccache/pkg/timeutil"
)

// Policy wraps a Backend with the request-handling rules spec.md §4.5
// describes for remote/secondary storage:
//
//   - On a local miss, query the remote backend and, on a remote hit,
//     write the entry through to the local store (handled by the caller;
//     Policy only reports the fetched bytes).
//   - A remote Timeout is logged and treated as a miss for this request
//     only — the backend remains enabled for subsequent requests.
//   - A remote Error (anything other than a timeout) disables the backend
//     for the remainder of the process; every later call becomes an
//     immediate miss without touching the network again.
//
// Timeouts are enforced with an explicit goroutine and time.Timer rather
// than context.WithTimeout, mirroring the teacher's own heartbeat-timeout
// shape (pkg/multiplexing/multiplexer.go) — this gives pkg/timeutil's
// StopAndDrainTimer and pkg/contextutil's IsCancelled genuine call sites.
type Policy struct {
	backend  Backend
	readOnly bool
	timeout  time.Duration
	logger   *logging.Logger

	disabled chan struct{}
	once     sync.Once
}

// NewPolicy constructs a Policy around backend, using attrs.ReadOnly to
// suppress Put/Remove calls and attrs.Timeout to bound every call's
// duration.
func NewPolicy(backend Backend, attrs Attributes, logger *logging.Logger) *Policy {
	return &Policy{
		backend:  backend,
		readOnly: attrs.ReadOnly,
		timeout:  attrs.Timeout,
		logger:   logger,
		disabled: make(chan struct{}),
	}
}

// disable permanently disables the backend. Safe to call concurrently and
// more than once.
func (p *Policy) disable() {
	p.once.Do(func() { close(p.disabled) })
}

// Disabled reports whether the backend has been permanently disabled
// after a prior RemoteError.
func (p *Policy) Disabled() bool {
	select {
	case <-p.disabled:
		return true
	default:
		return false
	}
}

// result carries a call's outcome across the timeout-enforcement
// goroutine boundary.
type result struct {
	data []byte
	ok   bool
	err  error
}

// callWithTimeout runs fn in a goroutine and waits for either its
// completion or p.timeout elapsing, whichever comes first. If ctx is
// cancelled first, it returns immediately without waiting for fn (fn's
// goroutine is left to finish on its own, matching the "fire and
// disregard" shape the teacher uses for best-effort background calls).
func (p *Policy) callWithTimeout(ctx context.Context, fn func(context.Context) ([]byte, bool, error)) ([]byte, bool, error) {
	if contextutil.IsCancelled(ctx) {
		return nil, false, ctx.Err()
	}

	done := make(chan result, 1)
	go func() {
		data, ok, err := fn(ctx)
		done <- result{data: data, ok: ok, err: err}
	}()

	timer := time.NewTimer(p.timeout)
	defer timeutil.StopAndDrainTimer(timer)

	select {
	case r := <-done:
		return r.data, r.ok, r.err
	case <-timer.C:
		return nil, false, &ccacheerr.RemoteTimeoutError{Backend: p.backend.Name()}
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Get queries the remote backend for key, per the disabled/timeout/error
// handling described above. A disabled backend or a timeout both report
// as a plain miss (ok=false, err=nil) since neither should cause the
// caller to fall back any differently than an ordinary cache miss.
func (p *Policy) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	if p.Disabled() {
		return nil, false, nil
	}

	data, ok, err = p.callWithTimeout(ctx, func(ctx context.Context) ([]byte, bool, error) {
		return p.backend.Get(ctx, key)
	})
	if err != nil {
		return nil, false, p.handleError(err)
	}
	return data, ok, nil
}

// Put writes data through to the remote backend, unless the backend is
// read-only, disabled, or already holds an entry under key (when
// onlyIfMissing is true). Write-through failures never propagate as hard
// errors to the caller — remote storage is always optional — but they
// are logged and may disable the backend. The returned ok reports whether
// this call stored data remotely, so callers can drive their own
// write-hit statistic.
func (p *Policy) Put(ctx context.Context, key string, data []byte, onlyIfMissing bool) (ok bool) {
	if p.readOnly || p.Disabled() {
		return false
	}

	_, ok, err := p.callWithTimeout(ctx, func(ctx context.Context) ([]byte, bool, error) {
		ok, err := p.backend.Put(ctx, key, data, onlyIfMissing)
		return nil, ok, err
	})
	if err != nil {
		p.handleError(err)
		return false
	}
	return ok
}

// Remove deletes key from the remote backend, unless the backend is
// read-only or disabled.
func (p *Policy) Remove(ctx context.Context, key string) {
	if p.readOnly || p.Disabled() {
		return
	}

	_, _, err := p.callWithTimeout(ctx, func(ctx context.Context) ([]byte, bool, error) {
		ok, err := p.backend.Remove(ctx, key)
		return nil, ok, err
	})
	if err != nil {
		p.handleError(err)
	}
}

// handleError implements the Timeout-vs-Error split from spec.md §7: a
// RemoteTimeoutError is logged and swallowed (the backend stays enabled);
// any other error disables the backend for the rest of the process.
func (p *Policy) handleError(err error) error {
	if _, isTimeout := err.(*ccacheerr.RemoteTimeoutError); isTimeout {
		p.logger.Warn(err)
		return nil
	}

	wrapped := &ccacheerr.RemoteError{Backend: p.backend.Name(), Err: err}
	p.logger.Warn(wrapped)
	p.disable()
	return nil
}
