package lockfile

import (
	"os"
	"sync"
	"time"
)

// Manager owns the background heartbeat goroutines of every long-lived
// lock adopted via Locker.MakeLongLived (spec.md §4.6
// "make_long_lived(manager) -- transfer to the manager, which starts a
// heartbeat thread"; spec.md §5 "a background heartbeat thread per
// long-lived lock owner").
type Manager struct {
	mu      sync.Mutex
	stopFns map[*Locker]chan struct{}
	wg      sync.WaitGroup
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{stopFns: make(map[*Locker]chan struct{})}
}

func (m *Manager) adopt(l *Locker, interval time.Duration) {
	stop := make(chan struct{})

	m.mu.Lock()
	m.stopFns[l] = stop
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				now := time.Now()
				_ = os.Chtimes(l.alivePath(), now, now)
			}
		}
	}()
}

// release stops the heartbeat goroutine for l, if one is registered. It
// does not touch the lock's on-disk representation; Locker.Release does
// that itself after calling this.
func (m *Manager) release(l *Locker) {
	m.mu.Lock()
	stop, ok := m.stopFns[l]
	if ok {
		delete(m.stopFns, l)
	}
	m.mu.Unlock()

	if ok {
		close(stop)
	}
}

// Close stops every heartbeat this Manager owns and waits for their
// goroutines to exit. It does not release the underlying locks.
func (m *Manager) Close() {
	m.mu.Lock()
	stops := m.stopFns
	m.stopFns = make(map[*Locker]chan struct{})
	m.mu.Unlock()

	for _, stop := range stops {
		close(stop)
	}
	m.wg.Wait()
}
