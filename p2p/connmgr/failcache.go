package connmgr

import (
	"sync"
	"time"

	"github.com/graft-project/graftd/p2p/peertable"
)

// failEntry tracks repeated dial/handshake failures against an address so
// repeated attempts back off for FailCooldown, and the address is dropped
// from consideration (via peertable.Table.MarkFail) after FailDropCount
// consecutive failures (spec.md §4.3/§7).
type failEntry struct {
	count     int
	nextRetry time.Time
}

type failCache struct {
	mu      sync.Mutex
	entries map[peertable.Address]*failEntry
}

func newFailCache() *failCache {
	return &failCache{entries: make(map[peertable.Address]*failEntry)}
}

func (m *Manager) recordFail(addr peertable.Address) {
	m.failOnce()
	m.fail.mu.Lock()
	defer m.fail.mu.Unlock()
	e, ok := m.fail.entries[addr]
	if !ok {
		e = &failEntry{}
		m.fail.entries[addr] = e
	}
	e.count++
	e.nextRetry = m.clock.Now().Add(FailCooldown)
}

func (m *Manager) failCooldown(addr peertable.Address) (time.Time, bool) {
	m.failOnce()
	m.fail.mu.Lock()
	defer m.fail.mu.Unlock()
	e, ok := m.fail.entries[addr]
	if !ok {
		return time.Time{}, false
	}
	return e.nextRetry, true
}

func (m *Manager) clearFail(addr peertable.Address) {
	m.failOnce()
	m.fail.mu.Lock()
	delete(m.fail.entries, addr)
	m.fail.mu.Unlock()
}

func (m *Manager) failOnce() {
	m.failInit.Do(func() { m.fail = newFailCache() })
}
