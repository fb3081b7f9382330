// Package broadcast implements flood relay (C5): a deduplicating,
// hop-limited broadcast of application payloads across the established
// connection set, with local delivery to a registered RTA recipient
// (spec.md §4.5).
package broadcast

import (
	"crypto/sha256"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	gometrics "github.com/rcrowley/go-metrics"

	"github.com/graft-project/graftd/internal/clock"
	"github.com/graft-project/graftd/internal/log"
	"github.com/graft-project/graftd/p2p/connmgr"
	"github.com/graft-project/graftd/p2p/frame"
	"github.com/graft-project/graftd/p2p/wire"
)

var logger = log.NewModuleLogger(log.ModuleBroadcast)

const (
	DefaultHopLimit = 4
	DefaultDedupCap = 50000
	DedupTTL        = 30 * time.Second
	sweepInterval   = 10 * time.Second
)

// LocalDeliverer resolves a recipient id to local handler(s), modeling the
// RTA registry's role in spec.md §4.5/§4.6 ("deliver locally if a
// supernode for recipient_id is registered here").
type LocalDeliverer interface {
	// Deliver returns true if recipient_id names a locally registered
	// supernode and the payload was handed to it; with an empty
	// recipient_id it fans out and returns true if any supernode received
	// the payload.
	Deliver(recipientID string, payload []byte) bool
}

type dedupEntry struct {
	expiresAt time.Time
}

// Manager is the broadcast relay (C5).
type Manager struct {
	connMgr  *connmgr.Manager
	local    LocalDeliverer
	clock    clock.Clock
	hopLimit uint32

	mu     sync.Mutex
	dedup  *lru.Cache
	expiry map[string]time.Time

	relayedCount  gometrics.Counter
	deliveredLocal gometrics.Counter
	droppedDup    gometrics.Counter
	droppedHop    gometrics.Counter

	stop chan struct{}
}

func New(cm *connmgr.Manager, local LocalDeliverer, clk clock.Clock) *Manager {
	cache, _ := lru.New(DefaultDedupCap)
	m := &Manager{
		connMgr:  cm,
		local:    local,
		clock:    clk,
		hopLimit: DefaultHopLimit,
		dedup:    cache,
		expiry:   make(map[string]time.Time),
		relayedCount:   gometrics.NewCounter(),
		deliveredLocal: gometrics.NewCounter(),
		droppedDup:     gometrics.NewCounter(),
		droppedHop:     gometrics.NewCounter(),
		stop: make(chan struct{}),
	}
	gometrics.Register("broadcast.relayed", m.relayedCount)
	gometrics.Register("broadcast.delivered_local", m.deliveredLocal)
	gometrics.Register("broadcast.dropped_duplicate", m.droppedDup)
	gometrics.Register("broadcast.dropped_hop_limit", m.droppedHop)
	go m.sweepLoop()
	return m
}

// SetConnMgr wires the connection manager after construction, mirroring
// router.Router.SetConnMgr's break of the same constructor cycle.
func (m *Manager) SetConnMgr(cm *connmgr.Manager) { m.connMgr = cm }

func (m *Manager) Close() { close(m.stop) }

func (m *Manager) sweepLoop() {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) sweep() {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, exp := range m.expiry {
		if now.After(exp) {
			delete(m.expiry, k)
			m.dedup.Remove(k)
		}
	}
}

func dedupKey(senderHost string, senderPort uint16, hash [32]byte) string {
	return string(hash[:]) + "|" + senderHost
}

// Originate sends a new broadcast message originating at this node (e.g.
// triggered via the admin RPC), to every established connection. There is
// no origin to exclude, so relay uses frame.RelayToList rather than
// RelayToAllExcept.
func (m *Manager) Originate(recipientID string, payload []byte) {
	hash := sha256.Sum256(payload)
	msg := wire.BroadcastNotify{
		RecipientID: recipientID,
		MessageHash: hash,
		Hop:         0,
		Payload:     payload,
	}
	m.markSeen(dedupKey("", 0, hash))
	m.deliverLocal(msg)
	m.relayToList(msg)
}

// HandleInbound processes a broadcast notify received from origin, per
// spec.md §4.5: drop on dedup-cache hit, else always attempt local
// delivery; relay to every other established connection only if still
// within the hop limit (a message already at the hop limit is delivered
// locally but not re-broadcast).
func (m *Manager) HandleInbound(origin *connmgr.Record, msg wire.BroadcastNotify) {
	key := dedupKey(msg.SenderHost, msg.SenderPort, msg.MessageHash)
	if m.seen(key) {
		m.droppedDup.Inc(1)
		return
	}
	m.markSeen(key)

	m.deliverLocal(msg)

	if msg.Hop >= m.hopLimit {
		m.droppedHop.Inc(1)
		return
	}
	msg.Hop++
	m.relayToAllExcept(origin, msg)
}

// deliverLocal hands msg to the RTA registry: to the recipient's
// supernode(s) if recipient_id is present, otherwise (spec.md §4.5 step 4)
// to every registered local supernode.
func (m *Manager) deliverLocal(msg wire.BroadcastNotify) {
	if m.local == nil {
		return
	}
	if m.local.Deliver(msg.RecipientID, msg.Payload) {
		m.deliveredLocal.Inc(1)
	}
}

func (m *Manager) establishedConns() []*frame.Conn {
	records := m.connMgr.EstablishedConns()
	conns := make([]*frame.Conn, len(records))
	for i, rec := range records {
		conns[i] = rec.Conn
	}
	return conns
}

func (m *Manager) relayToList(msg wire.BroadcastNotify) {
	payload := wire.EncodeBroadcastNotify(msg)
	n := frame.RelayToList(wire.CommandBroadcast, payload, m.establishedConns())
	m.relayedCount.Inc(int64(n))
}

func (m *Manager) relayToAllExcept(origin *connmgr.Record, msg wire.BroadcastNotify) {
	payload := wire.EncodeBroadcastNotify(msg)
	var originConn *frame.Conn
	if origin != nil {
		originConn = origin.Conn
	}
	n := frame.RelayToAllExcept(wire.CommandBroadcast, payload, m.establishedConns(), originConn)
	m.relayedCount.Inc(int64(n))
}

func (m *Manager) seen(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dedup.Contains(key)
}

func (m *Manager) markSeen(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dedup.Add(key, dedupEntry{})
	m.expiry[key] = m.clock.Now().Add(DedupTTL)
}
