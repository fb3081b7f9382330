// Package connmgr is the connection manager (C3): it owns the set of live
// connections, drives outbound dialing against the peer table's tiers,
// performs the handshake, and runs the periodic timers spec.md §4.3
// describes (T_conn, T_sync, T_gray, T_store). It is deliberately ignorant
// of command dispatch past handshake/timed-sync — that is p2p/router's job
// (C4) — but owns the frame.Conn each router handler runs against.
package connmgr

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	uuid "github.com/hashicorp/go-uuid"

	"github.com/graft-project/graftd/internal/clock"
	"github.com/graft-project/graftd/internal/log"
	"github.com/graft-project/graftd/p2p/frame"
	"github.com/graft-project/graftd/p2p/peertable"
	"github.com/graft-project/graftd/p2p/wire"
)

var logger = log.NewModuleLogger(log.ModuleConnMgr)

// Timer periods, named after spec.md §4.3.
const (
	TConn  = 1 * time.Second
	TSync  = 60 * time.Second
	TGray  = 60 * time.Second
	TStore = 1800 * time.Second
)

// Fail/block semantics, spec.md §4.3/§7.
const (
	FailCooldown  = 5 * time.Minute
	IPBlockTime   = 24 * time.Hour
	FailDropCount = 3
)

const PeerlistSlice = wire.MaxPeerListEntries

type Direction int

const (
	DirOutbound Direction = iota
	DirInbound
)

type connState int

const (
	stateHandshaking connState = iota
	stateEstablished
	stateDraining
	stateClosed
)

// Priority classifies a connection's dial origin, used to decide outbound
// quota exemptions and eviction order (spec.md §4.3).
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityPriorityNode
	PriorityExclusiveNode
)

// Record is the bookkeeping entry for one connection, identified by a
// random 128-bit id (hashicorp/go-uuid) rather than its address, so it
// survives address churn across a single TCP stream's lifetime.
type Record struct {
	ID           string
	Conn         *frame.Conn
	Addr         peertable.Address
	Direction    Direction
	Priority     Priority
	PeerID       uint64
	SupportFlags uint32
	InTimedSync  bool
	CreatedAt    time.Time
	LastActivity time.Time

	mu    sync.Mutex
	state connState
}

func (r *Record) touch(now time.Time) {
	r.mu.Lock()
	r.LastActivity = now
	r.mu.Unlock()
}

func (r *Record) setState(s connState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Record) getState() connState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// markTimedSyncStart reports whether a timed sync may begin on r, and if
// so marks one as in flight. It returns false when one is already
// running, so T_sync does not pile up overlapping invokes on a slow peer.
func (r *Record) markTimedSyncStart() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.InTimedSync {
		return false
	}
	r.InTimedSync = true
	return true
}

func (r *Record) markTimedSyncDone() {
	r.mu.Lock()
	r.InTimedSync = false
	r.mu.Unlock()
}

// Dialer abstracts outbound TCP dialing for testability.
type Dialer interface {
	Dial(ctx context.Context, addr peertable.Address) (net.Conn, error)
}

type netDialer struct{ timeout time.Duration }

func NewNetDialer(timeout time.Duration) Dialer { return &netDialer{timeout: timeout} }

func (d *netDialer) Dial(ctx context.Context, addr peertable.Address) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.timeout}
	return dialer.DialContext(ctx, "tcp", addr.String())
}

// Config bundles the manager's tunables, all sourced from spec.md §6 CLI
// flags via the node package.
type Config struct {
	NetworkID      [4]byte
	PeerID         uint64
	MyPort         uint16
	OutPeers       int // target outbound connections
	InPeers        int // max inbound connections
	AllowLocalIP   bool
	HandshakeTimeout time.Duration
	SeedNodes      []peertable.Address
	PriorityNodes  []peertable.Address
	ExclusiveNodes []peertable.Address
}

func DefaultConfig() Config {
	return Config{
		OutPeers:         8,
		InPeers:          64,
		HandshakeTimeout: 5 * time.Second,
	}
}

// Dispatcher is implemented by the router (C4); the manager calls it for
// every request/notify the frame layer decodes, and notifies it when a
// connection is established or closed. Handshake and timed-sync payloads
// are built by the manager itself, not by the Dispatcher.
type Dispatcher interface {
	frame.Dispatcher
	OnEstablished(rec *Record)
	OnClosed(rec *Record)
}

// Manager is the connection manager.
type Manager struct {
	cfg   Config
	clock clock.Clock
	table *peertable.Table
	dial  Dialer

	mu    sync.RWMutex
	byID  map[string]*Record
	byAddr map[peertable.Address]*Record

	blockMu sync.Mutex
	blocked map[string]time.Time // host -> unblock time

	failInit sync.Once
	fail     *failCache

	// probeCache remembers the last time each address was gray-probed, so
	// T_gray does not hammer the same candidate every tick. fastcache is
	// overkill for this cardinality but is the corpus's in-memory cache of
	// choice; it also means the probe history is bounded memory even if a
	// hostile gray tier churns addresses quickly.
	probeCache *fastcache.Cache

	dispatcher Dispatcher

	listener net.Listener
	closeOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(cfg Config, clk clock.Clock, table *peertable.Table, dial Dialer, d Dispatcher) *Manager {
	return &Manager{
		cfg:     cfg,
		clock:   clk,
		table:   table,
		dial:    dial,
		byID:    make(map[string]*Record),
		byAddr:  make(map[peertable.Address]*Record),
		blocked: make(map[string]time.Time),
		probeCache: fastcache.New(1 << 20),
		dispatcher: d,
		stopCh:  make(chan struct{}),
	}
}

// Listen starts accepting inbound connections on bindAddr.
func (m *Manager) Listen(bindAddr string) error {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("connmgr: listen %s: %w", bindAddr, err)
	}
	m.listener = ln
	m.wg.Add(1)
	go m.acceptLoop(ln)
	return nil
}

func (m *Manager) acceptLoop(ln net.Listener) {
	defer m.wg.Done()
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-m.stopCh:
				return
			default:
			}
			logger.Warn("accept failed", "err", err)
			return
		}
		go m.handleInbound(nc)
	}
}

func (m *Manager) handleInbound(nc net.Conn) {
	host, _, _ := net.SplitHostPort(nc.RemoteAddr().String())
	if m.isBlocked(host) {
		nc.Close()
		return
	}
	if m.inboundCount() >= m.cfg.InPeers {
		exempt := false
		for _, a := range append(append([]peertable.Address(nil), m.cfg.PriorityNodes...), m.cfg.ExclusiveNodes...) {
			if a.Host == host {
				exempt = true
				break
			}
		}
		if !exempt {
			logger.Debug("refusing inbound, over in_peers limit", "remote", nc.RemoteAddr())
			nc.Close()
			return
		}
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		nc.Close()
		return
	}
	c := frame.NewConn(nc)
	rec := &Record{
		ID:        id,
		Conn:      c,
		Direction: DirInbound,
		CreatedAt: m.clock.Now(),
	}
	rec.setState(stateHandshaking)
	m.registerByID(rec)
	if err := c.Serve(m.dispatcher); err != nil {
		logger.Debug("inbound connection serve ended", "remote", nc.RemoteAddr(), "err", err)
	}
	m.closeRecord(rec)
}

func (m *Manager) inboundCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.byID {
		if r.Direction == DirInbound {
			n++
		}
	}
	return n
}

func (m *Manager) registerByID(rec *Record) {
	m.mu.Lock()
	m.byID[rec.ID] = rec
	m.mu.Unlock()
}

func (m *Manager) registerEstablished(rec *Record) {
	m.mu.Lock()
	m.byAddr[rec.Addr] = rec
	m.mu.Unlock()
	rec.setState(stateEstablished)
	if m.dispatcher != nil {
		m.dispatcher.OnEstablished(rec)
	}
}

func (m *Manager) closeRecord(rec *Record) {
	rec.setState(stateClosed)
	rec.Conn.Close()
	m.mu.Lock()
	delete(m.byID, rec.ID)
	if m.byAddr[rec.Addr] == rec {
		delete(m.byAddr, rec.Addr)
	}
	m.mu.Unlock()
	if m.dispatcher != nil {
		m.dispatcher.OnClosed(rec)
	}
}

// recentlyProbed reports whether addr was gray-probed within the last
// TGray period, to avoid re-probing it on every T_gray tick while it sits
// unpromoted.
func (m *Manager) recentlyProbed(addr peertable.Address) bool {
	v, ok := m.probeCache.HasGet(nil, []byte(addr.String()))
	if !ok || len(v) < 8 {
		return false
	}
	last := int64(binary.LittleEndian.Uint64(v))
	return m.clock.Now().Unix()-last < int64(TGray.Seconds())
}

func (m *Manager) markProbed(addr peertable.Address) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(m.clock.Now().Unix()))
	m.probeCache.Set([]byte(addr.String()), buf)
}

func (m *Manager) isBlocked(host string) bool {
	m.blockMu.Lock()
	defer m.blockMu.Unlock()
	until, ok := m.blocked[host]
	if !ok {
		return false
	}
	if m.clock.Now().After(until) {
		delete(m.blocked, host)
		return false
	}
	return true
}

// Block adds host to the blocklist for IPBlockTime, per spec.md §7's
// abusive-peer handling.
func (m *Manager) Block(host string) {
	m.blockMu.Lock()
	m.blocked[host] = m.clock.Now().Add(IPBlockTime)
	m.blockMu.Unlock()
}

// IsBlocked reports whether host is currently blocklisted.
func (m *Manager) IsBlocked(host string) bool { return m.isBlocked(host) }

func (m *Manager) isConnected(addr peertable.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byAddr[addr]
	return ok
}

func (m *Manager) outboundCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.byAddr {
		if r.Direction == DirOutbound {
			n++
		}
	}
	return n
}

// EstablishedConns returns a snapshot of established connections, for
// broadcast relay fan-out (C5).
func (m *Manager) EstablishedConns() []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, 0, len(m.byAddr))
	for _, r := range m.byAddr {
		if r.getState() == stateEstablished {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr.String() < out[j].Addr.String() })
	return out
}

// Close shuts the manager down: stops timers, closes the listener, closes
// every connection.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		if m.listener != nil {
			m.listener.Close()
		}
		m.mu.Lock()
		recs := make([]*Record, 0, len(m.byID))
		for _, r := range m.byID {
			recs = append(recs, r)
		}
		m.mu.Unlock()
		for _, r := range recs {
			r.Conn.Close()
		}
	})
	m.wg.Wait()
	return nil
}
