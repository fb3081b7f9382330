// Package peertable implements the three-tier address book (anchor / white
// / gray) described in spec.md §3 and §4.2 (SPEC_FULL.md C2): bookkeeping
// of peers we know about, biased random sampling for the connection
// manager's candidate selection, and gossip merge with clock-skew
// correction.
//
// The sampling bias is grounded in the same idea klaytn's discovery table
// (networks/p2p/discover/table.go) uses for its Kademlia buckets — prefer
// fresher entries but keep every entry reachable — adapted here to three
// flat tiers instead of distance buckets.
package peertable

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/graft-project/graftd/internal/log"
)

var logger = log.NewModuleLogger(log.ModulePeerTable)

// Tier identifies which of the three lists an address belongs to.
type Tier int

const (
	TierNone Tier = iota
	TierAnchor
	TierWhite
	TierGray
)

// Entry is the peer table record of spec.md §3.
type Entry struct {
	Addr        Address
	PeerID      uint64
	LastSeen    int64 // seconds since epoch
	RPCPort     uint16
	PruningSeed uint32
}

func (e Entry) clone() *Entry {
	c := e
	return &c
}

// Config bounds the size of each tier and the sampling bias exponent.
type Config struct {
	AnchorCap   int
	WhiteCap    int
	GrayCap     int
	SampleBiasK float64 // k > 1; higher favors fresher entries more strongly
	FailDropN   int      // fail_count >= FailDropN demotes white -> gray
}

// DefaultConfig matches the caps klaytn-family nodes use for their peer
// lists, scaled down to the three-tier model of spec.md §3.
func DefaultConfig() Config {
	return Config{
		AnchorCap:   64,
		WhiteCap:    1000,
		GrayCap:     5000,
		SampleBiasK: 2.0,
		FailDropN:   3,
	}
}

// Table is the peer table. All three tiers and the fail-count map share a
// single mutex, held only across the operations below, never across I/O
// (SPEC_FULL.md / spec.md §5).
type Table struct {
	cfg Config

	mu     sync.Mutex
	anchor map[Address]*Entry
	white  map[Address]*Entry
	gray   map[Address]*Entry
	fails  map[Address]int

	rand *rand.Rand
}

// New creates an empty peer table.
func New(cfg Config) *Table {
	return &Table{
		cfg:    cfg,
		anchor: make(map[Address]*Entry),
		white:  make(map[Address]*Entry),
		gray:   make(map[Address]*Entry),
		fails:  make(map[Address]int),
		rand:   rand.New(rand.NewSource(1)),
	}
}

// tierOf returns which tier addr currently occupies, or TierNone.
func (t *Table) tierOf(addr Address) Tier {
	if _, ok := t.anchor[addr]; ok {
		return TierAnchor
	}
	if _, ok := t.white[addr]; ok {
		return TierWhite
	}
	if _, ok := t.gray[addr]; ok {
		return TierGray
	}
	return TierNone
}

// RecordSeen inserts or updates addr. A gray entry is promoted to white
// (spec.md §4.2). An already-white or already-anchor entry just refreshes
// last_seen/peer_id.
func (t *Table) RecordSeen(addr Address, peerID uint64, lastSeen int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordSeenLocked(addr, peerID, lastSeen)
}

func (t *Table) recordSeenLocked(addr Address, peerID uint64, lastSeen int64) {
	switch t.tierOf(addr) {
	case TierAnchor:
		e := t.anchor[addr]
		e.PeerID, e.LastSeen = peerID, lastSeen
	case TierWhite:
		e := t.white[addr]
		e.PeerID, e.LastSeen = peerID, lastSeen
	case TierGray:
		e := t.gray[addr]
		delete(t.gray, addr)
		e.PeerID, e.LastSeen = peerID, lastSeen
		t.insertWhiteLocked(e)
	default:
		t.insertWhiteLocked(&Entry{Addr: addr, PeerID: peerID, LastSeen: lastSeen})
	}
	delete(t.fails, addr)
}

// Anchor promotes addr into the anchor set (called after a completed
// handshake), leaving its white membership untouched per spec.md's
// "anchor ⊆ white ∪ {dropped-out whites}" invariant.
func (t *Table) Anchor(addr Address, peerID uint64, lastSeen int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tierOf(addr) == TierGray {
		e := t.gray[addr]
		delete(t.gray, addr)
		t.insertWhiteLocked(e)
	}
	e, ok := t.white[addr]
	if !ok {
		e = &Entry{Addr: addr}
		t.white[addr] = e
	}
	e.PeerID, e.LastSeen = peerID, lastSeen

	if _, ok := t.anchor[addr]; !ok && len(t.anchor) >= t.cfg.AnchorCap {
		t.evictAnchorLRULocked()
	}
	cp := *e
	t.anchor[addr] = &cp
}

// MarkFail increments addr's fail count and demotes white->gray once it
// reaches FailDropN (spec.md §4.2, §4.3).
func (t *Table) MarkFail(addr Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fails[addr]++
	if t.fails[addr] < t.cfg.FailDropN {
		return
	}
	if e, ok := t.white[addr]; ok {
		delete(t.white, addr)
		t.insertGrayLocked(e)
		delete(t.fails, addr)
	}
}

func (t *Table) insertWhiteLocked(e *Entry) {
	if _, exists := t.white[e.Addr]; !exists && len(t.white) >= t.cfg.WhiteCap {
		t.evictWhiteLRULocked()
	}
	t.white[e.Addr] = e
}

func (t *Table) insertGrayLocked(e *Entry) {
	if _, exists := t.gray[e.Addr]; !exists && len(t.gray) >= t.cfg.GrayCap {
		t.evictGrayRandomLocked()
	}
	t.gray[e.Addr] = e
}

// evictWhiteLRULocked evicts the least-recently-seen white entry.
func (t *Table) evictWhiteLRULocked() {
	var oldestAddr Address
	var oldestTime int64
	first := true
	for a, e := range t.white {
		if first || e.LastSeen < oldestTime {
			oldestAddr, oldestTime, first = a, e.LastSeen, false
		}
	}
	if !first {
		logger.Debug("evicting LRU white entry", "addr", oldestAddr.String())
		delete(t.white, oldestAddr)
	}
}

// evictGrayRandomLocked evicts a uniformly random gray entry.
func (t *Table) evictGrayRandomLocked() {
	if len(t.gray) == 0 {
		return
	}
	idx := t.rand.Intn(len(t.gray))
	i := 0
	for a := range t.gray {
		if i == idx {
			delete(t.gray, a)
			return
		}
		i++
	}
}

// evictAnchorLRULocked evicts the least-recently-seen anchor entry.
func (t *Table) evictAnchorLRULocked() {
	var oldestAddr Address
	var oldestTime int64
	first := true
	for a, e := range t.anchor {
		if first || e.LastSeen < oldestTime {
			oldestAddr, oldestTime, first = a, e.LastSeen, false
		}
	}
	if !first {
		delete(t.anchor, oldestAddr)
	}
}

// biasedIndex implements index = floor(rand^k * size): k > 1 biases toward
// the front of a freshest-first ordering while leaving every index
// reachable (spec.md §4.2).
func biasedIndex(r *rand.Rand, size int, k float64) int {
	if size <= 0 {
		return -1
	}
	x := math.Pow(r.Float64(), k)
	idx := int(x * float64(size))
	if idx >= size {
		idx = size - 1
	}
	return idx
}

func sortByFreshness(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].LastSeen > entries[j].LastSeen })
}

func (t *Table) sampleLocked(tier map[Address]*Entry, exclude map[Address]bool) (*Entry, bool) {
	candidates := make([]*Entry, 0, len(tier))
	for a, e := range tier {
		if exclude != nil && exclude[a] {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sortByFreshness(candidates)
	idx := biasedIndex(t.rand, len(candidates), t.cfg.SampleBiasK)
	if idx < 0 {
		return nil, false
	}
	cp := *candidates[idx]
	return &cp, true
}

// SampleWhite returns a randomly-biased white entry not in exclude.
func (t *Table) SampleWhite(exclude map[Address]bool) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sampleLocked(t.white, exclude)
}

// SampleGray returns a randomly-biased gray entry not in exclude.
func (t *Table) SampleGray(exclude map[Address]bool) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sampleLocked(t.gray, exclude)
}

// SampleAnchor returns a randomly-biased anchor entry not in exclude.
func (t *Table) SampleAnchor(exclude map[Address]bool) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sampleLocked(t.anchor, exclude)
}

// PickRandomGray returns a copy of a uniformly random gray entry, for the
// T_gray eviction-probe timer (spec.md §4.3). Returns false if gray is
// empty; the entry is NOT removed from the table — callers promote it
// (RecordSeen) or drop it (DropGray) based on probe outcome.
func (t *Table) PickRandomGray() (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.gray) == 0 {
		return nil, false
	}
	idx := t.rand.Intn(len(t.gray))
	i := 0
	for _, e := range t.gray {
		if i == idx {
			cp := *e
			return &cp, true
		}
		i++
	}
	return nil, false
}

// DropGray removes addr from gray outright (used when a gray-probe fails).
func (t *Table) DropGray(addr Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.gray, addr)
}

// Contains reports which tier, if any, addr currently occupies.
func (t *Table) Contains(addr Address) Tier {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tierOf(addr)
}

// MergeGossip folds a remote peerlist into gray/white per spec.md §4.2:
// compute delta = local_time - sender_time, adjust each remote last_seen by
// delta, clamp future timestamps to local_time, then insert unknowns into
// gray and update knowns in place.
func (t *Table) MergeGossip(list []Entry, senderTime, localTime int64) {
	if len(list) == 0 {
		return
	}
	delta := localTime - senderTime
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range list {
		adjusted := e.LastSeen + delta
		if adjusted > localTime {
			adjusted = localTime
		}
		switch t.tierOf(e.Addr) {
		case TierAnchor:
			a := t.anchor[e.Addr]
			if adjusted > a.LastSeen {
				a.LastSeen = adjusted
			}
		case TierWhite:
			w := t.white[e.Addr]
			if adjusted > w.LastSeen {
				w.LastSeen = adjusted
			}
		case TierGray:
			g := t.gray[e.Addr]
			if adjusted > g.LastSeen {
				g.LastSeen = adjusted
			}
		default:
			t.insertGrayLocked(&Entry{
				Addr: e.Addr, PeerID: e.PeerID, LastSeen: adjusted,
				RPCPort: e.RPCPort, PruningSeed: e.PruningSeed,
			})
		}
	}
}

// WhiteSlice returns up to limit entries from white, freshest first — used to
// build the handshake/timed-sync peerlist slice (PEERLIST_SLICE = 250).
func (t *Table) WhiteSlice(limit int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := make([]*Entry, 0, len(t.white))
	for _, e := range t.white {
		entries = append(entries, e)
	}
	sortByFreshness(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = *e
	}
	return out
}

// Counts reports the current size of each tier, for metrics/tests.
func (t *Table) Counts() (anchor, white, gray int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.anchor), len(t.white), len(t.gray)
}
