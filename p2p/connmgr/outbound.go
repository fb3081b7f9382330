package connmgr

import (
	"context"
	"fmt"
	"time"

	uuid "github.com/hashicorp/go-uuid"

	"github.com/graft-project/graftd/p2p/frame"
	"github.com/graft-project/graftd/p2p/peertable"
	"github.com/graft-project/graftd/p2p/wire"
)

// Run starts the T_conn/T_sync/T_gray/T_store timer loop. It returns once
// ctx is cancelled or Close is called; callers typically run it in its own
// goroutine.
func (m *Manager) Run(ctx context.Context) {
	connT := m.clock.NewTicker(TConn)
	syncT := m.clock.NewTicker(TSync)
	grayT := m.clock.NewTicker(TGray)
	storeT := m.clock.NewTicker(TStore)
	defer connT.Stop()
	defer syncT.Stop()
	defer grayT.Stop()
	defer storeT.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-connT.C():
			m.maintainOutbound(ctx)
		case <-syncT.C():
			m.timedSyncAll()
		case <-grayT.C():
			m.probeGray(ctx)
		case <-storeT.C():
			m.evictIdle()
		}
	}
}

// maintainOutbound dials new outbound connections, up to OutPeers, drawing
// candidates in the priority order spec.md §4.3 specifies: exclusive and
// priority nodes first (unbounded by OutPeers), then anchor, then white,
// then a seed node if we have zero outbound connections at all, then gray.
func (m *Manager) maintainOutbound(ctx context.Context) {
	for _, a := range m.cfg.ExclusiveNodes {
		if !m.isConnected(a) {
			m.dialOne(ctx, a, PriorityExclusiveNode)
		}
	}
	for _, a := range m.cfg.PriorityNodes {
		if !m.isConnected(a) {
			m.dialOne(ctx, a, PriorityPriorityNode)
		}
	}

	if m.outboundCount() >= m.cfg.OutPeers {
		return
	}

	exclude := m.connectedSet()
	if e, ok := m.table.SampleAnchor(exclude); ok {
		m.dialOne(ctx, e.Addr, PriorityNormal)
		return
	}
	if e, ok := m.table.SampleWhite(exclude); ok {
		m.dialOne(ctx, e.Addr, PriorityNormal)
		return
	}
	if m.outboundCount() == 0 && len(m.cfg.SeedNodes) > 0 {
		for _, a := range m.cfg.SeedNodes {
			if !m.isConnected(a) {
				m.dialOne(ctx, a, PriorityNormal)
				return
			}
		}
	}
	if e, ok := m.table.SampleGray(exclude); ok {
		m.dialOne(ctx, e.Addr, PriorityNormal)
	}
}

func (m *Manager) connectedSet() map[peertable.Address]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[peertable.Address]bool, len(m.byAddr))
	for a := range m.byAddr {
		out[a] = true
	}
	return out
}

func (m *Manager) dialOne(ctx context.Context, addr peertable.Address, prio Priority) {
	if m.isConnected(addr) {
		return
	}
	if m.isBlocked(addr.Host) {
		return
	}
	if until, ok := m.failCooldown(addr); ok && m.clock.Now().Before(until) {
		return
	}

	dctx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()
	nc, err := m.dial.Dial(dctx, addr)
	if err != nil {
		logger.Debug("dial failed", "addr", addr, "err", err)
		m.recordFail(addr)
		m.table.MarkFail(addr)
		return
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
		Addr:      addr,
		Direction: DirOutbound,
		Priority:  prio,
		CreatedAt: m.clock.Now(),
	}
	rec.setState(stateHandshaking)
	m.registerByID(rec)

	go func() {
		if err := c.Serve(m.dispatcher); err != nil {
			logger.Debug("outbound connection serve ended", "addr", addr, "err", err)
		}
		m.closeRecord(rec)
	}()

	if err := m.performOutboundHandshake(rec); err != nil {
		logger.Debug("handshake failed", "addr", addr, "err", err)
		m.recordFail(addr)
		m.table.MarkFail(addr)
		c.Close()
		return
	}
}

// performOutboundHandshake sends the request side of the handshake
// described in spec.md §4.1: network id, peer id, peerlist exchange,
// self-connection detection, and a merge of the remote's peerlist.
func (m *Manager) performOutboundHandshake(rec *Record) error {
	req := wire.EncodeHandshakeRequest(wire.HandshakeRequest{Node: wire.NodeData{
		NetworkID: m.cfg.NetworkID,
		PeerID:    m.cfg.PeerID,
		MyPort:    m.cfg.MyPort,
	}})
	deadline := time.Now().Add(m.cfg.HandshakeTimeout)
	respBody, err := rec.Conn.Invoke(deadline, wire.CommandHandshake, req)
	if err != nil {
		return err
	}
	resp, err := wire.DecodeHandshakeResponse(respBody)
	if err != nil {
		return fmt.Errorf("connmgr: decode handshake response: %w", err)
	}
	if resp.Node.NetworkID != m.cfg.NetworkID {
		return fmt.Errorf("connmgr: network id mismatch")
	}
	if resp.Node.PeerID == m.cfg.PeerID {
		return fmt.Errorf("connmgr: self connection detected")
	}

	rec.PeerID = resp.Node.PeerID
	now := m.clock.Now()
	m.table.RecordSeen(rec.Addr, resp.Node.PeerID, now.Unix())
	if rec.Priority != PriorityNormal {
		m.table.Anchor(rec.Addr, resp.Node.PeerID, now.Unix())
	}
	m.mergeRemotePeerlist(resp.PeerList, resp.LocalTime, now)
	m.fetchSupportFlags(rec)

	m.registerEstablished(rec)
	return nil
}

// fetchSupportFlags asks the freshly-handshaken peer which optional
// protocol extensions it understands. Best-effort: a failure here does
// not fail the handshake, since support flags are advisory (spec.md
// §4.4's CommandSupportFlags has no bearing on core connectivity).
func (m *Manager) fetchSupportFlags(rec *Record) {
	deadline := time.Now().Add(m.cfg.HandshakeTimeout)
	respBody, err := rec.Conn.Invoke(deadline, wire.CommandSupportFlags, nil)
	if err != nil {
		return
	}
	resp, err := wire.DecodeSupportFlagsResponse(respBody)
	if err != nil {
		return
	}
	rec.mu.Lock()
	rec.SupportFlags = resp.Flags
	rec.mu.Unlock()
}

func (m *Manager) mergeRemotePeerlist(list []wire.PeerListEntry, senderTime int64, localTime time.Time) {
	if len(list) == 0 {
		return
	}
	entries := make([]peertable.Entry, 0, len(list))
	for _, e := range list {
		entries = append(entries, peertable.Entry{
			Addr:        peertable.NewAddress(e.Host, e.Port),
			PeerID:      e.PeerID,
			LastSeen:    e.LastSeen,
			RPCPort:     e.RPCPort,
			PruningSeed: e.PruningSeed,
		})
	}
	m.table.MergeGossip(entries, senderTime, localTime.Unix())
}

// timedSyncAll sends a TimedSync request on every established connection,
// per T_sync (spec.md §4.3), skipping any connection that still has a
// timed sync in flight from the previous tick.
func (m *Manager) timedSyncAll() {
	for _, rec := range m.EstablishedConns() {
		if rec.markTimedSyncStart() {
			go m.timedSyncOne(rec)
		}
	}
}

func (m *Manager) timedSyncOne(rec *Record) {
	defer rec.markTimedSyncDone()
	now := m.clock.Now()
	req := wire.EncodeTimedSyncRequest(wire.TimedSyncRequest{
		LocalTime: now.Unix(),
		PeerList:  snapshotPeerList(m.table, PeerlistSlice),
	})
	deadline := time.Now().Add(m.cfg.HandshakeTimeout)
	respBody, err := rec.Conn.Invoke(deadline, wire.CommandTimedSync, req)
	if err != nil {
		m.table.MarkFail(rec.Addr)
		return
	}
	resp, err := wire.DecodeTimedSyncResponse(respBody)
	if err != nil {
		return
	}
	rec.touch(m.clock.Now())
	m.table.RecordSeen(rec.Addr, rec.PeerID, m.clock.Now().Unix())
	m.mergeRemotePeerlist(resp.PeerList, resp.LocalTime, m.clock.Now())
}

func snapshotPeerList(t *peertable.Table, limit int) []wire.PeerListEntry {
	entries := t.WhiteSlice(limit)
	out := make([]wire.PeerListEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, wire.PeerListEntry{
			Host: e.Addr.Host, Port: e.Addr.Port, PeerID: e.PeerID,
			LastSeen: e.LastSeen, RPCPort: e.RPCPort, PruningSeed: e.PruningSeed,
		})
	}
	return out
}

// probeGray pings a single random gray entry (T_gray, spec.md §4.3): a
// successful TCP connect (no handshake is run) promotes it to white via
// RecordSeen and the probe connection is closed; a failure
// drops it from the gray tier outright rather than counting towards
// FailDropCount (gray entries have no white-tier grace period).
func (m *Manager) probeGray(ctx context.Context) {
	e, ok := m.table.PickRandomGray()
	if !ok {
		return
	}
	if m.isConnected(e.Addr) || m.recentlyProbed(e.Addr) {
		return
	}
	m.markProbed(e.Addr)

	dctx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()
	nc, err := m.dial.Dial(dctx, e.Addr)
	if err != nil {
		m.table.DropGray(e.Addr)
		return
	}
	nc.Close() // probe only; maintainOutbound will form a real connection if promoted
	m.table.RecordSeen(e.Addr, e.PeerID, m.clock.Now().Unix())
}

// evictIdle drops the established normal-priority connection with the
// oldest LastActivity when over OutPeers+InPeers capacity. Priority and
// exclusive nodes are never eviction candidates.
func (m *Manager) evictIdle() {
	conns := m.EstablishedConns()
	limit := m.cfg.OutPeers + m.cfg.InPeers
	if len(conns) <= limit {
		return
	}
	var oldest *Record
	for _, r := range conns {
		if r.Priority != PriorityNormal {
			continue
		}
		if oldest == nil || r.LastActivity.Before(oldest.LastActivity) {
			oldest = r
		}
	}
	if oldest != nil {
		oldest.Conn.Close()
	}
}
