package connmgr

import (
	"net"
	"strconv"

	"github.com/graft-project/graftd/p2p/frame"
	"github.com/graft-project/graftd/p2p/peertable"
	"github.com/graft-project/graftd/p2p/wire"
)

// HandleHandshakeRequest answers an inbound CommandHandshake frame. The
// router (C4) is the frame.Dispatcher of record, but delegates the
// handshake and timed-sync built-ins here because they need the peer
// table and connection-manager bookkeeping this package owns.
func (m *Manager) HandleHandshakeRequest(c *frame.Conn, payload []byte) ([]byte, uint32) {
	req, err := wire.DecodeHandshakeRequest(payload)
	if err != nil {
		return nil, 1
	}
	if req.Node.NetworkID != m.cfg.NetworkID {
		return nil, 1
	}
	if req.Node.PeerID == m.cfg.PeerID {
		return nil, 1
	}

	rec := m.recordForConn(c)
	if rec == nil {
		return nil, 1
	}
	host, observedPort := remoteHostPort(c)
	port := req.Node.MyPort
	if port == 0 {
		port = observedPort
	}
	rec.Addr = peertable.NewAddress(host, port)
	rec.PeerID = req.Node.PeerID

	now := m.clock.Now()
	m.table.RecordSeen(rec.Addr, req.Node.PeerID, now.Unix())
	m.registerEstablished(rec)

	resp := wire.EncodeHandshakeResponse(wire.HandshakeResponse{
		Node: wire.NodeData{
			NetworkID: m.cfg.NetworkID,
			PeerID:    m.cfg.PeerID,
			MyPort:    m.cfg.MyPort,
		},
		LocalTime: now.Unix(),
		PeerList:  snapshotPeerList(m.table, PeerlistSlice),
	})
	return resp, 0
}

// HandleTimedSyncRequest answers an inbound CommandTimedSync frame.
func (m *Manager) HandleTimedSyncRequest(c *frame.Conn, payload []byte) ([]byte, uint32) {
	req, err := wire.DecodeTimedSyncRequest(payload)
	if err != nil {
		return nil, 1
	}
	rec := m.recordForConn(c)
	if rec == nil {
		return nil, 1
	}
	now := m.clock.Now()
	rec.touch(now)
	m.table.RecordSeen(rec.Addr, rec.PeerID, now.Unix())
	m.mergeRemotePeerlist(req.PeerList, req.LocalTime, now)

	resp := wire.EncodeTimedSyncResponse(wire.TimedSyncResponse{
		LocalTime: now.Unix(),
		PeerList:  snapshotPeerList(m.table, PeerlistSlice),
	})
	return resp, 0
}

// RecordForConn returns the connection record owning c, or nil if the
// connection has already closed. Used by the router to attribute a
// broadcast notify to its originating connection for relay-except-origin.
func (m *Manager) RecordForConn(c *frame.Conn) *Record {
	return m.recordForConn(c)
}

func (m *Manager) recordForConn(c *frame.Conn) *Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.byID {
		if r.Conn == c {
			return r
		}
	}
	return nil
}

func remoteHostPort(c *frame.Conn) (string, uint16) {
	host, portStr, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return c.RemoteAddr().String(), 0
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return host, 0
	}
	return host, uint16(port)
}
