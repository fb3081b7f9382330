// Package router is the message dispatcher (C4): it maps frame command ids
// to handlers, delegating the handshake and timed-sync built-ins to the
// connection manager (C3) and application broadcast to the broadcaster
// (C5), while itself owning ping, support-flags, and the per-host fail
// score that escalates to a connmgr blocklist entry (spec.md §4.4, §7).
package router

import (
	"sync"

	"github.com/graft-project/graftd/internal/log"
	"github.com/graft-project/graftd/p2p/connmgr"
	"github.com/graft-project/graftd/p2p/frame"
	"github.com/graft-project/graftd/p2p/wire"
)

var logger = log.NewModuleLogger(log.ModuleRouter)

// FailScoreLimit is the number of malformed/invalid requests from a single
// host before it is blocklisted (spec.md §7).
const FailScoreLimit = 5

// Broadcaster is implemented by p2p/broadcast (C5); the router hands it
// every inbound CommandBroadcast notify.
type Broadcaster interface {
	HandleInbound(origin *connmgr.Record, msg wire.BroadcastNotify)
}

// SupportFlags is the bitmask this build advertises in response to
// CommandSupportFlags.
var SupportFlags uint32 = 0x1 // RTA redirection support

// Router implements frame.Dispatcher and connmgr.Dispatcher.
type Router struct {
	connMgr *connmgr.Manager
	bcast   Broadcaster

	mu        sync.Mutex
	failScore map[string]int // host -> consecutive fail score
}

func New(cm *connmgr.Manager, bc Broadcaster) *Router {
	return &Router{
		connMgr:   cm,
		bcast:     bc,
		failScore: make(map[string]int),
	}
}

// SetConnMgr wires the connection manager after construction, to break the
// constructor cycle between Router and connmgr.Manager (the manager needs
// a Dispatcher to be constructed, and the router needs the manager).
func (r *Router) SetConnMgr(cm *connmgr.Manager) { r.connMgr = cm }

func (r *Router) OnRequest(c *frame.Conn, command uint32, payload []byte) ([]byte, uint32) {
	switch command {
	case wire.CommandHandshake:
		return r.connMgr.HandleHandshakeRequest(c, payload)
	case wire.CommandTimedSync:
		return r.connMgr.HandleTimedSyncRequest(c, payload)
	case wire.CommandPing:
		return nil, 0
	case wire.CommandSupportFlags:
		return wire.EncodeSupportFlagsResponse(wire.SupportFlagsResponse{Flags: SupportFlags}), 0
	default:
		r.recordFail(c)
		return nil, 1
	}
}

func (r *Router) OnNotify(c *frame.Conn, command uint32, payload []byte) {
	switch command {
	case wire.CommandBroadcast:
		msg, err := wire.DecodeBroadcastNotify(payload)
		if err != nil {
			r.recordFail(c)
			return
		}
		rec := r.connMgr.RecordForConn(c)
		if r.bcast != nil {
			r.bcast.HandleInbound(rec, msg)
		}
	default:
		r.recordFail(c)
	}
}

func (r *Router) OnEstablished(rec *connmgr.Record) {
	r.mu.Lock()
	delete(r.failScore, rec.Addr.Host)
	r.mu.Unlock()
}

func (r *Router) OnClosed(rec *connmgr.Record) {}

func (r *Router) recordFail(c *frame.Conn) {
	host := hostOf(c)
	r.mu.Lock()
	r.failScore[host]++
	score := r.failScore[host]
	r.mu.Unlock()
	if score >= FailScoreLimit {
		logger.Warn("blocking host over fail score limit", "host", host, "score", score)
		r.connMgr.Block(host)
	}
}

func hostOf(c *frame.Conn) string {
	addr := c.RemoteAddr().String()
	host, _, err := splitHost(addr)
	if err != nil {
		return addr
	}
	return host
}
