package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/graft-project/graftd/internal/clock"
	"github.com/graft-project/graftd/p2p/connmgr"
	"github.com/graft-project/graftd/p2p/frame"
	"github.com/graft-project/graftd/p2p/peertable"
	"github.com/graft-project/graftd/p2p/wire"
)

type stubDispatcher struct{}

func (stubDispatcher) OnRequest(*frame.Conn, uint32, []byte) ([]byte, uint32) { return nil, 0 }
func (stubDispatcher) OnNotify(*frame.Conn, uint32, []byte)                  {}
func (stubDispatcher) OnEstablished(*connmgr.Record)                        {}
func (stubDispatcher) OnClosed(*connmgr.Record)                             {}

func newEmptyConnMgr(clk clock.Clock) *connmgr.Manager {
	tb := peertable.New(peertable.DefaultConfig())
	return connmgr.New(connmgr.DefaultConfig(), clk, tb, connmgr.NewNetDialer(time.Second), stubDispatcher{})
}

type fakeDeliverer struct {
	delivered map[string][]byte
	accept    bool
}

func (f *fakeDeliverer) Deliver(recipientID string, payload []byte) bool {
	if !f.accept {
		return false
	}
	if f.delivered == nil {
		f.delivered = make(map[string][]byte)
	}
	f.delivered[recipientID] = payload
	return true
}

func TestHandleInboundDropsDuplicate(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	cm := newEmptyConnMgr(clk)
	deliverer := &fakeDeliverer{accept: true}
	m := New(cm, deliverer, clk)
	defer m.Close()

	msg := wire.BroadcastNotify{RecipientID: "sn-1", Payload: []byte("hello"), MessageHash: [32]byte{1}}

	m.HandleInbound(nil, msg)
	require.Equal(t, []byte("hello"), deliverer.delivered["sn-1"])

	deliverer.delivered = nil
	m.HandleInbound(nil, msg) // identical sender/hash: must be dropped as a duplicate
	require.Nil(t, deliverer.delivered["sn-1"])
}

func TestHandleInboundDropsAtHopLimit(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	cm := newEmptyConnMgr(clk)
	deliverer := &fakeDeliverer{accept: true}
	m := New(cm, deliverer, clk)
	defer m.Close()

	msg := wire.BroadcastNotify{RecipientID: "sn-1", Payload: []byte("x"), MessageHash: [32]byte{2}, Hop: DefaultHopLimit}
	m.HandleInbound(nil, msg)
	require.Equal(t, []byte("x"), deliverer.delivered["sn-1"], "a message at the hop limit must still be delivered locally")
	require.Equal(t, int64(0), m.relayedCount.Count(), "a message at the hop limit must not be relayed")
}

func TestHandleInboundRelaysBelowHopLimit(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	cm := newEmptyConnMgr(clk)
	deliverer := &fakeDeliverer{accept: true}
	m := New(cm, deliverer, clk)
	defer m.Close()

	msg := wire.BroadcastNotify{RecipientID: "sn-1", Payload: []byte("x"), MessageHash: [32]byte{3}, Hop: DefaultHopLimit - 1}
	m.HandleInbound(nil, msg)
	require.Equal(t, []byte("x"), deliverer.delivered["sn-1"])
	require.Equal(t, int64(0), m.relayedCount.Count(), "no established peers exist to relay to, but the relay path must still run without panicking")
	require.Equal(t, int64(0), m.droppedHop.Count(), "a message below the hop limit must take the relay path, not the hop-limit drop")
}

func TestOriginateDeliversLocally(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	cm := newEmptyConnMgr(clk)
	deliverer := &fakeDeliverer{accept: true}
	m := New(cm, deliverer, clk)
	defer m.Close()

	m.Originate("sn-2", []byte("payload"))
	require.Equal(t, []byte("payload"), deliverer.delivered["sn-2"])
}

func TestDedupEntryExpiresAfterSweep(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	cm := newEmptyConnMgr(clk)
	deliverer := &fakeDeliverer{accept: true}
	m := New(cm, deliverer, clk)
	defer m.Close()

	key := dedupKey("1.2.3.4", 1000, [32]byte{9})
	m.markSeen(key)
	require.True(t, m.seen(key))

	clk.Advance(DedupTTL + time.Second)
	m.sweep()
	require.False(t, m.seen(key), "expired dedup entries must be swept")
}
