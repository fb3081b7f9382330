package peertable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{AnchorCap: 2, WhiteCap: 3, GrayCap: 3, SampleBiasK: 2.0, FailDropN: 3}
}

func TestRecordSeenInsertsIntoWhite(t *testing.T) {
	tb := New(testConfig())
	addr := NewAddress("10.0.0.1", 1000)
	tb.RecordSeen(addr, 42, 100)

	require.Equal(t, TierWhite, tb.Contains(addr))
	anchor, white, gray := tb.Counts()
	require.Equal(t, 0, anchor)
	require.Equal(t, 1, white)
	require.Equal(t, 0, gray)
}

func TestMarkFailDemotesAfterThreshold(t *testing.T) {
	tb := New(testConfig())
	addr := NewAddress("10.0.0.2", 1000)
	tb.RecordSeen(addr, 1, 100)

	tb.MarkFail(addr)
	tb.MarkFail(addr)
	require.Equal(t, TierWhite, tb.Contains(addr), "below FailDropN should not demote")

	tb.MarkFail(addr)
	require.Equal(t, TierGray, tb.Contains(addr), "reaching FailDropN should demote to gray")
}

func TestAnchorPromotesUnknownIntoWhiteToo(t *testing.T) {
	tb := New(testConfig())
	addr := NewAddress("10.0.0.3", 1000)
	tb.Anchor(addr, 7, 50)

	require.Equal(t, TierAnchor, tb.Contains(addr))
	_, white, _ := tb.Counts()
	require.Equal(t, 1, white, "anchor entries remain members of white")
}

func TestWhiteCapEvictsLRU(t *testing.T) {
	tb := New(testConfig()) // WhiteCap = 3
	a1 := NewAddress("10.0.1.1", 1)
	a2 := NewAddress("10.0.1.2", 1)
	a3 := NewAddress("10.0.1.3", 1)
	a4 := NewAddress("10.0.1.4", 1)

	tb.RecordSeen(a1, 1, 10) // oldest
	tb.RecordSeen(a2, 2, 20)
	tb.RecordSeen(a3, 3, 30)
	tb.RecordSeen(a4, 4, 40) // triggers eviction of a1

	require.Equal(t, TierNone, tb.Contains(a1))
	require.Equal(t, TierWhite, tb.Contains(a4))
	_, white, _ := tb.Counts()
	require.Equal(t, 3, white)
}

func TestMergeGossipAppliesClockSkewAndClamps(t *testing.T) {
	tb := New(testConfig())
	localTime := int64(1000)
	senderTime := int64(900) // sender's clock is 100s behind us
	remote := []Entry{
		{Addr: NewAddress("10.0.2.1", 1), PeerID: 1, LastSeen: 850},  // adjusted: 950
		{Addr: NewAddress("10.0.2.2", 1), PeerID: 2, LastSeen: 2000}, // adjusted: 2100, clamp to 1000
	}
	tb.MergeGossip(remote, senderTime, localTime)

	// Verify via repeated sampling that every known gray LastSeen is clamped.
	seen := map[Address]int64{}
	for i := 0; i < 50; i++ {
		e, ok := tb.SampleGray(nil)
		if !ok {
			break
		}
		seen[e.Addr] = e.LastSeen
	}
	require.LessOrEqual(t, seen[NewAddress("10.0.2.1", 1)], localTime)
	require.LessOrEqual(t, seen[NewAddress("10.0.2.2", 1)], localTime)
	require.Equal(t, int64(950), seen[NewAddress("10.0.2.1", 1)])
	require.Equal(t, localTime, seen[NewAddress("10.0.2.2", 1)])
}

func TestMergeGossipDoesNotRegressKnownEntries(t *testing.T) {
	tb := New(testConfig())
	addr := NewAddress("10.0.3.1", 1)
	tb.RecordSeen(addr, 1, 5000)

	tb.MergeGossip([]Entry{{Addr: addr, PeerID: 1, LastSeen: 10}}, 0, 5000)

	entries := tb.WhiteSlice(10)
	require.Len(t, entries, 1)
	require.Equal(t, int64(5000), entries[0].LastSeen, "a stale gossip entry must not regress a fresher LastSeen")
}

func TestWhiteSliceRespectsLimitAndFreshnessOrder(t *testing.T) {
	tb := New(Config{AnchorCap: 10, WhiteCap: 100, GrayCap: 100, SampleBiasK: 2.0, FailDropN: 3})
	for i := 0; i < 5; i++ {
		tb.RecordSeen(NewAddress("10.0.4.1", uint16(i+1)), uint64(i), int64(i*10))
	}
	slice := tb.WhiteSlice(3)
	require.Len(t, slice, 3)
	for i := 0; i+1 < len(slice); i++ {
		require.GreaterOrEqual(t, slice[i].LastSeen, slice[i+1].LastSeen)
	}
}

func TestPickRandomGrayDoesNotRemove(t *testing.T) {
	tb := New(testConfig())
	addr := NewAddress("10.0.5.1", 1)
	tb.MergeGossip([]Entry{{Addr: addr, LastSeen: 1}}, 0, 1)

	_, ok := tb.PickRandomGray()
	require.True(t, ok)
	require.Equal(t, TierGray, tb.Contains(addr), "PickRandomGray must not remove the entry")
}

func TestDropGrayRemoves(t *testing.T) {
	tb := New(testConfig())
	addr := NewAddress("10.0.6.1", 1)
	tb.MergeGossip([]Entry{{Addr: addr, LastSeen: 1}}, 0, 1)
	tb.DropGray(addr)
	require.Equal(t, TierNone, tb.Contains(addr))
}
