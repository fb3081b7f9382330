package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/graft-project/graftd/p2p/frame"
)

func TestHandshakeRequestRoundTrip(t *testing.T) {
	req := HandshakeRequest{Node: NodeData{
		NetworkID:   [4]byte{1, 2, 3, 4},
		PeerID:      0xAABBCCDD,
		MyPort:      18980,
		RPCPort:     18981,
		PruningSeed: 7,
	}}
	got, err := DecodeHandshakeRequest(EncodeHandshakeRequest(req))
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestHandshakeResponseRoundTrip(t *testing.T) {
	resp := HandshakeResponse{
		Node:      NodeData{NetworkID: [4]byte{9, 9, 9, 9}, PeerID: 1, MyPort: 100, RPCPort: 101},
		LocalTime: 1234567890,
		PeerList: []PeerListEntry{
			{Host: "1.2.3.4", Port: 1000, PeerID: 5, LastSeen: 42, RPCPort: 1001, PruningSeed: 3},
			{Host: "::1", Port: 2000, PeerID: 6, LastSeen: 43},
		},
	}
	got, err := DecodeHandshakeResponse(EncodeHandshakeResponse(resp))
	require.NoError(t, err)
	require.Equal(t, resp, got)
}

func TestHandshakeResponseRoundTripEmptyPeerList(t *testing.T) {
	resp := HandshakeResponse{Node: NodeData{NetworkID: [4]byte{1, 1, 1, 1}}, LocalTime: 1}
	got, err := DecodeHandshakeResponse(EncodeHandshakeResponse(resp))
	require.NoError(t, err)
	require.Empty(t, got.PeerList)
}

func TestTimedSyncRoundTrip(t *testing.T) {
	req := TimedSyncRequest{
		LocalTime: 555,
		PeerList:  []PeerListEntry{{Host: "5.6.7.8", Port: 9000, PeerID: 1, LastSeen: 2}},
	}
	gotReq, err := DecodeTimedSyncRequest(EncodeTimedSyncRequest(req))
	require.NoError(t, err)
	require.Equal(t, req, gotReq)

	resp := TimedSyncResponse{LocalTime: 556, PeerList: req.PeerList}
	gotResp, err := DecodeTimedSyncResponse(EncodeTimedSyncResponse(resp))
	require.NoError(t, err)
	require.Equal(t, resp, gotResp)
}

func TestSupportFlagsResponseRoundTrip(t *testing.T) {
	got, err := DecodeSupportFlagsResponse(EncodeSupportFlagsResponse(SupportFlagsResponse{Flags: 0x1}))
	require.NoError(t, err)
	require.Equal(t, uint32(0x1), got.Flags)
}

func TestBroadcastNotifyRoundTrip(t *testing.T) {
	msg := BroadcastNotify{
		SenderHost:  "10.10.10.10",
		SenderPort:  18980,
		MessageHash: [32]byte{1, 2, 3},
		Hop:         2,
		RecipientID: "supernode-123",
		Payload:     []byte(`{"jsonrpc":"2.0"}`),
	}
	got, err := DecodeBroadcastNotify(EncodeBroadcastNotify(msg))
	require.NoError(t, err)
	require.Equal(t, msg, got)
}

func TestBroadcastNotifyRoundTripEmptyPayload(t *testing.T) {
	msg := BroadcastNotify{SenderHost: "h", RecipientID: "r"}
	got, err := DecodeBroadcastNotify(EncodeBroadcastNotify(msg))
	require.NoError(t, err)
	require.Empty(t, got.Payload)
}

func TestDecodeHandshakeRequestRejectsTruncated(t *testing.T) {
	_, err := DecodeHandshakeRequest([]byte{1, 2})
	require.Error(t, err)
}

func makePeerList(n int) []PeerListEntry {
	list := make([]PeerListEntry, n)
	for i := range list {
		list[i] = PeerListEntry{Host: "10.0.0.1", Port: uint16(i + 1)}
	}
	return list
}

func TestHandshakeResponseAcceptsExactlyMaxPeerListEntries(t *testing.T) {
	resp := HandshakeResponse{Node: NodeData{NetworkID: [4]byte{1, 1, 1, 1}}, PeerList: makePeerList(MaxPeerListEntries)}
	got, err := DecodeHandshakeResponse(EncodeHandshakeResponse(resp))
	require.NoError(t, err)
	require.Len(t, got.PeerList, MaxPeerListEntries)
}

func TestHandshakeResponseRejectsOneMoreThanMaxPeerListEntries(t *testing.T) {
	resp := HandshakeResponse{Node: NodeData{NetworkID: [4]byte{1, 1, 1, 1}}, PeerList: makePeerList(MaxPeerListEntries + 1)}
	_, err := DecodeHandshakeResponse(EncodeHandshakeResponse(resp))
	require.ErrorIs(t, err, frame.ErrProtocol)
}
