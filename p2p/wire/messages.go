package wire

import (
	"fmt"

	"github.com/graft-project/graftd/p2p/frame"
)

// Command identifiers carried in frame.Header.Command (spec.md §6). The
// core protocol commands use the 1001-1007 range; application commands
// (broadcast, RTA redirect) use 2000 and above.
const (
	CommandHandshake         uint32 = 1001
	CommandTimedSync         uint32 = 1002
	CommandPing              uint32 = 1003
	CommandSupportFlags      uint32 = 1007
	CommandBroadcast         uint32 = 2000
	CommandRTARedirect       uint32 = 2001
)

// MaxPeerListEntries bounds a single peerlist exchange (PEERLIST_SLICE). A
// responder claiming more is either hostile or broken; reject rather than
// allocate an attacker-controlled slice length.
const MaxPeerListEntries = 250

// PeerListEntry is the wire form of a peertable.Entry exchanged during
// handshake and timed sync.
type PeerListEntry struct {
	Host        string
	Port        uint16
	PeerID      uint64
	LastSeen    int64
	RPCPort     uint16
	PruningSeed uint32
}

func writePeerList(w *Writer, list []PeerListEntry) {
	w.Uvarint(uint64(len(list)))
	for _, e := range list {
		w.String(e.Host)
		w.U16(e.Port)
		w.Uvarint(e.PeerID)
		w.I64(e.LastSeen)
		w.U16(e.RPCPort)
		w.U32(e.PruningSeed)
	}
}

func readPeerList(r *Reader) ([]PeerListEntry, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	if n > MaxPeerListEntries {
		return nil, fmt.Errorf("wire: peerlist of %d entries exceeds PEERLIST_SLICE (%d): %w", n, MaxPeerListEntries, frame.ErrProtocol)
	}
	out := make([]PeerListEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		host, err := r.String()
		if err != nil {
			return nil, err
		}
		port, err := r.U16()
		if err != nil {
			return nil, err
		}
		peerID, err := r.Uvarint()
		if err != nil {
			return nil, err
		}
		lastSeen, err := r.I64()
		if err != nil {
			return nil, err
		}
		rpcPort, err := r.U16()
		if err != nil {
			return nil, err
		}
		pruningSeed, err := r.U32()
		if err != nil {
			return nil, err
		}
		out = append(out, PeerListEntry{
			Host: host, Port: port, PeerID: peerID, LastSeen: lastSeen,
			RPCPort: rpcPort, PruningSeed: pruningSeed,
		})
	}
	return out, nil
}

// NodeData is the status summary exchanged during handshake and timed sync,
// carrying the fields spec.md §4.1 requires to validate and classify a peer.
type NodeData struct {
	NetworkID   [4]byte
	PeerID      uint64
	MyPort      uint16
	RPCPort     uint16
	PruningSeed uint32
}

func (n NodeData) encode(w *Writer) {
	w.Bytes4(n.NetworkID)
	w.Uvarint(n.PeerID)
	w.U16(n.MyPort)
	w.U16(n.RPCPort)
	w.U32(n.PruningSeed)
}

func decodeNodeData(r *Reader) (NodeData, error) {
	var n NodeData
	var err error
	if n.NetworkID, err = r.Bytes4(); err != nil {
		return n, err
	}
	if n.PeerID, err = r.Uvarint(); err != nil {
		return n, err
	}
	if n.MyPort, err = r.U16(); err != nil {
		return n, err
	}
	if n.RPCPort, err = r.U16(); err != nil {
		return n, err
	}
	if n.PruningSeed, err = r.U32(); err != nil {
		return n, err
	}
	return n, nil
}

// HandshakeRequest is sent by the dialing side immediately after connecting.
type HandshakeRequest struct {
	Node NodeData
}

func EncodeHandshakeRequest(m HandshakeRequest) []byte {
	w := NewWriter()
	m.Node.encode(w)
	return w.Bytes()
}

func DecodeHandshakeRequest(b []byte) (HandshakeRequest, error) {
	r := NewReader(b)
	n, err := decodeNodeData(r)
	return HandshakeRequest{Node: n}, err
}

// HandshakeResponse is the accepting side's reply, carrying its own status
// plus a peerlist slice (spec.md §4.1, bounded by PEERLIST_SLICE).
type HandshakeResponse struct {
	Node      NodeData
	LocalTime int64
	PeerList  []PeerListEntry
}

func EncodeHandshakeResponse(m HandshakeResponse) []byte {
	w := NewWriter()
	m.Node.encode(w)
	w.I64(m.LocalTime)
	writePeerList(w, m.PeerList)
	return w.Bytes()
}

func DecodeHandshakeResponse(b []byte) (HandshakeResponse, error) {
	r := NewReader(b)
	n, err := decodeNodeData(r)
	if err != nil {
		return HandshakeResponse{}, err
	}
	lt, err := r.I64()
	if err != nil {
		return HandshakeResponse{}, err
	}
	pl, err := readPeerList(r)
	if err != nil {
		return HandshakeResponse{}, err
	}
	return HandshakeResponse{Node: n, LocalTime: lt, PeerList: pl}, nil
}

// TimedSyncRequest is sent periodically (T_sync) on established connections.
type TimedSyncRequest struct {
	LocalTime int64
	PeerList  []PeerListEntry
}

func EncodeTimedSyncRequest(m TimedSyncRequest) []byte {
	w := NewWriter()
	w.I64(m.LocalTime)
	writePeerList(w, m.PeerList)
	return w.Bytes()
}

func DecodeTimedSyncRequest(b []byte) (TimedSyncRequest, error) {
	r := NewReader(b)
	lt, err := r.I64()
	if err != nil {
		return TimedSyncRequest{}, err
	}
	pl, err := readPeerList(r)
	if err != nil {
		return TimedSyncRequest{}, err
	}
	return TimedSyncRequest{LocalTime: lt, PeerList: pl}, nil
}

type TimedSyncResponse struct {
	LocalTime int64
	PeerList  []PeerListEntry
}

func EncodeTimedSyncResponse(m TimedSyncResponse) []byte {
	w := NewWriter()
	w.I64(m.LocalTime)
	writePeerList(w, m.PeerList)
	return w.Bytes()
}

func DecodeTimedSyncResponse(b []byte) (TimedSyncResponse, error) {
	r := NewReader(b)
	lt, err := r.I64()
	if err != nil {
		return TimedSyncResponse{}, err
	}
	pl, err := readPeerList(r)
	if err != nil {
		return TimedSyncResponse{}, err
	}
	return TimedSyncResponse{LocalTime: lt, PeerList: pl}, nil
}

// SupportFlagsResponse answers CommandSupportFlags with a bitmask of
// optional protocol extensions this node understands.
type SupportFlagsResponse struct {
	Flags uint32
}

func EncodeSupportFlagsResponse(m SupportFlagsResponse) []byte {
	w := NewWriter()
	w.U32(m.Flags)
	return w.Bytes()
}

func DecodeSupportFlagsResponse(b []byte) (SupportFlagsResponse, error) {
	r := NewReader(b)
	f, err := r.U32()
	return SupportFlagsResponse{Flags: f}, err
}

// BroadcastNotify is the flood-relay message for arbitrary application
// payloads (spec.md §4.5), notify-only (no response expected).
type BroadcastNotify struct {
	SenderHost  string
	SenderPort  uint16
	MessageHash [32]byte
	Hop         uint32
	RecipientID string
	Payload     []byte
}

func EncodeBroadcastNotify(m BroadcastNotify) []byte {
	w := NewWriter()
	w.String(m.SenderHost)
	w.U16(m.SenderPort)
	w.Bytes32(m.MessageHash)
	w.U32(m.Hop)
	w.String(m.RecipientID)
	w.Blob(m.Payload)
	return w.Bytes()
}

func DecodeBroadcastNotify(b []byte) (BroadcastNotify, error) {
	r := NewReader(b)
	var m BroadcastNotify
	var err error
	if m.SenderHost, err = r.String(); err != nil {
		return m, err
	}
	if m.SenderPort, err = r.U16(); err != nil {
		return m, err
	}
	if m.MessageHash, err = r.Bytes32(); err != nil {
		return m, err
	}
	if m.Hop, err = r.U32(); err != nil {
		return m, err
	}
	if m.RecipientID, err = r.String(); err != nil {
		return m, err
	}
	if m.Payload, err = r.Blob(); err != nil {
		return m, err
	}
	return m, nil
}
