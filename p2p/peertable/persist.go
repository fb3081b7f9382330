package peertable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// CurrentVersion is the on-disk peerlist format version written by
// Snapshot. VersionLegacy is the version 0 format, which additionally
// carried a redundant per-entry peer_id byte string that must be tolerated
// on read and dropped on write (spec.md §4.2, §6).
const (
	CurrentVersion = 1
	VersionLegacy  = 0
)

// Snapshot serializes anchor+white+gray into the versioned blob handed to
// an external peerlist store (spec.md §4.2's persist()). Entries within
// each tier are sorted by address so repeated snapshots of an unchanged
// table are byte-identical (testable property #6).
func (t *Table) Snapshot() []byte {
	t.mu.Lock()
	anchor := snapshotTier(t.anchor)
	white := snapshotTier(t.white)
	gray := snapshotTier(t.gray)
	t.mu.Unlock()

	var buf bytes.Buffer
	writeUvarint(&buf, CurrentVersion)
	writeTier(&buf, anchor)
	writeTier(&buf, white)
	writeTier(&buf, gray)
	return buf.Bytes()
}

// LoadSnapshot replaces the table's contents with the blob produced by
// Snapshot (or a legacy version-0 blob). Persistence failures are the
// caller's to handle: spec.md §7 treats an unreadable blob as tolerated on
// startup (fresh start), not fatal.
func (t *Table) LoadSnapshot(blob []byte) error {
	r := bytes.NewReader(blob)
	version, err := binary.ReadUvarint(r)
	if err != nil {
		return fmt.Errorf("peertable: read version: %w", err)
	}
	anchor, err := readTier(r, version)
	if err != nil {
		return fmt.Errorf("peertable: read anchor tier: %w", err)
	}
	white, err := readTier(r, version)
	if err != nil {
		return fmt.Errorf("peertable: read white tier: %w", err)
	}
	gray, err := readTier(r, version)
	if err != nil {
		return fmt.Errorf("peertable: read gray tier: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.anchor = toMap(anchor)
	t.white = toMap(white)
	t.gray = toMap(gray)
	t.fails = make(map[Address]int)
	return nil
}

func snapshotTier(m map[Address]*Entry) []Entry {
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr.String() < out[j].Addr.String() })
	return out
}

func toMap(entries []Entry) map[Address]*Entry {
	m := make(map[Address]*Entry, len(entries))
	for i := range entries {
		e := entries[i]
		m[e.Addr] = &e
	}
	return m
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeTier(buf *bytes.Buffer, entries []Entry) {
	writeUvarint(buf, uint64(len(entries)))
	for _, e := range entries {
		writeString(buf, e.Addr.Host)
		writeUvarint(buf, uint64(e.Addr.Port))
		writeUvarint(buf, e.PeerID)
		writeUvarint(buf, uint64(e.LastSeen))
		writeUvarint(buf, uint64(e.RPCPort))
		writeUvarint(buf, uint64(e.PruningSeed))
	}
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readTier(r *bytes.Reader, version uint64) ([]Entry, error) {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		host, err := readString(r)
		if err != nil {
			return nil, err
		}
		port, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		peerID, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		lastSeen, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		rpcPort, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		pruningSeed, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		if version == VersionLegacy {
			// Version 0 carried a redundant peer_id byte string here;
			// tolerate and discard it.
			if _, err := readString(r); err != nil {
				return nil, err
			}
		}
		entries = append(entries, Entry{
			Addr:        Address{Host: host, Port: uint16(port)},
			PeerID:      peerID,
			LastSeen:    int64(lastSeen),
			RPCPort:     uint16(rpcPort),
			PruningSeed: uint32(pruningSeed),
		})
	}
	return entries, nil
}
