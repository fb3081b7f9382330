// Package wire defines the binary encoding of the payload carried inside
// frame.Frame bodies for the commands the message router (C4) understands:
// handshake, timed sync, ping, support-flags and broadcast. The frame
// header itself (spec.md §6) is payload-agnostic; this package is the
// application's choice of encoding for it, written in the same
// length-prefixed-binary style as peertable's persistence blob.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var ErrTruncated = errors.New("wire: truncated message")

// Writer accumulates a binary-encoded message body.
type Writer struct{ buf bytes.Buffer }

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) Uvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf.Write(tmp[:n])
}

func (w *Writer) U32(v uint32) { w.Uvarint(uint64(v)) }
func (w *Writer) U16(v uint16) { w.Uvarint(uint64(v)) }
func (w *Writer) I64(v int64)  { w.Uvarint(uint64(v)) }

func (w *Writer) Bytes4(b [4]byte) { w.buf.Write(b[:]) }
func (w *Writer) Bytes32(b [32]byte) { w.buf.Write(b[:]) }

func (w *Writer) String(s string) {
	w.Uvarint(uint64(len(s)))
	w.buf.WriteString(s)
}

func (w *Writer) Blob(b []byte) {
	w.Uvarint(uint64(len(b)))
	w.buf.Write(b)
}

// Reader decodes a binary message body produced by Writer.
type Reader struct {
	r *bytes.Reader
}

func NewReader(b []byte) *Reader { return &Reader{r: bytes.NewReader(b)} }

func (r *Reader) Uvarint() (uint64, error) { return binary.ReadUvarint(r.r) }

func (r *Reader) U32() (uint32, error) {
	v, err := r.Uvarint()
	return uint32(v), err
}

func (r *Reader) U16() (uint16, error) {
	v, err := r.Uvarint()
	return uint16(v), err
}

func (r *Reader) I64() (int64, error) {
	v, err := r.Uvarint()
	return int64(v), err
}

func (r *Reader) Bytes4() ([4]byte, error) {
	var b [4]byte
	_, err := r.r.Read(b[:])
	return b, err
}

func (r *Reader) Bytes32() ([32]byte, error) {
	var b [32]byte
	_, err := r.r.Read(b[:])
	return b, err
}

func (r *Reader) String() (string, error) {
	n, err := r.Uvarint()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.r.Read(b); err != nil {
			return "", ErrTruncated
		}
	}
	return string(b), nil
}

func (r *Reader) Blob() ([]byte, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.r.Read(b); err != nil {
			return nil, ErrTruncated
		}
	}
	return b, nil
}
