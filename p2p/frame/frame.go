// Package frame implements the length-prefixed request/response/notify wire
// protocol that every connection speaks (SPEC_FULL.md C1). It is agnostic
// to payload encoding: the body is an opaque byte string the application
// layer chooses how to interpret.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic identifies a graftd frame header, per spec.md §6.
const Magic uint64 = 0x0101010101012101

// MaxBodySize bounds a single frame's body to guard against a corrupt or
// hostile length field forcing an unbounded allocation.
const MaxBodySize = 32 << 20 // 32 MiB

// Flag bits within Header.Flags.
const (
	FlagRequest uint32 = 1 << 0
	FlagResponse uint32 = 1 << 1
	FlagStartFragment uint32 = 1 << 2
	FlagEndFragment   uint32 = 1 << 3
)

// headerSize is the number of bytes the fixed header occupies on the wire,
// Magic included, in the order specified by spec.md §6.
const headerSize = 8 + 8 + 1 + 4 + 4 + 4 + 4

// Header is the fixed-size preamble of every frame.
type Header struct {
	BodyLen      uint64
	HaveToReturn uint8
	Command      uint32
	ReturnCode   uint32
	Flags        uint32
	ProtoVersion uint32
}

// Frame is a decoded header plus its opaque body.
type Frame struct {
	Header
	Body []byte
}

var (
	ErrBadMagic    = errors.New("frame: bad magic")
	ErrBodyTooLarge = errors.New("frame: body exceeds maximum size")
)

// Write encodes and flushes a frame to w.
func Write(w io.Writer, f *Frame) error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], Magic)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(len(f.Body)))
	buf[16] = f.HaveToReturn
	binary.LittleEndian.PutUint32(buf[17:21], f.Command)
	binary.LittleEndian.PutUint32(buf[21:25], f.ReturnCode)
	binary.LittleEndian.PutUint32(buf[25:29], f.Flags)
	binary.LittleEndian.PutUint32(buf[29:33], f.ProtoVersion)

	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("frame: write header: %w", err)
	}
	if len(f.Body) > 0 {
		if _, err := w.Write(f.Body); err != nil {
			return fmt.Errorf("frame: write body: %w", err)
		}
	}
	return nil
}

// Read decodes one frame from r, blocking until the full header and body
// have arrived or r errors out.
func Read(r io.Reader) (*Frame, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	magic := binary.LittleEndian.Uint64(buf[0:8])
	if magic != Magic {
		return nil, ErrBadMagic
	}
	bodyLen := binary.LittleEndian.Uint64(buf[8:16])
	if bodyLen > MaxBodySize {
		return nil, ErrBodyTooLarge
	}
	f := &Frame{
		Header: Header{
			BodyLen:      bodyLen,
			HaveToReturn: buf[16],
			Command:      binary.LittleEndian.Uint32(buf[17:21]),
			ReturnCode:   binary.LittleEndian.Uint32(buf[21:25]),
			Flags:        binary.LittleEndian.Uint32(buf[25:29]),
			ProtoVersion: binary.LittleEndian.Uint32(buf[29:33]),
		},
	}
	if bodyLen > 0 {
		f.Body = make([]byte, bodyLen)
		if _, err := io.ReadFull(r, f.Body); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Frame) IsRequest() bool  { return f.Flags&FlagRequest != 0 }
func (f *Frame) IsResponse() bool { return f.Flags&FlagResponse != 0 }
func (f *Frame) IsNotify() bool   { return f.Flags&(FlagRequest|FlagResponse) == 0 }
