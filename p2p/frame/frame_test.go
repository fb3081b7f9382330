package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	f := &Frame{
		Header: Header{
			Command:      7,
			ReturnCode:   0,
			Flags:        FlagRequest,
			ProtoVersion: 1,
		},
		Body: []byte("hello graftd"),
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, f))

	got, err := Read(&buf)
	require.NoError(t, err)
	require.Equal(t, f.Command, got.Command)
	require.Equal(t, f.Flags, got.Flags)
	require.Equal(t, f.ProtoVersion, got.ProtoVersion)
	require.Equal(t, f.Body, got.Body)
	require.Equal(t, uint64(len(f.Body)), got.BodyLen)
}

func TestReadRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, &Frame{Header: Header{Command: 1}}))
	corrupt := buf.Bytes()
	corrupt[0] ^= 0xFF

	_, err := Read(bytes.NewReader(corrupt))
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestReadRejectsOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, &Frame{Header: Header{Command: 1}}))
	raw := buf.Bytes()
	// Overwrite the body-length field (bytes [8:16]) with something huge.
	for i := 8; i < 16; i++ {
		raw[i] = 0xFF
	}
	_, err := Read(bytes.NewReader(raw))
	require.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestFlagPredicates(t *testing.T) {
	req := &Frame{Header: Header{Flags: FlagRequest}}
	resp := &Frame{Header: Header{Flags: FlagResponse}}
	notify := &Frame{Header: Header{Flags: 0}}

	require.True(t, req.IsRequest())
	require.False(t, req.IsResponse())
	require.True(t, resp.IsResponse())
	require.False(t, resp.IsRequest())
	require.True(t, notify.IsNotify())
	require.False(t, req.IsNotify())
}
