package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.Uvarint(12345)
	w.U32(0xDEADBEEF)
	w.U16(4242)
	w.I64(-1) // encoded as a large uvarint via the uint64 cast, still round-trips
	w.Bytes4([4]byte{1, 2, 3, 4})
	w.String("graftd")
	w.Blob([]byte{0xAA, 0xBB})

	r := NewReader(w.Bytes())

	v, err := r.Uvarint()
	require.NoError(t, err)
	require.Equal(t, uint64(12345), v)

	u32, err := r.U32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), u32)

	u16, err := r.U16()
	require.NoError(t, err)
	require.Equal(t, uint16(4242), u16)

	i64, err := r.I64()
	require.NoError(t, err)
	require.Equal(t, int64(-1), i64)

	b4, err := r.Bytes4()
	require.NoError(t, err)
	require.Equal(t, [4]byte{1, 2, 3, 4}, b4)

	s, err := r.String()
	require.NoError(t, err)
	require.Equal(t, "graftd", s)

	blob, err := r.Blob()
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA, 0xBB}, blob)
}

func TestReaderTruncatedStringErrors(t *testing.T) {
	w := NewWriter()
	w.Uvarint(100) // claims 100 bytes follow, but none do
	r := NewReader(w.Bytes())
	_, err := r.String()
	require.Error(t, err)
}
