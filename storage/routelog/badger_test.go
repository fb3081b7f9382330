package routelog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutLoadAllDelete(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "routelog-db")
	l, err := Open(dir)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Put("recipient-1", "sn-1", 12345))
	require.NoError(t, l.Put("recipient-2", "sn-2", 67890))

	records, err := l.LoadAll()
	require.NoError(t, err)
	byRecipient := map[string]Record{}
	for _, r := range records {
		byRecipient[r.RecipientID] = r
	}
	require.Equal(t, "sn-1", byRecipient["recipient-1"].SupernodeID)
	require.Equal(t, int64(12345), byRecipient["recipient-1"].ExpiresAt)
	require.Equal(t, "sn-2", byRecipient["recipient-2"].SupernodeID)

	require.NoError(t, l.Delete("recipient-1", "sn-1"))
	records, err = l.LoadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "recipient-2", records[0].RecipientID)
}

func TestPutSupportsMultipleSupernodesPerRecipient(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "routelog-db")
	l, err := Open(dir)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Put("recipient-1", "sn-1", 100))
	require.NoError(t, l.Put("recipient-1", "sn-2", 200))

	records, err := l.LoadAll()
	require.NoError(t, err)
	require.Len(t, records, 2, "both routes for the same recipient must be retained independently")

	require.NoError(t, l.Delete("recipient-1", "sn-1"))
	records, err = l.LoadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "sn-2", records[0].SupernodeID, "deleting one route must not affect the other route for the same recipient")
}

func TestEncodeDecodeRecordRoundTrip(t *testing.T) {
	b := encodeRecord(424242)
	expiresAt, err := decodeRecord(b)
	require.NoError(t, err)
	require.Equal(t, int64(424242), expiresAt)
}

func TestDecodeRecordRejectsShortInput(t *testing.T) {
	_, err := decodeRecord([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestSplitRouteKeyRejectsMissingSeparator(t *testing.T) {
	_, _, err := splitRouteKey("no-separator-here")
	require.Error(t, err)
}
