package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/graft-project/graftd/node"
)

func TestLoadSupernodesFileRegistersEachEntry(t *testing.T) {
	n, err := node.New(node.Config{Offline: true, P2PBindIP: "127.0.0.1", P2PBindPort: 19290})
	require.NoError(t, err)
	defer n.Stop()

	path := filepath.Join(t.TempDir(), "supernodes.yaml")
	contents := `
- id: sn-1
  url: http://127.0.0.1:9000
  redirect_uri: /rta
  redirect_timeout_ms: 60000
- id: sn-2
  url: http://127.0.0.1:9001
  redirect_uri: /rta
  redirect_timeout_ms: 30000
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	require.NoError(t, loadSupernodesFile(path, n))
}

func TestLoadSupernodesFileRejectsMissingFile(t *testing.T) {
	n, err := node.New(node.Config{Offline: true, P2PBindIP: "127.0.0.1", P2PBindPort: 19291})
	require.NoError(t, err)
	defer n.Stop()

	err = loadSupernodesFile(filepath.Join(t.TempDir(), "missing.yaml"), n)
	require.Error(t, err)
}
