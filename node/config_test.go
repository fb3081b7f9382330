package node

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{DataDir: "/tmp/graftd-data", P2PBindPort: 18980}
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())
}

func TestValidateRequiresDataDirUnlessOffline(t *testing.T) {
	c := validConfig()
	c.DataDir = ""
	require.ErrorIs(t, c.Validate(), ErrMissingDataDir)

	c.Offline = true
	require.NoError(t, c.Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	c := validConfig()
	c.P2PBindPort = 0
	require.ErrorIs(t, c.Validate(), ErrInvalidPort)

	c.P2PBindPort = 70000
	require.ErrorIs(t, c.Validate(), ErrInvalidPort)

	c.P2PBindPort = -1
	require.ErrorIs(t, c.Validate(), ErrInvalidPort)
}
