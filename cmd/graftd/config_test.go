package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/urfave/cli.v1"

	"github.com/graft-project/graftd/node"
)

func newTestContext(t *testing.T, args []string) *cli.Context {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range appFlags {
		f.Apply(set)
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestBuildConfigAppliesDefaultsWithNoFlags(t *testing.T) {
	ctx := newTestContext(t, nil)
	cfg, err := buildConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, node.DefaultP2PBindIP, cfg.P2PBindIP)
	require.Equal(t, node.DefaultP2PBindPort, cfg.P2PBindPort)
	require.Equal(t, node.DefaultOutPeers, cfg.OutPeers)
	require.Equal(t, node.DefaultInPeers, cfg.InPeers)
}

func TestBuildConfigCLIFlagsOverrideDefaults(t *testing.T) {
	ctx := newTestContext(t, []string{
		"--network-id", "7",
		"--p2p-bind-port", "19999",
		"--out-peers", "3",
		"--add-peer", "10.0.0.1:18980",
		"--add-peer", "10.0.0.2:18980",
	})
	cfg, err := buildConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(7), cfg.NetworkID)
	require.Equal(t, 19999, cfg.P2PBindPort)
	require.Equal(t, 3, cfg.OutPeers)
	require.Equal(t, []string{"10.0.0.1:18980", "10.0.0.2:18980"}, cfg.AddPeers)
}

func TestBuildConfigLoadsTOMLFileThenOverlaysCLIFlags(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "graftd.toml")
	contents := "NetworkID = 42\nP2PBindPort = 20000\nDataDir = \"" + dir + "\"\nHideMyPort = true\nOffline = true\n"
	require.NoError(t, os.WriteFile(tomlPath, []byte(contents), 0o644))

	ctx := newTestContext(t, []string{
		"--config", tomlPath,
		"--p2p-bind-port", "20001",
	})
	cfg, err := buildConfig(ctx)
	require.NoError(t, err)

	require.Equal(t, uint32(42), cfg.NetworkID, "value from the TOML file survives when no flag overrides it")
	require.Equal(t, 20001, cfg.P2PBindPort, "an explicitly-set CLI flag wins over the TOML file")
	require.Equal(t, dir, cfg.DataDir)
	require.True(t, cfg.HideMyPort, "a TOML-set bool must not be clobbered by an unset bool flag's zero value")
	require.True(t, cfg.Offline, "a TOML-set bool must not be clobbered by an unset bool flag's zero value")
}

func TestBuildConfigRejectsUnreadableConfigFile(t *testing.T) {
	ctx := newTestContext(t, []string{"--config", filepath.Join(t.TempDir(), "missing.toml")})
	_, err := buildConfig(ctx)
	require.Error(t, err)
}
