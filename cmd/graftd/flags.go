// Flags are declared in the teacher's style (cmd/utils/flags.go): package
// level cli.XFlag vars with Name/Usage/Value, collected into a slice used
// by the single top-level command.
package main

import (
	"gopkg.in/urfave/cli.v1"

	"github.com/graft-project/graftd/node"
)

var (
	ConfigFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	DataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the peer store and route log",
		Value: node.DefaultDataDir(),
	}
	NetworkIDFlag = cli.IntFlag{
		Name:  "network-id",
		Usage: "Network identifier; peers with a different id are rejected at handshake",
		Value: 1,
	}
	P2PBindIPFlag = cli.StringFlag{
		Name:  "p2p-bind-ip",
		Usage: "IP address to bind the P2P listener to",
		Value: node.DefaultP2PBindIP,
	}
	P2PBindPortFlag = cli.IntFlag{
		Name:  "p2p-bind-port",
		Usage: "TCP port to bind the P2P listener to",
		Value: node.DefaultP2PBindPort,
	}
	P2PExternalPortFlag = cli.IntFlag{
		Name:  "p2p-external-port",
		Usage: "Port advertised to peers, if different from p2p-bind-port (behind NAT)",
	}
	HideMyPortFlag = cli.BoolFlag{
		Name:  "hide-my-port",
		Usage: "Do not advertise this node's listening port to peers",
	}
	NoIGDFlag = cli.BoolFlag{
		Name:  "no-igd",
		Usage: "Disable UPnP/IGD automatic port mapping (accepted but has no effect: this node does no UPnP/IGD mapping)",
	}
	OfflineFlag = cli.BoolFlag{
		Name:  "offline",
		Usage: "Run without persistent storage (in-memory peer store, no route log); P2P listening and dialing still run",
	}
	OutPeersFlag = cli.IntFlag{
		Name:  "out-peers",
		Usage: "Target number of outbound connections",
		Value: node.DefaultOutPeers,
	}
	InPeersFlag = cli.IntFlag{
		Name:  "in-peers",
		Usage: "Maximum number of inbound connections",
		Value: node.DefaultInPeers,
	}
	AddPeerFlag = cli.StringSliceFlag{
		Name:  "add-peer",
		Usage: "Add a peer to the white peer list at startup (host:port, repeatable)",
	}
	AddPriorityNodeFlag = cli.StringSliceFlag{
		Name:  "add-priority-node",
		Usage: "Always try to stay connected to this node (host:port, repeatable)",
	}
	AddExclusiveNodeFlag = cli.StringSliceFlag{
		Name:  "add-exclusive-node",
		Usage: "Connect only to these nodes, bypassing normal peer selection (host:port, repeatable)",
	}
	SeedNodeFlag = cli.StringSliceFlag{
		Name:  "seed-node",
		Usage: "Bootstrap peer used only when no other outbound connection exists (host:port, repeatable)",
	}
	AllowLocalIPFlag = cli.BoolFlag{
		Name:  "allow-local-ip",
		Usage: "Allow peers advertising private/loopback addresses (useful for local test networks)",
	}
	TosFlagFlag = cli.IntFlag{
		Name:  "tos-flag",
		Usage: "IP type-of-service value for outbound connections (accepted but not applied)",
	}
	LimitRateUpFlag = cli.IntFlag{
		Name:  "limit-rate-up",
		Usage: "Upload rate limit in KB/s (accepted but not applied: this node does no rate limiting)",
	}
	LimitRateDownFlag = cli.IntFlag{
		Name:  "limit-rate-down",
		Usage: "Download rate limit in KB/s (accepted but not applied: this node does no rate limiting)",
	}
	LimitRateFlag = cli.IntFlag{
		Name:  "limit-rate",
		Usage: "Combined upload/download rate limit in KB/s (accepted but not applied: this node does no rate limiting)",
	}
	SaveGraphFlag = cli.StringFlag{
		Name:  "save-graph",
		Usage: "Path for a dot-format connection graph (accepted but has no effect: no graph is written)",
	}
	SupernodesFileFlag = cli.StringFlag{
		Name:  "supernodes-file",
		Usage: "YAML file of supernode id/address pairs to register at startup (development bootstrap)",
	}
	AdminBindAddrFlag = cli.StringFlag{
		Name:  "admin-addr",
		Usage: "Bind address for the local admin RPC surface",
		Value: "127.0.0.1:18981",
	}
	VerbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=error 1=warn 2=info 3=debug",
		Value: 2,
	}
)

var appFlags = []cli.Flag{
	ConfigFileFlag,
	DataDirFlag,
	NetworkIDFlag,
	P2PBindIPFlag,
	P2PBindPortFlag,
	P2PExternalPortFlag,
	HideMyPortFlag,
	NoIGDFlag,
	OfflineFlag,
	OutPeersFlag,
	InPeersFlag,
	AddPeerFlag,
	AddPriorityNodeFlag,
	AddExclusiveNodeFlag,
	SeedNodeFlag,
	AllowLocalIPFlag,
	TosFlagFlag,
	LimitRateUpFlag,
	LimitRateDownFlag,
	LimitRateFlag,
	SaveGraphFlag,
	SupernodesFileFlag,
	AdminBindAddrFlag,
	VerbosityFlag,
}
