// Package node wires the connection manager (C3), router (C4), broadcaster
// (C5), RTA registry (C6) and admin RPC surface into one runnable graftd
// process, the way klaytn's node.Node wires its services together, but
// without a service registry: this node's component set is fixed.
package node

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/graft-project/graftd/internal/clock"
	"github.com/graft-project/graftd/internal/log"
	"github.com/graft-project/graftd/p2p/broadcast"
	"github.com/graft-project/graftd/p2p/connmgr"
	"github.com/graft-project/graftd/p2p/peertable"
	"github.com/graft-project/graftd/p2p/router"
	"github.com/graft-project/graftd/rpc/admin"
	"github.com/graft-project/graftd/rta"
	"github.com/graft-project/graftd/storage/peerstore"
	"github.com/graft-project/graftd/storage/routelog"
)

var logger = log.NewModuleLogger(log.ModuleNode)

// Exit codes, per spec.md §7.
const (
	ExitOK            = 0
	ExitConfigError   = 1
	ExitBindFailure   = 2
	ExitAbnormal      = 3
)

// ExitError carries the process exit code a startup failure should
// produce, distinguishing configuration errors from bind failures.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// Node is the top-level running process.
type Node struct {
	cfg Config

	table      *peertable.Table
	store      peerstore.Store
	routeLog   *routelog.Log
	connMgr    *connmgr.Manager
	router     *router.Router
	bcast      *broadcast.Manager
	rtaReg     *rta.Registry
	adminSrv   *admin.Server

	cancel context.CancelFunc
}

// New validates cfg and constructs a Node, wiring every subsystem, but
// does not yet bind any socket (see Start).
func New(cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ExitError{Code: ExitConfigError, Err: err}
	}

	clk := clock.System{}
	table := peertable.New(peertable.DefaultConfig())

	var store peerstore.Store
	var rlog *routelog.Log
	if cfg.Offline {
		store = peerstore.NewMemStore()
	} else {
		var err error
		store, err = peerstore.OpenLevelDB(filepath.Join(cfg.DataDir, "peerstore"))
		if err != nil {
			return nil, &ExitError{Code: ExitConfigError, Err: fmt.Errorf("node: open peerstore: %w", err)}
		}
		rlog, err = routelog.Open(filepath.Join(cfg.DataDir, "routelog"))
		if err != nil {
			return nil, &ExitError{Code: ExitConfigError, Err: fmt.Errorf("node: open routelog: %w", err)}
		}
	}

	if blob, err := store.Load(); err == nil && blob != nil {
		if err := table.LoadSnapshot(blob); err != nil {
			logger.Warn("failed to load peerlist snapshot, starting fresh", "err", err)
		}
	}

	now := clk.Now().Unix()
	for _, a := range parseAddrs(cfg.AddPeers) {
		table.RecordSeen(a, 0, now)
	}

	rtaReg := rta.New(clk, rlog)
	if err := rtaReg.LoadDurable(); err != nil {
		logger.Warn("failed to load durable rta routes", "err", err)
	}

	networkID := networkIDBytes(cfg.NetworkID)
	peerID := randomPeerID()

	connCfg := connmgr.DefaultConfig()
	connCfg.NetworkID = networkID
	connCfg.PeerID = peerID
	connCfg.MyPort = uint16(cfg.ExternalPort)
	if connCfg.MyPort == 0 {
		connCfg.MyPort = uint16(cfg.P2PBindPort)
	}
	connCfg.OutPeers = cfg.OutPeers
	connCfg.InPeers = cfg.InPeers
	connCfg.AllowLocalIP = cfg.AllowLocalIP
	connCfg.SeedNodes = parseAddrs(cfg.SeedNodes)
	connCfg.PriorityNodes = parseAddrs(cfg.PriorityNodes)
	connCfg.ExclusiveNodes = parseAddrs(cfg.ExclusiveNodes)

	n := &Node{cfg: cfg, table: table, store: store, routeLog: rlog, rtaReg: rtaReg}

	bcast := broadcast.New(nil, rtaReg, clk) // connMgr wired below once constructed
	r := router.New(nil, bcast)
	connMgr := connmgr.New(connCfg, clk, table, connmgr.NewNetDialer(connCfg.HandshakeTimeout), r)
	r.SetConnMgr(connMgr)
	bcast.SetConnMgr(connMgr)

	n.connMgr = connMgr
	n.router = r
	n.bcast = bcast

	if cfg.AdminBindAddr != "" {
		creds := admin.Credentials{Username: cfg.AdminUsername, Password: cfg.AdminPassword}
		if creds.Password == "" {
			dir := cfg.DataDir
			if dir == "" {
				dir = "."
			}
			var err error
			creds, err = admin.GenerateCredentials(dir, cfg.P2PBindPort)
			if err != nil {
				return nil, &ExitError{Code: ExitConfigError, Err: err}
			}
		}
		n.adminSrv = admin.New(cfg.AdminBindAddr, creds, rtaReg, bcast)
	}

	return n, nil
}

// Start binds the P2P listener and admin RPC server and begins the
// connection manager's timer loop.
func (n *Node) Start() error {
	bindAddr := fmt.Sprintf("%s:%d", n.cfg.P2PBindIP, n.cfg.P2PBindPort)
	if err := n.connMgr.Listen(bindAddr); err != nil {
		return &ExitError{Code: ExitBindFailure, Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	go n.connMgr.Run(ctx)

	if n.adminSrv != nil {
		go func() {
			if err := n.adminSrv.ListenAndServe(); err != nil {
				logger.Warn("admin server stopped", "err", err)
			}
		}()
	}

	logger.Info("node started", "bind", bindAddr)
	return nil
}

// Stop persists the peer table, closes every subsystem.
func (n *Node) Stop() error {
	if n.cancel != nil {
		n.cancel()
	}
	if n.adminSrv != nil {
		n.adminSrv.Close()
	}
	n.connMgr.Close()
	n.bcast.Close()

	blob := n.table.Snapshot()
	if err := n.store.Save(blob); err != nil {
		logger.Warn("failed to persist peerlist", "err", err)
	}
	n.store.Close()
	if n.routeLog != nil {
		n.routeLog.Close()
	}
	return nil
}

// RegisterSupernode registers a supernode with the node's RTA registry,
// used for development bootstrap via --supernodes-file and by the admin
// RPC's register_supernode handler.
func (n *Node) RegisterSupernode(id, url, redirectURI string, redirectTimeoutMS int64) error {
	return n.rtaReg.RegisterSupernode(id, url, redirectURI, redirectTimeoutMS)
}

func networkIDBytes(id uint32) [4]byte {
	return [4]byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
}

func randomPeerID() uint64 {
	now := time.Now().UnixNano()
	return uint64(now)
}

func parseAddrs(raw []string) []peertable.Address {
	out := make([]peertable.Address, 0, len(raw))
	for _, s := range raw {
		host, port, ok := splitHostPort(s)
		if !ok {
			continue
		}
		out = append(out, peertable.NewAddress(host, port))
	}
	return out
}
