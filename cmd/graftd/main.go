// Command graftd runs a standalone P2P overlay node with RTA redirection,
// wired the way the teacher's cmd/* entrypoints wire a node.Node: a single
// urfave/cli.v1 app whose Action builds a config, constructs a node, and
// blocks until an OS signal arrives.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap/zapcore"
	"gopkg.in/urfave/cli.v1"
	yaml "gopkg.in/yaml.v2"

	"github.com/graft-project/graftd/internal/log"
	"github.com/graft-project/graftd/node"
)

const clientIdentifier = "graftd"

func main() {
	app := cli.NewApp()
	app.Name = clientIdentifier
	app.Usage = "Graft-compatible P2P overlay node with supernode RTA redirection"
	app.Flags = appFlags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeOf(err))
	}
}

func run(ctx *cli.Context) error {
	setVerbosity(ctx.GlobalInt(VerbosityFlag.Name))

	cfg, err := buildConfig(ctx)
	if err != nil {
		return &node.ExitError{Code: node.ExitConfigError, Err: err}
	}

	n, err := node.New(cfg)
	if err != nil {
		return err
	}

	if file := ctx.GlobalString(SupernodesFileFlag.Name); file != "" {
		if err := loadSupernodesFile(file, n); err != nil {
			return &node.ExitError{Code: node.ExitConfigError, Err: err}
		}
	}

	if err := n.Start(); err != nil {
		return err
	}

	waitForSignal()
	return n.Stop()
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func setVerbosity(v int) {
	levels := []zapcore.Level{zapcore.ErrorLevel, zapcore.WarnLevel, zapcore.InfoLevel, zapcore.DebugLevel}
	if v < 0 {
		v = 0
	}
	if v >= len(levels) {
		v = len(levels) - 1
	}
	log.SetLevel(levels[v])
}

func exitCodeOf(err error) int {
	if ee, ok := err.(*node.ExitError); ok {
		return ee.Code
	}
	return node.ExitAbnormal
}

type supernodeEntry struct {
	ID                string `yaml:"id"`
	URL               string `yaml:"url"`
	RedirectURI       string `yaml:"redirect_uri"`
	RedirectTimeoutMS int64  `yaml:"redirect_timeout_ms"`
}

// loadSupernodesFile registers a fixed set of supernodes from a YAML file,
// a development bootstrap convenience supplementing the admin RPC's
// register_supernode endpoint.
func loadSupernodesFile(path string, n *node.Node) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read supernodes file: %w", err)
	}
	var entries []supernodeEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse supernodes file: %w", err)
	}
	for _, e := range entries {
		if err := n.RegisterSupernode(e.ID, e.URL, e.RedirectURI, e.RedirectTimeoutMS); err != nil {
			return fmt.Errorf("register supernode %s: %w", e.ID, err)
		}
	}
	return nil
}
