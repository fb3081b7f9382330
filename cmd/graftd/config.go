// TOML config loading, adapted from the teacher's cmd/ranger/config.go
// tomlSettings pattern: the node.Config struct's exported fields map
// directly to TOML keys, and the config file (if any) is loaded before
// CLI flags are applied on top of it.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
	"gopkg.in/urfave/cli.v1"

	"github.com/graft-project/graftd/node"
)

var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

func loadConfigFile(file string, cfg *node.Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// buildConfig loads node.DefaultConfig, overlays an optional TOML file,
// then overlays any CLI flags the user actually set.
func buildConfig(ctx *cli.Context) (node.Config, error) {
	cfg := node.DefaultConfig

	if file := ctx.GlobalString(ConfigFileFlag.Name); file != "" {
		if err := loadConfigFile(file, &cfg); err != nil {
			return cfg, fmt.Errorf("config file %s: %w", file, err)
		}
	}

	if ctx.GlobalIsSet(DataDirFlag.Name) {
		cfg.DataDir = ctx.GlobalString(DataDirFlag.Name)
	}
	if ctx.GlobalIsSet(NetworkIDFlag.Name) {
		cfg.NetworkID = uint32(ctx.GlobalInt(NetworkIDFlag.Name))
	} else if cfg.NetworkID == 0 {
		cfg.NetworkID = uint32(NetworkIDFlag.Value)
	}
	if ctx.GlobalIsSet(P2PBindIPFlag.Name) {
		cfg.P2PBindIP = ctx.GlobalString(P2PBindIPFlag.Name)
	} else if cfg.P2PBindIP == "" {
		cfg.P2PBindIP = node.DefaultP2PBindIP
	}
	if ctx.GlobalIsSet(P2PBindPortFlag.Name) {
		cfg.P2PBindPort = ctx.GlobalInt(P2PBindPortFlag.Name)
	} else if cfg.P2PBindPort == 0 {
		cfg.P2PBindPort = node.DefaultP2PBindPort
	}
	if ctx.GlobalIsSet(P2PExternalPortFlag.Name) {
		cfg.ExternalPort = ctx.GlobalInt(P2PExternalPortFlag.Name)
	}
	if ctx.GlobalIsSet(HideMyPortFlag.Name) {
		cfg.HideMyPort = ctx.GlobalBool(HideMyPortFlag.Name)
	}
	if ctx.GlobalIsSet(OfflineFlag.Name) {
		cfg.Offline = ctx.GlobalBool(OfflineFlag.Name)
	}
	if ctx.GlobalIsSet(OutPeersFlag.Name) {
		cfg.OutPeers = ctx.GlobalInt(OutPeersFlag.Name)
	} else if cfg.OutPeers == 0 {
		cfg.OutPeers = node.DefaultOutPeers
	}
	if ctx.GlobalIsSet(InPeersFlag.Name) {
		cfg.InPeers = ctx.GlobalInt(InPeersFlag.Name)
	} else if cfg.InPeers == 0 {
		cfg.InPeers = node.DefaultInPeers
	}
	if ctx.GlobalIsSet(AllowLocalIPFlag.Name) {
		cfg.AllowLocalIP = ctx.GlobalBool(AllowLocalIPFlag.Name)
	}

	if v := ctx.GlobalStringSlice(AddPeerFlag.Name); len(v) > 0 {
		cfg.AddPeers = v
	}
	if v := ctx.GlobalStringSlice(AddPriorityNodeFlag.Name); len(v) > 0 {
		cfg.PriorityNodes = v
	}
	if v := ctx.GlobalStringSlice(AddExclusiveNodeFlag.Name); len(v) > 0 {
		cfg.ExclusiveNodes = v
	}
	if v := ctx.GlobalStringSlice(SeedNodeFlag.Name); len(v) > 0 {
		cfg.SeedNodes = v
	}

	if ctx.GlobalIsSet(AdminBindAddrFlag.Name) {
		cfg.AdminBindAddr = ctx.GlobalString(AdminBindAddrFlag.Name)
	} else if cfg.AdminBindAddr == "" {
		cfg.AdminBindAddr = node.DefaultConfig.AdminBindAddr
	}

	return cfg, nil
}
