// Package log provides the module-scoped structured logger used across
// graftd, in the same shape as klaytn's own log package: callers ask for a
// logger named after their module and log with alternating key/value pairs
// instead of formatted strings.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module names, mirroring the component list in SPEC_FULL.md.
const (
	ModuleFrame     = "p2p.frame"
	ModulePeerTable = "p2p.peertable"
	ModuleConnMgr   = "p2p.connmgr"
	ModuleRouter    = "p2p.router"
	ModuleBroadcast = "p2p.broadcast"
	ModuleRTA       = "rta"
	ModuleStorage   = "storage"
	ModuleAdminRPC  = "rpc.admin"
	ModuleNode      = "node"
)

var (
	baseOnce sync.Once
	base     *zap.Logger
	level    = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func root() *zap.Logger {
	baseOnce.Do(func() {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "t"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(os.Stderr), level)
		base = zap.New(core)
	})
	return base
}

// Logger is a module-scoped, structured logger. Every call takes a message
// and an even number of key/value pairs, klaytn-style.
type Logger struct {
	z *zap.SugaredLogger
}

// NewModuleLogger returns a logger tagged with the given module name.
func NewModuleLogger(module string) *Logger {
	return &Logger{z: root().Sugar().With("module", module)}
}

// With returns a derived logger carrying the extra key/value pairs.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{z: l.z.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.z.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.z.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.z.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.z.Errorw(msg, kv...) }

// SetLevel adjusts the minimum level emitted by the root logger. Used by
// the CLI's --verbosity flag.
func SetLevel(lvl zapcore.Level) {
	root()
	// The root core reads a shared atomic level, so every module logger,
	// including those created before this call, honors the new level.
	level.SetLevel(lvl)
}
