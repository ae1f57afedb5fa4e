// Package observability wires the process-wide zap logger used by commands
// and libraries. The CLI logs to stderr so stdout stays machine-parseable.
package observability

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the shared logger for command execution. It defaults to a
// no-op logger so packages can log before InitCLILogger runs (tests, early
// startup).
var CLILogger = zap.NewNop()

// InitCLILogger configures CLILogger for the given profile.
//
// Profiles:
//   - "structured": JSON output, for log shippers and agents
//   - anything else (including "console" and "test"): human-readable output
//
// verbose lowers the level from info to debug.
func InitCLILogger(profile string, verbose bool) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if profile == "structured" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	CLILogger = zap.New(core)
}

// SyncCLILogger flushes buffered log entries. Safe to call on a no-op logger.
func SyncCLILogger() {
	_ = CLILogger.Sync()
}
