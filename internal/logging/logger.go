// Package logging builds the zap loggers used across Omni-Cortex.
// Logs go to stderr so the stdio RPC channel on stdout stays clean.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs the process logger. Debug mode lowers the level and switches
// to the development encoder.
func New(debug bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	if debug {
		config = zap.NewDevelopmentConfig()
		config.OutputPaths = []string{"stderr"}
		config.ErrorOutputPaths = []string{"stderr"}
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}

// Nop returns a logger that discards everything. Components accept a logger
// rather than reaching for a global; tests pass this.
func Nop() *zap.Logger { return zap.NewNop() }
