// Package logging builds the process logger: the logr API on top of zap.
package logging

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger that emits V(level) and below. dev switches to the
// human-readable console encoder. The returned func flushes buffered output.
func New(level int, dev bool) (logr.Logger, func(), error) {
	if level < 0 {
		return logr.Logger{}, nil, fmt.Errorf("log level must be >= 0, got %d", level)
	}
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	// logr verbosity n maps to zap level -n.
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, nil, fmt.Errorf("build zap logger: %w", err)
	}
	flush := func() { _ = zl.Sync() }
	return zapr.NewLogger(zl), flush, nil
}
