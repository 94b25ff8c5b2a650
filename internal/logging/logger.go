// Package logging builds the zap loggers shared by both servers.
package logging

import (
	"fmt"
	"log"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cpsocial/internal/config"
)

// New returns a logger configured from cfg. FORMAT "console" selects the
// human readable development encoder, anything else produces JSON.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// StdLogger adapts l to the standard library logger interface, used by GORM
// and net/http which only accept a *log.Logger.
func StdLogger(l *zap.Logger, level zapcore.Level) *log.Logger {
	std, err := zap.NewStdLogAt(l, level)
	if err != nil {
		return zap.NewStdLog(l)
	}
	return std
}

// Writer exposes l as an io.Writer, one log entry per Write call.
type Writer struct {
	L *zap.Logger
}

func (w Writer) Write(p []byte) (int, error) {
	w.L.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
