// Package debug owns the process logger shared by the push channel packages.
package debug

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
)

// EnvDebug enables debug-level logging when set to a true value.
const EnvDebug = "PHLEXI_PUSH_DEBUG"

var (
	level  = new(slog.LevelVar)
	logger atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelInfo)
	if raw, ok := os.LookupEnv(EnvDebug); ok {
		if val, err := strconv.ParseBool(raw); err == nil && val {
			level.Set(slog.LevelDebug)
		}
	}
	SetOutput(os.Stderr)
}

// Logger returns the process logger.
func Logger() *slog.Logger {
	return logger.Load()
}

// SetOutput rebuilds the process logger to write to w.
func SetOutput(w io.Writer) {
	logger.Store(slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})))
}

// SetLevel changes the minimum level of the process logger.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// Enable switches the process logger to debug level.
func Enable() {
	level.Set(slog.LevelDebug)
}

// Disable restores the default info level.
func Disable() {
	level.Set(slog.LevelInfo)
}

// Enabled reports whether debug-level records are emitted.
func Enabled() bool {
	return level.Level() <= slog.LevelDebug
}
