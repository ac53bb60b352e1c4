// Package logging builds the process logger.
package logging

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger writing to stderr at level, plus the atomic level
// that controls it. format is "console" or "json".
func New(level, format string) (*zap.Logger, zap.AtomicLevel, error) {
	atom := zap.NewAtomicLevel()
	if err := SetLevel(atom, level); err != nil {
		return nil, atom, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(format) {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, atom, errors.Newf("unknown log format %q", format)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), atom)
	return zap.New(core, zap.AddCaller()), atom, nil
}

// SetLevel changes atom to the named level. "warning" and "trace" are
// accepted as aliases of warn and debug.
func SetLevel(atom zap.AtomicLevel, level string) error {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "warning":
		level = "warn"
	case "trace":
		level = "debug"
	case "off":
		level = "fatal"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	atom.SetLevel(lvl)
	return nil
}
