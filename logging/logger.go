// Package logging builds the zap logger shared by the command line tools.
package logging

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger with RFC3339 timestamps and caller information that
// sends errors to stderr and everything else to stdout. level is a zap level
// name ("debug", "info", ...); json selects the JSON encoder over the
// console one.
func New(level string, json bool) (*zap.Logger, error) {
	return newLogger(level, json, os.Stdout, os.Stderr)
}

func newLogger(level string, json bool, stdout, stderr io.Writer) (*zap.Logger, error) {
	var min zapcore.Level
	if level == "" {
		level = "info"
	}
	if err := min.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}

	isErrorLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel && lvl >= min
	})
	isInfoLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl < zapcore.ErrorLevel && lvl >= min
	})
	stdoutWriter := zapcore.Lock(zapcore.AddSync(stdout))
	stderrWriter := zapcore.Lock(zapcore.AddSync(stderr))

	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = zapcore.RFC3339TimeEncoder
	var encoder zapcore.Encoder
	if json {
		encoder = zapcore.NewJSONEncoder(config)
	} else {
		config.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(config)
	}

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, stderrWriter, isErrorLevel),
		zapcore.NewCore(encoder, stdoutWriter, isInfoLevel),
	)
	return zap.New(core, zap.AddCaller()), nil
}
