// Package logging builds the structured logger every manager in latchdb
// threads through its constructor, replacing DaemonDB's fmt.Printf trace
// lines (e.g. "[BufferPool] HIT pageID=..." in storage_engine/bufferpool)
// with zap fields. Grounded on sushant-115-gojodb/pkg/logger/logger.go.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the logger's level, encoding, and destination.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// Format is "json" or "console". Defaults to "json".
	Format string
	// OutputFile is a path, or "stdout"/"stderr". Defaults to "stdout".
	OutputFile string
}

// New builds a *zap.SugaredLogger per config. Intended to be called once at
// process start and passed down to the storage managers.
func New(config Config) (*zap.SugaredLogger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(config.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	writer, err := writeSyncer(config.OutputFile)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder(config.Format), writer, level)
	return zap.New(core, zap.AddCaller()).
		WithOptions(zap.Fields(zap.String("component", "latchdb"))).
		Sugar(), nil
}

// Nop returns a logger that discards everything, used as the fallback when
// a manager is constructed without an explicit logger.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func encoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if strings.ToLower(format) == "console" {
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(cfg)
}

func writeSyncer(output string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	default:
		f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("logging: open %s: %w", output, err)
		}
		return zapcore.AddSync(f), nil
	}
}
