// Package logging builds the server's structured logger: one append-only
// file, written synchronously, surviving restarts. It replaces the
// ANSI-colored console Log of the teacher's http package with
// zap, writing lines a log-processing pipeline can parse instead of
// lines meant for a terminal.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// appendSyncer is a zapcore.WriteSyncer over an os.File opened in
// append mode, so concurrent writers (this process across restarts,
// or a crash mid-write) never truncate prior log content.
type appendSyncer struct {
	f *os.File
}

func (a *appendSyncer) Write(p []byte) (int, error) { return a.f.Write(p) }
func (a *appendSyncer) Sync() error                 { return a.f.Sync() }

// New opens path in append mode and returns a zap.Logger writing JSON
// lines to it, one per log event, timestamped and leveled.
func New(path string) (*zap.Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("logging: opening %s: %w", path, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		&appendSyncer{f: f},
		zap.NewAtomicLevelAt(zap.InfoLevel),
	)
	return zap.New(core), nil
}
