// Package logging defines the structured logger injected into every component
// and its zap-backed implementation.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.elastic.co/ecszap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger accepts a message plus alternating key/value pairs.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

type noop struct{}

func (noop) Debug(string, ...any) {}
func (noop) Info(string, ...any)  {}
func (noop) Warn(string, ...any)  {}
func (noop) Error(string, ...any) {}

// Noop discards everything.
func Noop() Logger { return noop{} }

// OrNoop returns l, or Noop when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return noop{}
	}
	return l
}

// Zap adapts a zap SugaredLogger to Logger.
type Zap struct {
	sugar *zap.SugaredLogger
}

func (z *Zap) Debug(msg string, kv ...any) { z.sugar.Debugw(msg, kv...) }
func (z *Zap) Info(msg string, kv ...any)  { z.sugar.Infow(msg, kv...) }
func (z *Zap) Warn(msg string, kv ...any)  { z.sugar.Warnw(msg, kv...) }
func (z *Zap) Error(msg string, kv ...any) { z.sugar.Errorw(msg, kv...) }

// Sync flushes buffered entries.
func (z *Zap) Sync() error { return z.sugar.Sync() }

// With returns a child logger carrying the given fields on every entry.
func (z *Zap) With(kv ...any) *Zap { return &Zap{sugar: z.sugar.With(kv...)} }

// Unwrap exposes the underlying zap logger.
func (z *Zap) Unwrap() *zap.Logger { return z.sugar.Desugar() }

// FromZap wraps an existing zap logger.
func FromZap(l *zap.Logger) *Zap { return &Zap{sugar: l.Sugar()} }

// ParseLevel maps debug|info|warn|error onto zap levels; empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	if strings.TrimSpace(level) == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("parse log level %q: %w", level, err)
	}
	return lvl, nil
}

// NewZap builds a logger writing to stderr. json selects ECS-formatted JSON,
// otherwise a console encoder is used.
func NewZap(level string, json bool) (*Zap, error) {
	return NewZapWriter(os.Stderr, level, json)
}

// NewZapWriter is NewZap with an explicit sink.
func NewZapWriter(w io.Writer, level string, json bool) (*Zap, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	sink := zapcore.AddSync(w)
	var core zapcore.Core
	if json {
		core = ecszap.NewCore(ecszap.NewDefaultEncoderConfig(), sink, lvl)
	} else {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(enc), sink, lvl)
	}
	return &Zap{sugar: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()}, nil
}
