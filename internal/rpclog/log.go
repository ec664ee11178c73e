// Package rpclog is a small slog-backed logger modeled on go-ethereum's
// log package: package-level level functions plus a Logger value that
// carries static key/value context.
package rpclog

import (
	"context"
	"log/slog"
	"os"
)

var root = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// SetDefault replaces the package-level logger, e.g. to raise verbosity
// or redirect output in a binary embedding this module.
func SetDefault(l *slog.Logger) {
	root = l
}

// Logger carries a fixed set of key/value attributes that are attached
// to every record it emits.
type Logger struct {
	l *slog.Logger
}

// New returns a Logger with the given static context attached to every
// subsequent call. ctx must be an even-length list of alternating keys
// and values, matching slog's convention.
func New(ctx ...any) Logger {
	return Logger{l: root.With(ctx...)}
}

func (lg Logger) Trace(msg string, ctx ...any) { lg.l.Log(context.Background(), slog.LevelDebug-4, msg, ctx...) }
func (lg Logger) Debug(msg string, ctx ...any) { lg.l.Debug(msg, ctx...) }
func (lg Logger) Info(msg string, ctx ...any)  { lg.l.Info(msg, ctx...) }
func (lg Logger) Warn(msg string, ctx ...any)  { lg.l.Warn(msg, ctx...) }
func (lg Logger) Error(msg string, ctx ...any) { lg.l.Error(msg, ctx...) }

func Trace(msg string, ctx ...any) { New().Trace(msg, ctx...) }
func Debug(msg string, ctx ...any) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...any) { root.Error(msg, ctx...) }
