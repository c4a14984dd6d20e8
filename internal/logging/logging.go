// Package logging provides helpers for structured logging.
//
// Conventions:
//   - Loggers are dependency-injected, never global
//   - Each component scopes its logger once at construction with
//     logger.With("component", ...)
//   - A nil logger degrades to a discard logger, so components never
//     nil-check before logging
//
// Output format, level, and destination are configured only in main().
// Components must not call slog.SetDefault.
//
// Logging stays out of hot paths: token generation, constraint evaluation,
// and post-filtering never log. Lifecycle boundaries and per-entity
// maintenance failures are the intended log points.
package logging

import (
	"context"
	"log/slog"
)

// discardHandler drops every record.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that drops all output.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns logger if non-nil, otherwise a discard logger.
// The standard pattern for optional logger parameters:
//
//	func NewMaintainer(logger *slog.Logger) *Maintainer {
//	    logger = logging.Default(logger)
//	    return &Maintainer{logger: logger.With("component", "trigger")}
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}
