// Package logging provides structured logging built on log/slog.
//
// The Logger type embeds *slog.Logger, so all slog methods are available
// directly. Components should derive a child logger with With() so every
// line carries a component field:
//
//	logger := logging.New(cfg.Logging, version)
//	wsLog := logger.With("component", "mozart-ws")
//
// Packages that should not depend on this one (e.g. the mozart bridge)
// declare their own small Logger interface that *Logger satisfies.
package logging
