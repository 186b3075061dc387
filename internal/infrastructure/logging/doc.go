// Package logging provides structured logging for km200-bridge.
//
// It wraps log/slog so every component logs with the same handler, level
// filter and default fields (service, version).
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components derive child loggers:
//
//	pollLog := logger.With("component", "poller")
//	pollLog.Warn("fetch failed", "path", ep.Path, "error", err)
//
// Never log the device passcode or broker credentials.
package logging
