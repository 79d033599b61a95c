// Package logging provides structured logging with per-module log level
// configuration.
//
// The package wraps Go's slog with automatic output routing:
//   - Logs to systemd journal when available (Linux systems with journald)
//   - Logs to stderr when a terminal, pipe, or file is connected
//   - Logs to both when both are available
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info", // Global log level: debug, info, warn, error
//		Format: "text", // Output format: text or json
//		Modules: map[string]string{
//			"capture": "debug", // Per-module overrides
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("session")
//	logger.Info("capture started", "mode", "1080p29.97")
//
// When running under systemd, filter with:
//
//	journalctl -t deckgrab MODULE=capture
package logging
