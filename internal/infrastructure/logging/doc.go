// Package logging provides structured logging for Freyja.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same default fields and format.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("emitter").Info("emitting", "entity_id", id)
//
// Never log broker passwords or the InfluxDB token.
package logging
