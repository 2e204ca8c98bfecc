// Package logging provides structured logging for meterflow.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the pipeline.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file: "/var/log/meterflow.log"
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("batch fetched", "group", id, "samples", n)
//
// Never log the bulk API key or broker credentials.
package logging
