// Package logging provides structured logging for provisiond.
//
// It wraps log/slog with the handler, level and default fields chosen in
// configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Security
//
// Provisioning tokens, bearer tokens, WiFi passphrases and private keys must
// never be logged. Use Redact when a log line needs to identify a secret:
//
//	logger.Info("provisioning token received", "token", logging.Redact(tok))
package logging
