// Package logging provides structured logging for the WMS bridge.
//
// It wraps the standard library's log/slog with configuration-driven
// handler selection (JSON or text), level filtering, and default
// service/version attributes on every record.
//
// Components that need logging accept a narrow Logger interface and a
// noop default, so packages stay testable without a configured logger.
package logging
