// Package observability provides structured logging and metrics for the
// auth gateway.
//
// This package implements:
//   - zap loggers configured from LOG_LEVEL and LOG_FORMAT
//   - request ID propagation into log fields
//   - Prometheus collectors for the init data exchange
package observability
