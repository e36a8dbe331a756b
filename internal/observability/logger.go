// Package observability provides Prometheus metrics functionality for monitoring coughdetect.
package observability

import "github.com/tphakala/coughdetect/internal/logger"

// Package-level cached logger instance.
var log = logger.Global().Module("telemetry")
