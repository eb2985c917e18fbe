// Package kernellog wraps log/slog with request- and cycle-scoped
// child loggers, so every log line produced while driving one
// AutonomousLoop.Run call or one engine step can be grepped back to
// that single run.
package kernellog

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// NewRequestID mints a request-scoped ID for one Run call. It falls
// back to a time-based hex ID if UUIDv7 generation fails.
func NewRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("r_%08x", time.Now().UnixMilli()&0xFFFFFFFF)
	}
	return id.String()
}

// WithRequest returns a child logger scoped to requestID. Every line
// logged through it carries "request_id" so a single run can be
// isolated from concurrent ones.
func WithRequest(base *slog.Logger, requestID string) *slog.Logger {
	return base.With("request_id", requestID)
}

// WithCycle returns a child logger scoped to cycle, layered on top of
// base (typically an already request-scoped logger).
func WithCycle(base *slog.Logger, cycle int) *slog.Logger {
	return base.With("cycle", cycle)
}
