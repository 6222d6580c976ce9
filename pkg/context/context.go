// Package context carries run tracing values through build orchestration
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ctxKey is unexported so no other package can collide with these keys
type ctxKey int

// Context keys for run tracing
const (
	runIDKey ctxKey = iota
	crateKey
	operationKey
	startTimeKey
)

const (
	unknownRun   = "unknown-run"
	unknownCrate = ""
	// UnknownOperation is returned by GetOperation when none was attached
	UnknownOperation = "unknown-operation"
)

// WithRunID adds a run ID to the context
func WithRunID(parent context.Context, runID string) context.Context {
	if runID == "" {
		runID = GenerateRunID()
	}
	return context.WithValue(parent, runIDKey, runID)
}

// GetRunID retrieves the run ID from context
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok && id != "" {
		return id
	}
	return unknownRun
}

// HasRunID reports whether a run ID was attached
func HasRunID(ctx context.Context) bool {
	return GetRunID(ctx) != unknownRun
}

// WithCrate scopes the context to one crate
func WithCrate(parent context.Context, crate string) context.Context {
	return context.WithValue(parent, crateKey, crate)
}

// GetCrate retrieves the crate name, or "" outside a crate scope
func GetCrate(ctx context.Context) string {
	if c, ok := ctx.Value(crateKey).(string); ok {
		return c
	}
	return unknownCrate
}

// WithOperation adds an operation name to the context
func WithOperation(parent context.Context, operation string) context.Context {
	return context.WithValue(parent, operationKey, operation)
}

// GetOperation retrieves the operation name from context
func GetOperation(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey).(string); ok && op != "" {
		return op
	}
	return UnknownOperation
}

// WithStartTime adds the operation start time to the context
func WithStartTime(parent context.Context, startTime time.Time) context.Context {
	return context.WithValue(parent, startTimeKey, startTime)
}

// GetStartTime retrieves the operation start time, zero if unset
func GetStartTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(startTimeKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}

// GetDuration calculates the duration since the start time in context
func GetDuration(ctx context.Context) time.Duration {
	startTime := GetStartTime(ctx)
	if startTime.IsZero() {
		return 0
	}
	return time.Since(startTime)
}

// GenerateRunID creates a new unique run ID
func GenerateRunID() string {
	return "run_" + uuid.New().String()
}

// EnrichContext adds a run ID (if missing) and a start time
func EnrichContext(parent context.Context) context.Context {
	ctx := parent
	if !HasRunID(ctx) {
		ctx = WithRunID(ctx, GenerateRunID())
	}
	return WithStartTime(ctx, time.Now())
}

// TracingFields returns tracing values for structured logging
func TracingFields(ctx context.Context) map[string]interface{} {
	fields := map[string]interface{}{
		"run_id":      GetRunID(ctx),
		"operation":   GetOperation(ctx),
		"duration_ms": GetDuration(ctx).Milliseconds(),
	}
	if crate := GetCrate(ctx); crate != "" {
		fields["crate"] = crate
	}
	return fields
}
