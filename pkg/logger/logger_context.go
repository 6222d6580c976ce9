package logger

import (
	"context"

	pcontext "github.com/rlibfactory/rlibfactory/pkg/context"
)

// WithContext scopes log to the run carried by ctx. Lines are prefixed with
// the crate from ctx, and debug lines also carry the run id, operation and
// elapsed time.
func WithContext(ctx context.Context, log Logger) Logger {
	if ctx == nil || log == nil {
		return log
	}
	if crate := pcontext.GetCrate(ctx); crate != "" {
		log = log.WithCrate(crate)
	}
	return &runLogger{Logger: log, ctx: ctx}
}

// runLogger adds tracing fields to debug output; info lines stay short
type runLogger struct {
	Logger
	ctx context.Context
}

func (r *runLogger) Debug(message string, fields ...Field) {
	r.Logger.Debug(message, append(traceFields(r.ctx), fields...)...)
}

func (r *runLogger) WithCrate(crate string) Logger {
	return &runLogger{Logger: r.Logger.WithCrate(crate), ctx: r.ctx}
}

func traceFields(ctx context.Context) []Field {
	var fields []Field
	if pcontext.HasRunID(ctx) {
		fields = append(fields, WithField("run_id", pcontext.GetRunID(ctx)))
	}
	if op := pcontext.GetOperation(ctx); op != pcontext.UnknownOperation {
		fields = append(fields, WithField("operation", op))
	}
	if elapsed := pcontext.GetDuration(ctx); elapsed > 0 {
		fields = append(fields, WithField("elapsed_ms", elapsed.Milliseconds()))
	}
	return fields
}
