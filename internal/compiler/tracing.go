package compiler

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vk/opforge/internal/ctxlog"
)

const tracerName = "github.com/vk/opforge/internal/compiler"

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// finish records err on span, if any, and ends it.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// step marks a pipeline boundary: it polls ctx, then logs and records the
// step on the current span.
func step(ctx context.Context, name string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	trace.SpanFromContext(ctx).AddEvent(name)
	ctxlog.FromContext(ctx).Debug("compiler: "+name, args...)
	return nil
}
