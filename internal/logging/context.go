package logging

import (
	"context"
	"log/slog"
)

type ctxKey string

// Correlation keys, in the order they are attached to records. The key is
// also the attribute name.
const (
	keyTool       ctxKey = "tool"
	keyWorkflowID ctxKey = "workflow_id"
	keyPhaseID    ctxKey = "phase_id"
)

var correlationKeys = []ctxKey{keyTool, keyWorkflowID, keyPhaseID}

// WithTool tags ctx with the MCP tool serving the request.
func WithTool(ctx context.Context, name string) context.Context {
	return with(ctx, keyTool, name)
}

// WithWorkflowID tags ctx with the workflow being read or edited.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return with(ctx, keyWorkflowID, id)
}

// WithPhaseID tags ctx with the phase a loop condition is evaluated for.
func WithPhaseID(ctx context.Context, id string) context.Context {
	return with(ctx, keyPhaseID, id)
}

// An empty value leaves ctx untouched so an outer tag is not masked.
func with(ctx context.Context, key ctxKey, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

// Attrs returns the correlation attributes carried by ctx.
func Attrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, k := range correlationKeys {
		if v, _ := ctx.Value(k).(string); v != "" {
			attrs = append(attrs, slog.String(string(k), v))
		}
	}
	return attrs
}

// LogWith binds the correlation attributes of ctx to logger, for code that
// logs without a context, like the graph builder.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	attrs := Attrs(ctx)
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return logger.With(args...)
}

// CorrelationHandler adds the correlation attributes of the record's
// context, so logger.InfoContext(ctx, ...) is enough at call sites.
type CorrelationHandler struct {
	inner slog.Handler
}

func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		r.AddAttrs(Attrs(ctx)...)
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
