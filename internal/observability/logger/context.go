package logger

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type ctxKey struct{}

// WithRequestID stores the request correlation id on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestID returns the correlation id, if any.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}

// FromContext returns the process logger decorated with the request id when
// one is present.
func FromContext(ctx context.Context) *zap.Logger {
	log := zap.L()
	if requestID := RequestID(ctx); requestID != "" {
		log = log.With(zap.String("request_id", requestID))
	}
	return log
}
