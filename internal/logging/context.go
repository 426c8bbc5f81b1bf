package logging

import (
	"context"

	"go.uber.org/zap"
)

// Context key types
type apvCtxKey struct{}
type cveCtxKey struct{}
type requestCtxKey struct{}

// WithAPVID adds the APV identifier to context.
func WithAPVID(ctx context.Context, apvID string) context.Context {
	return context.WithValue(ctx, apvCtxKey{}, apvID)
}

// APVIDFromContext extracts the APV identifier, or "".
func APVIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(apvCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// WithCVEID adds the CVE identifier to context.
func WithCVEID(ctx context.Context, cveID string) context.Context {
	return context.WithValue(ctx, cveCtxKey{}, cveID)
}

// CVEIDFromContext extracts the CVE identifier, or "".
func CVEIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(cveCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRequestID adds a request identifier to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request identifier, or "".
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// ContextFields extracts correlation fields from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if id := APVIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("apv_id", id))
	}
	if id := CVEIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("cve_id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	return fields
}
