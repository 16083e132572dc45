package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyRequestID     contextKey = "request_id"
	keySchemaVersion contextKey = "schema_version"
)

// WithRequestID adds the inbound request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID extracts the inbound request ID from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}

// WithSchemaVersion records the schema version a request is planned against.
func WithSchemaVersion(ctx context.Context, version uint64) context.Context {
	return context.WithValue(ctx, keySchemaVersion, version)
}

// SchemaVersion extracts the schema version from context.
func SchemaVersion(ctx context.Context) (uint64, bool) {
	v, ok := ctx.Value(keySchemaVersion).(uint64)
	return v, ok && v != 0
}
