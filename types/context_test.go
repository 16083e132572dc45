package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ctx = WithRequestID(ctx, "req-1")
	if got, ok := RequestID(ctx); !ok || got != "req-1" {
		t.Fatalf("RequestID mismatch: %v %v", got, ok)
	}

	ctx = WithSchemaVersion(ctx, 7)
	if got, ok := SchemaVersion(ctx); !ok || got != 7 {
		t.Fatalf("SchemaVersion mismatch: %v %v", got, ok)
	}
}

func TestContextHelpers_Empty(t *testing.T) {
	t.Parallel()

	ctx := WithRequestID(context.Background(), "")
	if _, ok := RequestID(ctx); ok {
		t.Fatalf("empty request id should report missing")
	}
	if _, ok := SchemaVersion(context.Background()); ok {
		t.Fatalf("schema version should be missing")
	}
}
