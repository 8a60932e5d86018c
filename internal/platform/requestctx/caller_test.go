package requestctx

import (
	"context"
	"testing"
)

func TestCallerFromContextRoundTrip(t *testing.T) {
	ctx := WithCaller(context.Background(), "settlement-policy")
	if got := CallerFromContext(ctx); got != "settlement-policy" {
		t.Fatalf("CallerFromContext = %q, want %q", got, "settlement-policy")
	}
}

func TestCallerFromContextEmpty(t *testing.T) {
	if got := CallerFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestCallerFromContextNil(t *testing.T) {
	if got := CallerFromContext(nil); got != "" {
		t.Fatalf("expected empty string for nil context, got %q", got)
	}
}

func TestWithCallerNilContext(t *testing.T) {
	ctx := WithCaller(nil, "ops-oncall")
	if ctx == nil {
		t.Fatalf("expected non-nil context")
	}
	if got := CallerFromContext(ctx); got != "ops-oncall" {
		t.Fatalf("CallerFromContext = %q, want %q", got, "ops-oncall")
	}
}
