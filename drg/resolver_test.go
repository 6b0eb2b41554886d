package drg

import (
	"context"
	"testing"
)

func TestNewResolver_Validation(t *testing.T) {
	if _, err := NewResolver(ResolverConfig{}); err == nil {
		t.Fatalf("expected error for nil pool")
	}
}

func TestResolve_EmptyPhrase(t *testing.T) {
	// The empty phrase short-circuits before any embedding or database work,
	// so a zero-value resolver is enough.
	r := &Resolver{}
	code, err := r.Resolve(context.Background(), "   ")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if code != "" {
		t.Fatalf("empty phrase resolved to %q", code)
	}
}

func TestSimilar_DegenerateArguments(t *testing.T) {
	r := &Resolver{}
	if out, err := r.Similar(context.Background(), "", 5); err != nil || out != nil {
		t.Fatalf("empty phrase: %v, %v", out, err)
	}
	if out, err := r.Similar(context.Background(), "hip replacement", 0); err != nil || out != nil {
		t.Fatalf("k=0: %v, %v", out, err)
	}
}
