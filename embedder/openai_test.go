package embedder

import (
	"context"
	"math"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

func TestNewOpenAI_Validation(t *testing.T) {
	client := openai.NewClient("test-key")

	if _, err := NewOpenAI(OpenAIConfig{Model: "m", Dimensions: 4}); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := NewOpenAI(OpenAIConfig{Client: client, Dimensions: 4}); err == nil {
		t.Fatalf("expected error for empty model")
	}
	if _, err := NewOpenAI(OpenAIConfig{Client: client, Model: "m"}); err == nil {
		t.Fatalf("expected error for zero dimensions")
	}

	e, err := NewOpenAI(OpenAIConfig{Client: client, Model: "m", Dimensions: 4})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if e.Model() != "m" || e.Dimensions() != 4 {
		t.Fatalf("accessors: %q, %d", e.Model(), e.Dimensions())
	}
	if e.timeout != 5*time.Second {
		t.Fatalf("default timeout = %v", e.timeout)
	}
}

func TestEmbed_EmptyText(t *testing.T) {
	e, err := NewOpenAI(OpenAIConfig{Client: openai.NewClient("test-key"), Model: "m", Dimensions: 4})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := e.Embed(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for empty text")
	}
}

func TestL2NormalizeInPlace(t *testing.T) {
	vec := []float32{3, 4}
	l2NormalizeInPlace(vec)
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if math.Abs(sumSq-1.0) > 1e-6 {
		t.Fatalf("norm^2 = %v, want 1", sumSq)
	}
	if math.Abs(float64(vec[0])-0.6) > 1e-6 || math.Abs(float64(vec[1])-0.8) > 1e-6 {
		t.Fatalf("vec = %v, want [0.6 0.8]", vec)
	}

	zero := []float32{0, 0, 0}
	l2NormalizeInPlace(zero)
	for _, v := range zero {
		if v != 0 {
			t.Fatalf("zero vector changed: %v", zero)
		}
	}
}
