package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	s := Defaults()
	if s.ConfidenceThreshold != 0.7 {
		t.Fatalf("confidence threshold = %v", s.ConfidenceThreshold)
	}
	if s.SimilarityFloor != 0.6 || s.DRGSimilarityFloor != 0.5 {
		t.Fatalf("floors = %v, %v", s.SimilarityFloor, s.DRGSimilarityFloor)
	}
	if s.MaxRows != 1000 || s.DefaultLimit != 20 {
		t.Fatalf("rows = %d, limit = %d", s.MaxRows, s.DefaultLimit)
	}
	if s.RequestTimeout != 30*time.Second {
		t.Fatalf("request timeout = %v", s.RequestTimeout)
	}
	if !s.EnableTemplateLearning {
		t.Fatalf("learning disabled by default")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/costs")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("CHAT_MODEL", "gpt-4o-mini")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.8")
	t.Setenv("MAX_ROWS", "500")
	t.Setenv("REQUEST_TIMEOUT_MS", "15000")
	t.Setenv("ENABLE_TEMPLATE_LEARNING", "false")
	t.Setenv("LOG_LEVEL", "DEBUG")

	s, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if s.ChatModel != "gpt-4o-mini" {
		t.Fatalf("chat model = %q", s.ChatModel)
	}
	if s.ConfidenceThreshold != 0.8 || s.MaxRows != 500 {
		t.Fatalf("overrides lost: %+v", s)
	}
	if s.RequestTimeout != 15*time.Second {
		t.Fatalf("request timeout = %v", s.RequestTimeout)
	}
	if s.EnableTemplateLearning {
		t.Fatalf("learning should be off")
	}
	if s.LogLevel != "debug" {
		t.Fatalf("log level = %q", s.LogLevel)
	}
}

func TestFromEnv_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LLM_API_KEY", "")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error without required settings")
	}
}

func TestFromEnv_BadNumber(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/costs")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("MAX_ROWS", "lots")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for non-numeric MAX_ROWS")
	}
}

func TestValidate(t *testing.T) {
	s := Defaults()
	s.DatabaseURL = "postgres://localhost/costs"
	s.LLMAPIKey = "sk-test"
	if err := s.Validate(); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}

	bad := s
	bad.DefaultLimit = bad.MaxRows + 1
	if err := bad.Validate(); err == nil {
		t.Fatalf("DEFAULT_LIMIT above MAX_ROWS accepted")
	}

	bad = s
	bad.EmbedDim = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("zero embedding dimension accepted")
	}
}
