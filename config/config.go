package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings holds every knob the engine reads. Values come from the
// environment; zero-config defaults match the seed deployment.
type Settings struct {
	DatabaseURL string
	LLMAPIKey   string
	ChatModel   string
	EmbedModel  string
	EmbedDim    int

	ConfidenceThreshold float64
	SimilarityFloor     float64
	DRGSimilarityFloor  float64

	MaxRows      int
	DefaultLimit int

	RequestTimeout time.Duration
	EmbedTimeout   time.Duration
	SearchTimeout  time.Duration
	LLMTimeout     time.Duration
	DBTimeout      time.Duration

	MaxComplexity int
	MaxJoins      int
	MaxSubqueries int

	EnableTemplateLearning bool

	LogLevel string
}

func Defaults() Settings {
	return Settings{
		ChatModel:  "gpt-4o",
		EmbedModel: "text-embedding-3-small",
		EmbedDim:   1536,

		ConfidenceThreshold: 0.7,
		SimilarityFloor:     0.6,
		DRGSimilarityFloor:  0.5,

		MaxRows:      1000,
		DefaultLimit: 20,

		RequestTimeout: 30 * time.Second,
		EmbedTimeout:   5 * time.Second,
		SearchTimeout:  500 * time.Millisecond,
		LLMTimeout:     10 * time.Second,
		DBTimeout:      5 * time.Second,

		MaxComplexity: 50,
		MaxJoins:      5,
		MaxSubqueries: 3,

		EnableTemplateLearning: true,

		LogLevel: "info",
	}
}

// FromEnv builds Settings from the environment on top of Defaults.
func FromEnv() (Settings, error) {
	s := Defaults()

	s.DatabaseURL = os.Getenv("DATABASE_URL")
	s.LLMAPIKey = os.Getenv("LLM_API_KEY")

	if v := os.Getenv("CHAT_MODEL"); v != "" {
		s.ChatModel = v
	}
	if v := os.Getenv("EMBED_MODEL"); v != "" {
		s.EmbedModel = v
	}

	var err error
	if s.EmbedDim, err = envInt("EMBED_DIM", s.EmbedDim); err != nil {
		return s, err
	}
	if s.ConfidenceThreshold, err = envFloat("CONFIDENCE_THRESHOLD", s.ConfidenceThreshold); err != nil {
		return s, err
	}
	if s.SimilarityFloor, err = envFloat("SIMILARITY_FLOOR", s.SimilarityFloor); err != nil {
		return s, err
	}
	if s.DRGSimilarityFloor, err = envFloat("DRG_SIMILARITY_FLOOR", s.DRGSimilarityFloor); err != nil {
		return s, err
	}
	if s.MaxRows, err = envInt("MAX_ROWS", s.MaxRows); err != nil {
		return s, err
	}
	if s.DefaultLimit, err = envInt("DEFAULT_LIMIT", s.DefaultLimit); err != nil {
		return s, err
	}
	if s.MaxComplexity, err = envInt("MAX_COMPLEXITY", s.MaxComplexity); err != nil {
		return s, err
	}
	if s.MaxJoins, err = envInt("MAX_JOINS", s.MaxJoins); err != nil {
		return s, err
	}
	if s.MaxSubqueries, err = envInt("MAX_SUBQUERIES", s.MaxSubqueries); err != nil {
		return s, err
	}

	ms, err := envInt("REQUEST_TIMEOUT_MS", int(s.RequestTimeout/time.Millisecond))
	if err != nil {
		return s, err
	}
	s.RequestTimeout = time.Duration(ms) * time.Millisecond

	if v := os.Getenv("ENABLE_TEMPLATE_LEARNING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return s, fmt.Errorf("ENABLE_TEMPLATE_LEARNING: %w", err)
		}
		s.EnableTemplateLearning = b
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		s.LogLevel = strings.ToLower(v)
	}

	return s, s.Validate()
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.LLMAPIKey) == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if strings.TrimSpace(s.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if s.EmbedDim <= 0 {
		return fmt.Errorf("embedding dimension must be > 0")
	}
	if s.MaxRows <= 0 {
		return fmt.Errorf("MAX_ROWS must be > 0")
	}
	if s.DefaultLimit <= 0 || s.DefaultLimit > s.MaxRows {
		return fmt.Errorf("DEFAULT_LIMIT must be in 1..MAX_ROWS")
	}
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be > 0")
	}
	return nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
