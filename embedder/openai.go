package embedder

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/carenav-org/querykit/internal/retry"
)

type OpenAIConfig struct {
	Client     *openai.Client
	Model      string // e.g. text-embedding-3-small
	Dimensions int    // declared dimension; provider output must match
	Timeout    time.Duration
	CacheSize  int // 0 disables the per-process cache
}

// OpenAIEmbedder wraps an OpenAI-compatible embeddings endpoint. Vectors are
// L2-normalized so cosine distance in Postgres is stable.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	timeout    time.Duration

	mu        sync.Mutex
	cache     map[string][]float32
	cacheSize int
}

var _ Embedder = (*OpenAIEmbedder)(nil)

func NewOpenAI(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be > 0")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	e := &OpenAIEmbedder{
		client:     cfg.Client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		timeout:    timeout,
		cacheSize:  cfg.CacheSize,
	}
	if cfg.CacheSize > 0 {
		e.cache = make(map[string][]float32, cfg.CacheSize)
	}
	return e, nil
}

func (e *OpenAIEmbedder) Model() string   { return e.model }
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text is empty")
	}

	key := e.model + "\x00" + text
	if e.cache != nil {
		e.mu.Lock()
		vec, ok := e.cache[key]
		e.mu.Unlock()
		if ok {
			return vec, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var out []float32
	err := retry.Do(ctx, 3, 200*time.Millisecond, 2*time.Second, func(ctx context.Context) error {
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      []string{text},
			Model:      openai.EmbeddingModel(e.model),
			Dimensions: e.dimensions,
		})
		if err != nil {
			return err
		}
		if len(resp.Data) != 1 {
			return fmt.Errorf("expected 1 embedding, got %d", len(resp.Data))
		}
		vec := make([]float32, len(resp.Data[0].Embedding))
		copy(vec, resp.Data[0].Embedding)
		if len(vec) != e.dimensions {
			return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vec), e.dimensions)
		}
		l2NormalizeInPlace(vec)
		out = vec
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		e.mu.Lock()
		if len(e.cache) >= e.cacheSize {
			// Full cache: drop everything rather than track recency.
			e.cache = make(map[string][]float32, e.cacheSize)
		}
		e.cache[key] = out
		e.mu.Unlock()
	}
	return out, nil
}

// l2NormalizeInPlace normalizes vec to unit L2 norm. Empty or all-zero
// vectors are left unchanged.
func l2NormalizeInPlace(vec []float32) {
	var sumSq float64
	for _, v := range vec {
		f := float64(v)
		sumSq += f * f
	}
	if sumSq <= 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSq))
	for i := range vec {
		vec[i] *= inv
	}
}
