package embedder

import "context"

// Embedder produces fixed-dimension dense vectors whose cosine similarity is
// meaningful across the corpus (SQL text, template comments, DRG descriptions).
type Embedder interface {
	Model() string
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
}
