//go:build integration

package templates

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// hashEmbedder maps text deterministically to a unit vector so the catalog
// laws can be exercised against a real pgvector database without an upstream
// embedding service.
type hashEmbedder struct{ dim int }

func (h hashEmbedder) Model() string   { return "hash-test" }
func (h hashEmbedder) Dimensions() int { return h.dim }

func (h hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	seed := fnv.New64a()
	_, _ = seed.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(seed.Sum64())))

	vec := make([]float32, h.dim)
	var sumSq float64
	for i := range vec {
		vec[i] = float32(rng.NormFloat64())
		sumSq += float64(vec[i]) * float64(vec[i])
	}
	inv := float32(1 / math.Sqrt(sumSq))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

func newIntegrationStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	store, err := NewStore(StoreConfig{Pool: pool, Embedder: hashEmbedder{dim: 1536}})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := pool.Exec(context.Background(), "DELETE FROM template_catalog"); err != nil {
		t.Fatalf("clear catalog: %v", err)
	}
	return store, pool
}

func TestStore_InsertThenRetrieve(t *testing.T) {
	store, _ := newIntegrationStore(t)
	ctx := context.Background()

	// Empty comment: the stored vector is the embedding of the canonical
	// form alone, so querying with that form must come back at cosine
	// similarity 1.0 within float tolerance.
	tpl, err := store.Insert(ctx, `SELECT provider_name FROM providers WHERE provider_state = $1 LIMIT $2`, "")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	vec, err := store.embedder.Embed(ctx, tpl.CanonicalSQL)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	matches, err := store.Search(ctx, vec, 1, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 || matches[0].Template.ID != tpl.ID {
		t.Fatalf("matches = %+v, want template %d", matches, tpl.ID)
	}
	if matches[0].Similarity < 0.999 {
		t.Fatalf("similarity = %v, want ~1.0", matches[0].Similarity)
	}
}

func TestStore_LearnIdempotent(t *testing.T) {
	store, pool := newIntegrationStore(t)
	ctx := context.Background()

	question := "cheapest hip replacement in NY"
	executed := `SELECT provider_name FROM providers WHERE provider_state = 'NY' LIMIT 10`

	first, err := store.Learn(ctx, question, executed)
	if err != nil {
		t.Fatalf("first learn: %v", err)
	}
	if first == nil {
		t.Fatalf("first learn inserted nothing")
	}

	second, err := store.Learn(ctx, question, executed)
	if err != nil {
		t.Fatalf("second learn: %v", err)
	}
	if second != nil {
		t.Fatalf("second learn re-inserted as template %d", second.ID)
	}

	var n int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM template_catalog").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("catalog rows = %d, want 1", n)
	}
}
