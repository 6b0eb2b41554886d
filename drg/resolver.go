// Package drg maps free-text procedure phrases ("hip replacement") to DRG
// codes using vector search over procedure descriptions, with a trigram
// fallback when the embedder is unavailable.
package drg

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/carenav-org/querykit/embedder"
)

// Candidate is one scored DRG suggestion.
type Candidate struct {
	Code        string
	Description string
	Score       float64
}

type ResolverConfig struct {
	Pool     *pgxpool.Pool
	Embedder embedder.Embedder
	Logger   *zap.Logger

	// SimilarityFloor is the cosine floor for accepting a vector match.
	SimilarityFloor float64
	// TrigramFloor is the pg_trgm similarity floor for the fallback path.
	TrigramFloor float64
}

type Resolver struct {
	pool     *pgxpool.Pool
	embedder embedder.Embedder
	log      *zap.Logger

	similarityFloor float64
	trigramFloor    float64
}

func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	simFloor := cfg.SimilarityFloor
	if simFloor <= 0 {
		simFloor = 0.5
	}
	triFloor := cfg.TrigramFloor
	if triFloor <= 0 {
		triFloor = 0.3
	}
	return &Resolver{
		pool:            cfg.Pool,
		embedder:        cfg.Embedder,
		log:             log,
		similarityFloor: simFloor,
		trigramFloor:    triFloor,
	}, nil
}

// Resolve returns the best DRG code for phrase, or "" when nothing clears
// the floors. Embedding failures degrade to trigram search instead of
// failing the request.
func (r *Resolver) Resolve(ctx context.Context, phrase string) (string, error) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return "", nil
	}

	vec, err := r.embedder.Embed(ctx, phrase)
	if err != nil {
		r.log.Warn("drg embedding failed, falling back to trigram",
			zap.String("phrase", phrase),
			zap.Error(err),
		)
		return r.resolveTrigram(ctx, phrase)
	}

	candidates, err := r.searchVector(ctx, vec, 1)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 || candidates[0].Score < r.similarityFloor {
		r.log.Debug("no confident drg match", zap.String("phrase", phrase))
		return "", nil
	}

	r.log.Debug("drg resolved",
		zap.String("phrase", phrase),
		zap.String("drg_code", candidates[0].Code),
		zap.Float64("score", candidates[0].Score),
	)
	return candidates[0].Code, nil
}

// Similar returns the k nearest DRGs for phrase with their scores, for
// debugging and disambiguation UX.
func (r *Resolver) Similar(ctx context.Context, phrase string, k int) ([]Candidate, error) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" || k <= 0 {
		return nil, nil
	}
	vec, err := r.embedder.Embed(ctx, phrase)
	if err != nil {
		return nil, fmt.Errorf("embed phrase: %w", err)
	}
	return r.searchVector(ctx, vec, k)
}

func (r *Resolver) searchVector(ctx context.Context, vec []float32, k int) ([]Candidate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			drg_code,
			drg_description,
			1 - (embedding <=> $1::vector) AS similarity
		FROM drg_procedures
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("drg vector search: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.Code, &c.Description, &c.Score); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// resolveTrigram is the pg_trgm path: substring match ranked by similarity().
func (r *Resolver) resolveTrigram(ctx context.Context, phrase string) (string, error) {
	var code string
	err := r.pool.QueryRow(ctx, `
		SELECT drg_code
		FROM drg_procedures
		WHERE drg_description ILIKE '%' || $1 || '%'
		  AND similarity(drg_description, $1) >= $2
		ORDER BY similarity(drg_description, $1) DESC
		LIMIT 1
	`, phrase, r.trigramFloor).Scan(&code)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("drg trigram search: %w", err)
	}
	return code, nil
}

// Description returns the stored description for a DRG code, or "".
func (r *Resolver) Description(ctx context.Context, code string) (string, error) {
	var desc string
	err := r.pool.QueryRow(ctx,
		`SELECT drg_description FROM drg_procedures WHERE drg_code = $1`, code,
	).Scan(&desc)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return desc, nil
}
