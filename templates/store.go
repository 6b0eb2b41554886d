package templates

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/carenav-org/querykit/embedder"
	"github.com/carenav-org/querykit/sqlnorm"
)

const catalogTable = "template_catalog"

type StoreConfig struct {
	Pool     *pgxpool.Pool
	Embedder embedder.Embedder
	Logger   *zap.Logger

	// SimilarityFloor is the cosine floor applied during Search.
	SimilarityFloor float64
	// DuplicateFloor is the cosine similarity above which Learn treats a
	// candidate as already present.
	DuplicateFloor float64
}

// Store serves nearest-neighbour retrieval over the catalog. Reads are safe
// for any number of goroutines; writes serialize on a single mutex around a
// transactional insert.
type Store struct {
	pool     *pgxpool.Pool
	embedder embedder.Embedder
	log      *zap.Logger

	similarityFloor float64
	duplicateFloor  float64

	writeMu sync.Mutex
}

func NewStore(cfg StoreConfig) (*Store, error) {
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
	floor := cfg.SimilarityFloor
	if floor <= 0 {
		floor = 0.6
	}
	dup := cfg.DuplicateFloor
	if dup <= 0 {
		dup = 0.95
	}
	return &Store{
		pool:            cfg.Pool,
		embedder:        cfg.Embedder,
		log:             log,
		similarityFloor: floor,
		duplicateFloor:  dup,
	}, nil
}

// Search returns up to k candidates at or above floor, sorted ascending by
// cosine distance. EditDistance and Confidence are left zero; BestMatch
// fills them in.
func (s *Store) Search(ctx context.Context, queryVec []float32, k int, floor float64) ([]Match, error) {
	if len(queryVec) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if k <= 0 {
		return nil, nil
	}

	q := fmt.Sprintf(`
		SELECT
			template_id,
			canonical_sql,
			raw_sql,
			COALESCE(comment, ''),
			created_at,
			updated_at,
			1 - (embedding <=> $1::vector) AS similarity
		FROM %s
		WHERE embedding IS NOT NULL
		  AND 1 - (embedding <=> $1::vector) >= $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3
	`, catalogTable)

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(queryVec), floor, k)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(
			&m.Template.ID,
			&m.Template.CanonicalSQL,
			&m.Template.RawSQL,
			&m.Template.Comment,
			&m.Template.CreatedAt,
			&m.Template.UpdatedAt,
			&m.Similarity,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// BestMatch retrieves the nearest candidates for queryVec, reranks them with
// the normalized Levenshtein distance between querySQL and each candidate's
// canonical form, and returns the winner iff its confidence clears floor.
//
// Ties on confidence prefer a placeholder count equal to bindableFields,
// then the lower (older) template id.
func (s *Store) BestMatch(ctx context.Context, queryVec []float32, querySQL string, floor float64, bindableFields int) (*Match, error) {
	candidates, err := s.Search(ctx, queryVec, 3, s.similarityFloor)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	queryLower := strings.ToLower(querySQL)
	for i := range candidates {
		c := &candidates[i]
		c.EditDistance = levenshtein.ComputeDistance(queryLower, strings.ToLower(c.Template.CanonicalSQL))
		c.Confidence = blendConfidence(c.Similarity, c.EditDistance, len(queryLower), len(c.Template.CanonicalSQL))
	}

	best := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		if better(&candidates[i], best, bindableFields) {
			best = &candidates[i]
		}
	}

	s.log.Debug("template best match",
		zap.Int64("template_id", best.Template.ID),
		zap.Float64("similarity", best.Similarity),
		zap.Int("edit_distance", best.EditDistance),
		zap.Float64("confidence", best.Confidence),
	)

	if best.Confidence < floor {
		return nil, nil
	}
	return best, nil
}

func blendConfidence(similarity float64, dist, lenA, lenB int) float64 {
	maxLen := lenA
	if lenB > maxLen {
		maxLen = lenB
	}
	editRatio := 0.0
	if maxLen > 0 {
		editRatio = 1 - float64(dist)/float64(maxLen)
	}
	conf := similarity*0.7 + editRatio*0.3
	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}

func better(a, b *Match, bindableFields int) bool {
	const eps = 1e-9
	if a.Confidence > b.Confidence+eps {
		return true
	}
	if a.Confidence < b.Confidence-eps {
		return false
	}
	aFit := PlaceholderCount(a.Template.RawSQL) == bindableFields
	bFit := PlaceholderCount(b.Template.RawSQL) == bindableFields
	if aFit != bFit {
		return aFit
	}
	return a.Template.ID < b.Template.ID
}

// Insert normalizes rawSQL, embeds the retrieval document, and appends the
// template inside a transaction. Writers serialize on the store mutex.
func (s *Store) Insert(ctx context.Context, rawSQL, comment string) (*Template, error) {
	rawSQL = strings.TrimSpace(rawSQL)
	if rawSQL == "" {
		return nil, fmt.Errorf("raw SQL is required")
	}

	norm := sqlnorm.Normalize(rawSQL)
	vec, err := s.embedder.Embed(ctx, retrievalDocument(norm.Canonical, comment))
	if err != nil {
		return nil, fmt.Errorf("embed template: %w", err)
	}
	return s.insertRow(ctx, norm.Canonical, rawSQL, comment, vec)
}

// insertRow appends one catalog row with its precomputed embedding.
func (s *Store) insertRow(ctx context.Context, canonicalSQL, rawSQL, comment string, vec []float32) (*Template, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := fmt.Sprintf(`
		INSERT INTO %s (canonical_sql, raw_sql, comment, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4::vector, now(), now())
		RETURNING template_id, created_at, updated_at
	`, catalogTable)

	tpl := Template{
		CanonicalSQL: canonicalSQL,
		RawSQL:       rawSQL,
		Comment:      comment,
	}
	if err := tx.QueryRow(ctx, q, canonicalSQL, rawSQL, comment, pgvector.NewVector(vec)).
		Scan(&tpl.ID, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info("template inserted",
		zap.Int64("template_id", tpl.ID),
		zap.String("comment", comment),
	)
	return &tpl, nil
}

// containsCanonical reports whether a row with exactly this canonical form
// already exists.
func (s *Store) containsCanonical(ctx context.Context, canonicalSQL string) (bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT template_id FROM %s WHERE canonical_sql = $1 LIMIT 1`, catalogTable),
		canonicalSQL,
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Learn appends the normalized form of executedSQL unless the catalog already
// covers it: first by exact canonical equality, then by cosine similarity at
// the duplicate floor. The duplicate check embeds the same retrieval document
// the insert stores, so both sides of the comparison use one document form.
// Returns the inserted template, or nil when nothing was added.
func (s *Store) Learn(ctx context.Context, question, executedSQL string) (*Template, error) {
	norm := sqlnorm.Normalize(executedSQL)

	exists, err := s.containsCanonical(ctx, norm.Canonical)
	if err != nil {
		return nil, err
	}
	if exists {
		s.log.Debug("learned query already in catalog",
			zap.String("canonical_sql", truncate(norm.Canonical, 80)),
		)
		return nil, nil
	}

	comment := learnComment(question)
	vec, err := s.embedder.Embed(ctx, retrievalDocument(norm.Canonical, comment))
	if err != nil {
		return nil, fmt.Errorf("embed learned query: %w", err)
	}
	existing, err := s.Search(ctx, vec, 1, s.duplicateFloor)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		s.log.Debug("learned query already covered",
			zap.Int64("template_id", existing[0].Template.ID),
			zap.Float64("similarity", existing[0].Similarity),
		)
		return nil, nil
	}

	return s.insertRow(ctx, norm.Canonical, parameterizedRaw(executedSQL, norm), comment, vec)
}

// learnComment is the auto-generated description for a learned template.
func learnComment(question string) string {
	return "Auto-generated from question: " + truncate(question, 100)
}

// SuggestByQuestion returns RAG exemplars: the templates whose retrieval
// documents sit nearest the natural-language question.
func (s *Store) SuggestByQuestion(ctx context.Context, question string, k int) ([]Match, error) {
	vec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	q := fmt.Sprintf(`
		SELECT
			template_id,
			canonical_sql,
			raw_sql,
			COALESCE(comment, ''),
			created_at,
			updated_at,
			1 - (embedding <=> $1::vector) AS similarity
		FROM %s
		WHERE embedding IS NOT NULL
		  AND COALESCE(comment, '') <> ''
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, catalogTable)

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("suggestion search: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(
			&m.Template.ID,
			&m.Template.CanonicalSQL,
			&m.Template.RawSQL,
			&m.Template.Comment,
			&m.Template.CreatedAt,
			&m.Template.UpdatedAt,
			&m.Similarity,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Stats reports catalog size for operational visibility.
type Stats struct {
	TotalTemplates int64
	WithEmbeddings int64
	AvgSQLLength   float64
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	q := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(embedding),
			COALESCE(AVG(LENGTH(canonical_sql)), 0)
		FROM %s
	`, catalogTable)

	var st Stats
	if err := s.pool.QueryRow(ctx, q).Scan(&st.TotalTemplates, &st.WithEmbeddings, &st.AvgSQLLength); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// retrievalDocument mixes the comment into the embedded text so NL questions
// land near the templates that answer them.
func retrievalDocument(canonicalSQL, comment string) string {
	if strings.TrimSpace(comment) == "" {
		return canonicalSQL
	}
	return canonicalSQL + "\n" + comment
}

// parameterizedRaw prefers the placeholder form of a learned query when the
// executed SQL carried literal constants. When the executed SQL was already
// fully parameterized the original text is kept.
func parameterizedRaw(executedSQL string, norm sqlnorm.Result) string {
	if len(norm.Constants) == 0 {
		return strings.TrimSpace(executedSQL)
	}
	return norm.Canonical
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
