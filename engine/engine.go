// Package engine orchestrates the question→SQL→rows pipeline: intent
// extraction, template retrieval and binding, safety validation, execution,
// RAG fallback, and result explanation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/carenav-org/querykit/binder"
	"github.com/carenav-org/querykit/config"
	"github.com/carenav-org/querykit/drg"
	"github.com/carenav-org/querykit/embedder"
	"github.com/carenav-org/querykit/executor"
	"github.com/carenav-org/querykit/intent"
	"github.com/carenav-org/querykit/internal/retry"
	"github.com/carenav-org/querykit/safety"
	"github.com/carenav-org/querykit/sqlnorm"
	"github.com/carenav-org/querykit/templates"
)

// maxFallbackAttempts bounds the RAG generate-validate-execute loop.
const maxFallbackAttempts = 3

// Response is the public answer shape. On failure Answer carries a user-safe
// string and SQL is always empty.
type Response struct {
	Success    bool             `json:"success"`
	Answer     string           `json:"answer"`
	SQL        string           `json:"sql,omitempty"`
	Rows       []map[string]any `json:"rows,omitempty"`
	TemplateID int64            `json:"template_id,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
	ElapsedMs  int64            `json:"elapsed_ms"`
}

type Config struct {
	Settings config.Settings
	Pool     *pgxpool.Pool
	Client   *openai.Client
	Embedder embedder.Embedder
	Logger   *zap.Logger
}

// Engine wires the pipeline components. Safe for concurrent Ask calls.
type Engine struct {
	settings config.Settings
	client   *openai.Client
	embedder embedder.Embedder
	log      *zap.Logger

	extractor *intent.Extractor
	resolver  *drg.Resolver
	store     *templates.Store
	binder    *binder.Binder
	validator *safety.Validator
	executor  *executor.Executor

	chatModel  string
	llmTimeout time.Duration
}

func New(cfg Config) (*Engine, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("openai client is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	st := cfg.Settings

	extractor, err := intent.NewExtractor(intent.ExtractorConfig{
		Client:       cfg.Client,
		Logger:       log,
		Model:        st.ChatModel,
		Timeout:      st.LLMTimeout,
		MaxRows:      st.MaxRows,
		DefaultLimit: st.DefaultLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("intent extractor: %w", err)
	}
	resolver, err := drg.NewResolver(drg.ResolverConfig{
		Pool:            cfg.Pool,
		Embedder:        cfg.Embedder,
		Logger:          log,
		SimilarityFloor: st.DRGSimilarityFloor,
	})
	if err != nil {
		return nil, fmt.Errorf("drg resolver: %w", err)
	}
	store, err := templates.NewStore(templates.StoreConfig{
		Pool:            cfg.Pool,
		Embedder:        cfg.Embedder,
		Logger:          log,
		SimilarityFloor: st.SimilarityFloor,
	})
	if err != nil {
		return nil, fmt.Errorf("template store: %w", err)
	}
	bnd, err := binder.New(binder.Config{
		Resolver:     resolver,
		Logger:       log,
		DefaultLimit: st.DefaultLimit,
		MaxRows:      st.MaxRows,
	})
	if err != nil {
		return nil, fmt.Errorf("binder: %w", err)
	}
	exec, err := executor.New(executor.Config{
		Pool:    cfg.Pool,
		Logger:  log,
		MaxRows: st.MaxRows,
		Timeout: st.DBTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}

	validator := safety.New(safety.Config{
		MaxJoins:      st.MaxJoins,
		MaxSubqueries: st.MaxSubqueries,
		MaxRows:       st.MaxRows,
		MaxComplexity: st.MaxComplexity,
	})

	return &Engine{
		settings:   st,
		client:     cfg.Client,
		embedder:   cfg.Embedder,
		log:        log,
		extractor:  extractor,
		resolver:   resolver,
		store:      store,
		binder:     bnd,
		validator:  validator,
		executor:   exec,
		chatModel:  st.ChatModel,
		llmTimeout: st.LLMTimeout,
	}, nil
}

// Store exposes the template catalog for seeding and stats.
func (e *Engine) Store() *templates.Store { return e.store }

// Resolver exposes the DRG lookup for debug surfaces.
func (e *Engine) Resolver() *drg.Resolver { return e.resolver }

// Ask runs the full pipeline for one question. It always returns a Response;
// failures carry a user-safe answer and never a SQL body.
func (e *Engine) Ask(ctx context.Context, question string) Response {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.settings.RequestTimeout)
	defer cancel()

	resp, err := e.ask(ctx, question, start)
	if err != nil {
		e.log.Info("request failed",
			zap.String("question", question),
			zap.Error(err),
		)
		return Response{
			Success:   false,
			Answer:    safeMessage(err),
			ElapsedMs: time.Since(start).Milliseconds(),
		}
	}
	resp.ElapsedMs = time.Since(start).Milliseconds()
	return resp
}

func (e *Engine) ask(ctx context.Context, question string, start time.Time) (Response, error) {
	question = strings.TrimSpace(question)
	if question == "" || len(question) > 1000 {
		return Response{}, ErrInputInvalid
	}

	// Intent extraction and the hint-SQL draft are independent upstream
	// calls; run them together and join before retrieval. Rate limiting
	// converts to Busy once half the request budget is gone.
	fanCtx, fanCancel := context.WithDeadline(ctx, start.Add(e.settings.RequestTimeout/2))
	defer fanCancel()

	var (
		in      intent.Intent
		hintSQL string
	)
	g, gctx := errgroup.WithContext(fanCtx)
	g.Go(func() error {
		in = e.extractor.Extract(gctx, question)
		return nil
	})
	g.Go(func() error {
		hintSQL = e.draftHintSQL(gctx, question)
		return nil
	})
	_ = g.Wait()

	hint := sqlnorm.Normalize(hintSQL)
	querySQL := hint.Canonical
	embedText := querySQL
	if hintSQL == "" {
		embedText = question
	}

	embedCtx, embedCancel := context.WithTimeout(ctx, e.settings.EmbedTimeout)
	queryVec, err := e.embedder.Embed(embedCtx, embedText)
	embedCancel()
	if err != nil {
		if retry.IsRateLimit(err) {
			return Response{}, fmt.Errorf("%w: %v", ErrBusy, err)
		}
		return Response{}, fmt.Errorf("%w: embed query: %v", ErrUpstreamUnavailable, err)
	}

	searchCtx, searchCancel := context.WithTimeout(ctx, e.settings.SearchTimeout)
	match, err := e.store.BestMatch(searchCtx, queryVec, querySQL, e.settings.ConfidenceThreshold, in.BindableFields())
	searchCancel()
	if err != nil {
		e.log.Warn("template retrieval failed", zap.Error(err))
		match = nil
	}

	if match != nil {
		resp, err := e.runTemplate(ctx, question, *match, in)
		if err == nil {
			return resp, nil
		}
		e.log.Debug("template path failed, falling back",
			zap.Int64("template_id", match.Template.ID),
			zap.Error(err),
		)
	}

	return e.runFallback(ctx, question, in)
}

// runTemplate binds, validates, and executes a matched catalog template.
func (e *Engine) runTemplate(ctx context.Context, question string, match templates.Match, in intent.Intent) (Response, error) {
	sql, err := e.binder.Bind(ctx, match.Template, in)
	if err != nil {
		if errors.Is(err, binder.ErrTemplateNotApplicable) {
			return Response{}, fmt.Errorf("%w: %v", ErrTemplateNotApplicable, err)
		}
		return Response{}, fmt.Errorf("%w: bind: %v", ErrInternal, err)
	}

	report := e.validator.Validate(sql)
	if !report.Safe {
		return Response{}, fmt.Errorf("%w: score %.2f", ErrUnsafeSQL, report.Score)
	}

	rows, err := e.executor.Execute(ctx, sql)
	if err != nil {
		if retry.IsRetryableDB(err) {
			if rows, err = e.executor.Execute(ctx, sql); err == nil {
				return e.finish(ctx, question, sql, rows, match.Template.ID, match.Confidence, false), nil
			}
		}
		return Response{}, fmt.Errorf("%w: %v", ErrExecutionError, err)
	}

	return e.finish(ctx, question, sql, rows, match.Template.ID, match.Confidence, false), nil
}

// runFallback is the RAG loop: generate, validate, execute, up to
// maxFallbackAttempts candidates with the rejection fed back each round.
func (e *Engine) runFallback(ctx context.Context, question string, in intent.Intent) (Response, error) {
	exemplars, err := e.store.SuggestByQuestion(ctx, question, 3)
	if err != nil {
		e.log.Warn("exemplar retrieval failed", zap.Error(err))
	}

	var lastErr error
	prevErr := ""
	for attempt := 1; attempt <= maxFallbackAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}

		sql, err := e.generateSQL(ctx, question, exemplars, prevErr)
		if err != nil {
			if retry.IsRateLimit(err) {
				return Response{}, fmt.Errorf("%w: %v", ErrBusy, err)
			}
			lastErr = err
			prevErr = "the model produced no usable SQL"
			continue
		}

		report := e.validator.Validate(sql)
		if !report.Safe {
			lastErr = fmt.Errorf("%w: attempt %d score %.2f", ErrUnsafeSQL, attempt, report.Score)
			prevErr = validatorFeedback(report)
			continue
		}

		rows, err := e.executor.Execute(ctx, sql)
		if err != nil {
			lastErr = fmt.Errorf("%w: attempt %d: %v", ErrExecutionError, attempt, err)
			prevErr = "the database rejected the query: " + err.Error()
			continue
		}

		e.maybeLearn(question, sql)
		return e.finish(ctx, question, sql, rows, 0, 0, true), nil
	}

	if lastErr == nil {
		lastErr = ErrRetrievalMiss
	}
	return Response{}, lastErr
}

// finish builds the success response, attaching the explanation.
func (e *Engine) finish(ctx context.Context, question, sql string, rows []map[string]any, templateID int64, confidence float64, learned bool) Response {
	answer := e.explain(ctx, question, sql, rows)
	e.log.Info("request answered",
		zap.Int64("template_id", templateID),
		zap.Float64("confidence", confidence),
		zap.Int("rows", len(rows)),
		zap.Bool("generated", learned),
	)
	return Response{
		Success:    true,
		Answer:     answer,
		SQL:        sql,
		Rows:       rows,
		TemplateID: templateID,
		Confidence: confidence,
	}
}

// maybeLearn inserts the executed query into the catalog off the request
// path. The insert is transactional, so a failure leaves no partial row.
func (e *Engine) maybeLearn(question, sql string) {
	if !e.settings.EnableTemplateLearning {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := e.store.Learn(ctx, question, sql); err != nil {
			e.log.Warn("template learning failed", zap.Error(err))
		}
	}()
}

// validatorFeedback condenses a rejection into one retry hint.
func validatorFeedback(report safety.Report) string {
	if len(report.Issues) == 0 {
		return "the query failed the safety policy"
	}
	msgs := make([]string, 0, len(report.Issues))
	for _, issue := range report.Issues {
		msgs = append(msgs, issue.Message)
	}
	if len(msgs) > 3 {
		msgs = msgs[:3]
	}
	return strings.Join(msgs, "; ")
}
