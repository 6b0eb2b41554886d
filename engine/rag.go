package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/carenav-org/querykit/internal/retry"
	"github.com/carenav-org/querykit/templates"
)

const schemaPrompt = `Database schema (PostgreSQL, read-only):
  providers(provider_id, provider_name, provider_city, provider_state, provider_zip_code)
  drg_procedures(drg_code, drg_description)
  provider_procedures(provider_id, drg_code, total_discharges, average_covered_charges, average_total_payments, average_medicare_payments, provider_state)
  provider_ratings(provider_id, overall_rating, quality_rating, safety_rating, patient_experience_rating)
Rules: emit exactly one SELECT statement, no comments, no placeholders, always include a LIMIT.`

// draftHintSQL asks the chat model for a quick SQL sketch of the question.
// The sketch is never executed; its normalized form drives retrieval and
// edit-distance reranking. Failure returns "".
func (e *Engine) draftHintSQL(ctx context.Context, question string) string {
	ctx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()

	var resp openai.ChatCompletionResponse
	err := retry.Do(ctx, 2, 250*time.Millisecond, 2*time.Second, func(ctx context.Context) error {
		var err error
		resp, err = e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       e.chatModel,
			Temperature: 0.1,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: "You translate healthcare cost questions into a single PostgreSQL SELECT.\n" + schemaPrompt},
				{Role: openai.ChatMessageRoleUser, Content: question},
			},
		})
		return err
	})
	if err != nil {
		e.log.Debug("hint sql draft failed", zap.Error(err))
		return ""
	}
	if len(resp.Choices) == 0 {
		return ""
	}
	return cleanGeneratedSQL(resp.Choices[0].Message.Content)
}

// generateSQL is the RAG path: retrieved templates become in-context
// exemplars and the model writes a novel SELECT. prevErr from the last
// rejected candidate is fed back so retries do not repeat the mistake.
func (e *Engine) generateSQL(ctx context.Context, question string, exemplars []templates.Match, prevErr string) (string, error) {
	var b strings.Builder
	b.WriteString("You write one PostgreSQL SELECT statement answering the user's healthcare cost question.\n")
	b.WriteString(schemaPrompt)
	if len(exemplars) > 0 {
		b.WriteString("\n\nExample queries from the catalog:\n")
		for _, m := range exemplars {
			if m.Template.Comment != "" {
				fmt.Fprintf(&b, "-- %s\n", m.Template.Comment)
			}
			b.WriteString(m.Template.RawSQL)
			b.WriteString("\n\n")
		}
	}
	if prevErr != "" {
		fmt.Fprintf(&b, "\nYour previous attempt was rejected: %s\nWrite a corrected query.", prevErr)
	}

	ctx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()

	var resp openai.ChatCompletionResponse
	err := retry.Do(ctx, 2, 250*time.Millisecond, 2*time.Second, func(ctx context.Context) error {
		var err error
		resp, err = e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       e.chatModel,
			Temperature: 0.2,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: b.String()},
				{Role: openai.ChatMessageRoleUser, Content: question},
			},
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrUpstreamUnavailable)
	}

	sql := cleanGeneratedSQL(resp.Choices[0].Message.Content)
	if sql == "" {
		return "", fmt.Errorf("%w: no SQL in completion", ErrRetrievalMiss)
	}
	return sql, nil
}

// cleanGeneratedSQL strips markdown fences and prose around a model-written
// statement and keeps only the first statement.
func cleanGeneratedSQL(text string) string {
	s := strings.TrimSpace(text)

	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "sql")
		s = strings.TrimPrefix(s, "SQL")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	s = strings.TrimSpace(s)

	// Drop any prose before the statement.
	if i := strings.Index(strings.ToLower(s), "select"); i > 0 {
		s = s[i:]
	}
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}

	s = strings.TrimSpace(s)
	if !strings.HasPrefix(strings.ToLower(s), "select") {
		return ""
	}
	return s
}
