package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/carenav-org/querykit/internal/retry"
)

const explainFallback = "Query executed successfully."

// explain summarizes the result set in plain language. Any failure returns
// the neutral fallback text; the response already carries the rows.
func (e *Engine) explain(ctx context.Context, question, sql string, rows []map[string]any) string {
	ctx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nSQL executed:\n%s\n\n", question, sql)
	fmt.Fprintf(&b, "Result: %d row(s).", len(rows))
	if len(rows) > 0 {
		b.WriteString(" Sample rows:\n")
		sample := rows
		if len(sample) > 3 {
			sample = sample[:3]
		}
		for _, row := range sample {
			fmt.Fprintf(&b, "%v\n", row)
		}
	}

	var resp openai.ChatCompletionResponse
	err := retry.Do(ctx, 2, 250*time.Millisecond, 2*time.Second, func(ctx context.Context) error {
		var err error
		resp, err = e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       e.chatModel,
			Temperature: 0.3,
			MaxTokens:   300,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: "You summarize healthcare cost query results for patients in two or three sentences. Mention concrete provider names and dollar amounts when present. Never show SQL."},
				{Role: openai.ChatMessageRoleUser, Content: b.String()},
			},
		})
		return err
	})
	if err != nil {
		e.log.Debug("explanation failed", zap.Error(err))
		return explainFallback
	}
	if len(resp.Choices) == 0 {
		return explainFallback
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return explainFallback
	}
	return answer
}
