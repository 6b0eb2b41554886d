package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/carenav-org/querykit/internal/retry"
)

const extractFnName = "extract_query_intent"

const systemPrompt = `You extract structured search parameters from questions about US hospital procedure costs and ratings.
Call the function exactly once. Leave a field empty when the question does not mention it.
DRG codes are 3-4 digit numeric strings. States are two-letter US abbreviations.`

// extractorSchema is the JSON schema for the forced tool call. The enum
// mirrors the Kind constants.
var extractorSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query_kind": {
			"type": "string",
			"enum": ["cheapest", "most_expensive", "highest_rated", "cost_comparison", "volume_leaders", "multi_procedure_stats"],
			"description": "The shape of the question"
		},
		"procedure_text": {"type": "string", "description": "Free-text procedure phrase, e.g. 'hip replacement'"},
		"drg_code": {"type": "string", "description": "DRG code if the question names one, e.g. '470'"},
		"state": {"type": "string", "description": "US state name or two-letter abbreviation"},
		"city": {"type": "string", "description": "City name"},
		"zip_code": {"type": "string", "description": "ZIP code or ZIP prefix"},
		"min_rating": {"type": "number", "description": "Minimum overall rating 1-10"},
		"max_cost": {"type": "number", "description": "Maximum cost in dollars"},
		"limit": {"type": "integer", "description": "How many results the user asked for"}
	},
	"required": ["query_kind"]
}`)

// intentWire is the tool-call argument payload.
type intentWire struct {
	QueryKind     string  `json:"query_kind"`
	ProcedureText string  `json:"procedure_text"`
	DRGCode       string  `json:"drg_code"`
	State         string  `json:"state"`
	City          string  `json:"city"`
	ZipCode       string  `json:"zip_code"`
	MinRating     float64 `json:"min_rating"`
	MaxCost       float64 `json:"max_cost"`
	Limit         int     `json:"limit"`
}

type ExtractorConfig struct {
	Client *openai.Client
	Logger *zap.Logger

	Model        string
	Timeout      time.Duration
	MaxRows      int
	DefaultLimit int
}

type Extractor struct {
	client *openai.Client
	log    *zap.Logger

	model        string
	timeout      time.Duration
	maxRows      int
	defaultLimit int
}

func NewExtractor(cfg ExtractorConfig) (*Extractor, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("openai client is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = 1000
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	return &Extractor{
		client:       cfg.Client,
		log:          log,
		model:        model,
		timeout:      timeout,
		maxRows:      maxRows,
		defaultLimit: defaultLimit,
	}, nil
}

// Extract maps question to an Intent. Any failure (transport, refused tool
// call, invalid arguments) yields the default cheapest intent marked
// Degraded instead of an error, so the pipeline can still try the catalog.
func (e *Extractor) Extract(ctx context.Context, question string) Intent {
	in, err := e.extract(ctx, question)
	if err != nil {
		e.log.Warn("intent extraction failed, using default",
			zap.String("question", question),
			zap.Error(err),
		)
		return Intent{
			Kind:     KindCheapest,
			Limit:    e.defaultLimit,
			Degraded: true,
		}
	}
	return in
}

func (e *Extractor) extract(ctx context.Context, question string) (Intent, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Intent{}, fmt.Errorf("empty question")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tool := openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        extractFnName,
			Description: "Extract structured healthcare cost query parameters",
			Parameters:  extractorSchema,
		},
	}

	var resp openai.ChatCompletionResponse
	err := retry.Do(ctx, 2, 250*time.Millisecond, 2*time.Second, func(ctx context.Context) error {
		var err error
		resp, err = e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       e.model,
			Temperature: 0.1,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: question},
			},
			Tools: []openai.Tool{tool},
			ToolChoice: openai.ToolChoice{
				Type:     openai.ToolTypeFunction,
				Function: openai.ToolFunction{Name: extractFnName},
			},
		})
		return err
	})
	if err != nil {
		return Intent{}, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		return Intent{}, fmt.Errorf("model returned no tool call")
	}
	call := resp.Choices[0].Message.ToolCalls[0]
	if call.Function.Name != extractFnName {
		return Intent{}, fmt.Errorf("unexpected tool call %q", call.Function.Name)
	}

	var wire intentWire
	if err := json.Unmarshal([]byte(call.Function.Arguments), &wire); err != nil {
		return Intent{}, fmt.Errorf("decode tool arguments: %w", err)
	}

	in := Intent{
		Kind:          Kind(wire.QueryKind),
		ProcedureText: wire.ProcedureText,
		DRGCode:       wire.DRGCode,
		State:         wire.State,
		City:          wire.City,
		ZipCode:       wire.ZipCode,
		MinRating:     wire.MinRating,
		MaxCost:       wire.MaxCost,
		Limit:         wire.Limit,
	}
	if err := in.normalize(e.maxRows, e.defaultLimit); err != nil {
		return Intent{}, err
	}

	e.log.Debug("intent extracted",
		zap.String("kind", string(in.Kind)),
		zap.String("state", in.State),
		zap.String("drg_code", in.DRGCode),
		zap.Int("limit", in.Limit),
	)
	return in, nil
}
