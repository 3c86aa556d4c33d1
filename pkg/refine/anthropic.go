package refine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/mika/atelier/pkg/engine"
	"github.com/mika/atelier/pkg/session"
)

// rewriteSchema is the contract the rewriter's JSON reply must satisfy.
const rewriteSchema = `{
	"type": "object",
	"required": ["new_prompt", "reasoning"],
	"properties": {
		"new_prompt": {"type": "string", "minLength": 1},
		"reasoning": {"type": "string"}
	}
}`

// historyWindow caps how many trailing turns the rewriter sees. Earlier
// turns matter less than the recent trajectory and the window keeps the
// request bounded.
const historyWindow = 6

// Config holds the Anthropic rewriter settings.
type Config struct {
	APIKey string
	Model  string
}

// AnthropicRewriter implements engine.Refiner with an LLM that rewrites the
// prompt based on the scored history.
type AnthropicRewriter struct {
	client anthropic.Client
	model  string
	logger zerolog.Logger
}

// NewAnthropicRewriter creates a refinement adapter.
func NewAnthropicRewriter(cfg Config, logger zerolog.Logger) (*AnthropicRewriter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}

	return &AnthropicRewriter{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// Refine derives the next prompt from the turn history and last verdict. The
// history is read-only context; prior turns are never modified.
func (r *AnthropicRewriter) Refine(ctx context.Context, history []session.Turn, lastScore float64, lastFeedback string) (*engine.RefinementResult, error) {
	if len(history) == 0 {
		return nil, engine.Validation("refine", fmt.Errorf("refinement needs at least one turn of history"))
	}

	response, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(buildRequest(history, lastScore, lastFeedback)),
			),
		},
	})
	if err != nil {
		return nil, engine.Classify("refine", err)
	}

	content := ""
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += b.Text
		}
	}

	rewrite, err := parseRewrite(content)
	if err != nil {
		return nil, engine.Validation("refine", err)
	}

	r.logger.Debug().
		Int("history", len(history)).
		Float64("last_score", lastScore).
		Msg("Prompt rewritten")

	return &engine.RefinementResult{
		NewPrompt: rewrite.NewPrompt,
		Reasoning: rewrite.Reasoning,
	}, nil
}

// buildRequest digests the trailing turns into a compact trajectory the
// rewriter can reason over.
func buildRequest(history []session.Turn, lastScore float64, lastFeedback string) string {
	window := history
	if len(window) > historyWindow {
		window = window[len(window)-historyWindow:]
	}

	var sb strings.Builder
	sb.WriteString("You improve image-generation prompts. Attempts so far:\n")
	for _, t := range window {
		sb.WriteString(fmt.Sprintf("\n## Attempt %d\nPrompt: %s\n", t.Iteration, t.Prompt))
		if t.Scored() {
			sb.WriteString(fmt.Sprintf("Score: %.1f\n", *t.Score))
		}
		if t.Feedback != "" {
			sb.WriteString(fmt.Sprintf("Feedback: %s\n", t.Feedback))
		}
	}
	sb.WriteString(fmt.Sprintf("\nThe latest attempt scored %.1f", lastScore))
	if lastFeedback != "" {
		sb.WriteString(fmt.Sprintf(" with feedback: %s", lastFeedback))
	}
	sb.WriteString("\n\nRewrite the prompt to address the feedback while keeping what already works.")
	sb.WriteString("\nReply with JSON only, no prose around it:\n")
	sb.WriteString(`{"new_prompt": "<rewritten prompt>", "reasoning": "<why this should score higher>"}`)
	return sb.String()
}

type rewrite struct {
	NewPrompt string `json:"new_prompt"`
	Reasoning string `json:"reasoning"`
}

func parseRewrite(content string) (*rewrite, error) {
	doc := extractJSON(content)
	if doc == "" {
		return nil, fmt.Errorf("rewriter reply contains no JSON object")
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(rewriteSchema),
		gojsonschema.NewStringLoader(doc),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate rewrite: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, err := range result.Errors() {
			msgs = append(msgs, err.String())
		}
		return nil, fmt.Errorf("malformed rewrite: %s", strings.Join(msgs, "; "))
	}

	var rw rewrite
	if err := json.Unmarshal([]byte(doc), &rw); err != nil {
		return nil, fmt.Errorf("failed to decode rewrite: %w", err)
	}
	return &rw, nil
}

func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}
