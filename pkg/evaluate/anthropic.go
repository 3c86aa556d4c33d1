package evaluate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/mika/atelier/pkg/engine"
)

// verdictSchema is the contract the judge's JSON reply must satisfy before
// any of it reaches the engine.
const verdictSchema = `{
	"type": "object",
	"required": ["score", "feedback"],
	"properties": {
		"score": {"type": "number"},
		"feedback": {"type": "string", "minLength": 1},
		"criteria": {
			"type": "object",
			"additionalProperties": {"type": "number"}
		}
	}
}`

// Config holds the Anthropic judge settings.
type Config struct {
	APIKey   string
	Model    string
	Criteria []string
	Bounds   engine.ScoreBounds
}

// AnthropicJudge implements engine.Evaluator with a vision-capable judge
// model scoring artifacts against a rubric.
type AnthropicJudge struct {
	client   anthropic.Client
	model    string
	criteria []string
	bounds   engine.ScoreBounds
	logger   zerolog.Logger
}

// NewAnthropicJudge creates an automatic evaluator.
func NewAnthropicJudge(cfg Config, logger zerolog.Logger) (*AnthropicJudge, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if len(cfg.Criteria) == 0 {
		cfg.Criteria = []string{"prompt adherence", "composition", "visual quality"}
	}
	if cfg.Bounds == (engine.ScoreBounds{}) {
		cfg.Bounds = engine.DefaultScoreBounds()
	}

	return &AnthropicJudge{
		client:   anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:    cfg.Model,
		criteria: cfg.Criteria,
		bounds:   cfg.Bounds,
		logger:   logger,
	}, nil
}

// Evaluate scores the artifact at artifactRef against the prompt that
// produced it. The verdict is schema-validated and bounds-checked at this
// boundary so downstream invariants never see an out-of-range score.
func (j *AnthropicJudge) Evaluate(ctx context.Context, artifactRef, prompt string) (*engine.EvaluationResult, error) {
	raw, err := os.ReadFile(artifactRef)
	if err != nil {
		return nil, engine.Fatal("evaluate", fmt.Errorf("failed to read artifact: %w", err))
	}
	mediaType := mediaTypeFor(artifactRef)
	encoded := base64.StdEncoding.EncodeToString(raw)

	response, err := j.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(j.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mediaType, encoded),
				anthropic.NewTextBlock(j.instructions(prompt)),
			),
		},
	})
	if err != nil {
		return nil, engine.Classify("evaluate", err)
	}

	content := ""
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += b.Text
		}
	}

	verdict, err := parseVerdict(content)
	if err != nil {
		return nil, engine.Validation("evaluate", err)
	}
	if err := j.bounds.Check(verdict.Score); err != nil {
		return nil, engine.Validation("evaluate", err)
	}
	for name, score := range verdict.Criteria {
		if err := j.bounds.Check(score); err != nil {
			return nil, engine.Validation("evaluate", fmt.Errorf("criterion %q: %w", name, err))
		}
	}

	j.logger.Debug().
		Str("artifact", artifactRef).
		Float64("score", verdict.Score).
		Msg("Artifact judged")

	return &engine.EvaluationResult{
		Score:    verdict.Score,
		Feedback: verdict.Feedback,
		Criteria: verdict.Criteria,
	}, nil
}

func (j *AnthropicJudge) instructions(prompt string) string {
	var sb strings.Builder
	sb.WriteString("You are judging whether the attached image satisfies the prompt below.\n\n")
	sb.WriteString("Prompt:\n")
	sb.WriteString(prompt)
	sb.WriteString("\n\nScore each criterion and the overall result from ")
	sb.WriteString(fmt.Sprintf("%.0f to %.0f:\n", j.bounds.Min, j.bounds.Max))
	for _, c := range j.criteria {
		sb.WriteString(fmt.Sprintf("- %s\n", c))
	}
	sb.WriteString("\nReply with JSON only, no prose around it:\n")
	sb.WriteString(`{"score": <overall>, "feedback": "<what to improve>", "criteria": {"<name>": <score>}}`)
	return sb.String()
}

type verdict struct {
	Score    float64            `json:"score"`
	Feedback string             `json:"feedback"`
	Criteria map[string]float64 `json:"criteria"`
}

func parseVerdict(content string) (*verdict, error) {
	doc := extractJSON(content)
	if doc == "" {
		return nil, fmt.Errorf("judge reply contains no JSON object")
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(verdictSchema),
		gojsonschema.NewStringLoader(doc),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate verdict: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("malformed verdict: %s", schemaErrors(result))
	}

	var v verdict
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return nil, fmt.Errorf("failed to decode verdict: %w", err)
	}
	return &v, nil
}

// extractJSON pulls the outermost JSON object out of a model reply,
// tolerating markdown fences and surrounding prose.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}

func schemaErrors(result *gojsonschema.Result) string {
	var msgs []string
	for _, err := range result.Errors() {
		msgs = append(msgs, err.String())
	}
	return strings.Join(msgs, "; ")
}

func mediaTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/png"
	}
}
