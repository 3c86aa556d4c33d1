package generate

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"github.com/mika/atelier/pkg/engine"
	"github.com/mika/atelier/pkg/session"
)

// Config holds the OpenAI image generator settings.
type Config struct {
	APIKey       string
	Model        string
	Size         string
	ArtifactsDir string
}

// OpenAIGenerator implements engine.Generator against the OpenAI image API.
// Generated images are written under the artifacts directory and referenced
// by path.
type OpenAIGenerator struct {
	client       openai.Client
	model        string
	size         string
	artifactsDir string
	logger       zerolog.Logger
}

// NewOpenAIGenerator creates a generator writing artifacts into
// cfg.ArtifactsDir.
func NewOpenAIGenerator(cfg Config, logger zerolog.Logger) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-image-1"
	}
	if cfg.Size == "" {
		cfg.Size = "1024x1024"
	}
	if cfg.ArtifactsDir == "" {
		return nil, fmt.Errorf("artifacts directory is required")
	}
	if err := os.MkdirAll(cfg.ArtifactsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	return &OpenAIGenerator{
		client:       openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:        cfg.Model,
		size:         cfg.Size,
		artifactsDir: cfg.ArtifactsDir,
		logger:       logger,
	}, nil
}

// Generate renders the prompt into an image and returns a path reference.
// Reference assets contribute their descriptions to the rendered prompt.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, assets []session.AssetRef) (*engine.GenerationResult, error) {
	if prompt == "" {
		return nil, engine.Validation("generate", fmt.Errorf("prompt cannot be empty"))
	}

	full := composePrompt(prompt, assets)

	start := time.Now()
	res, err := g.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         full,
		Model:          openai.ImageModel(g.model),
		N:              openai.Int(1),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
		Size:           openai.ImageGenerateParamsSize(g.size),
	})
	if err != nil {
		return nil, engine.Classify("generate", err)
	}
	if len(res.Data) == 0 {
		return nil, engine.Validation("generate", fmt.Errorf("image API returned no data"))
	}

	raw, err := base64.StdEncoding.DecodeString(res.Data[0].B64JSON)
	if err != nil {
		return nil, engine.Validation("generate", fmt.Errorf("failed to decode image payload: %w", err))
	}

	name, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate artifact id: %w", err)
	}
	path := filepath.Join(g.artifactsDir, name+".png")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}

	g.logger.Debug().
		Str("artifact", path).
		Dur("elapsed", time.Since(start)).
		Msg("Artifact generated")

	return &engine.GenerationResult{
		ArtifactRef: path,
		Metadata: map[string]string{
			"generator_model": g.model,
			"size":            g.size,
		},
	}, nil
}

// composePrompt appends reference-asset descriptions so the model sees the
// same grounding as a human reviewer.
func composePrompt(prompt string, assets []session.AssetRef) string {
	var described []session.AssetRef
	for _, a := range assets {
		if a.Description != "" {
			described = append(described, a)
		}
	}
	if len(described) == 0 {
		return prompt
	}

	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\nReference assets:")
	for _, a := range described {
		sb.WriteString(fmt.Sprintf("\n- %s (%s)", a.Description, filepath.Base(a.Path)))
	}
	return sb.String()
}
