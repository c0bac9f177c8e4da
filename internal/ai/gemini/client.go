package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spigell/career-matcher/internal/ai"

	"google.golang.org/genai"
)

const (
	provider     = "gemini"
	defaultModel = "gemini-2.5-flash"
	jsonMIMEType = "application/json"
)

// contentGenerator is the subset of genai.Models used by Generator.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Generator wraps the Google GenAI client to provide simple prompt-based interactions.
type Generator struct {
	models    contentGenerator
	modelName string
}

// NewGenerator creates a new Generator configured for the Gemini API backend.
// A positive timeout bounds every request.
func NewGenerator(ctx context.Context, apiKey, model string, timeout time.Duration) (*Generator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is required", ai.ErrMisconfigured)
	}

	client, err := genai.NewClient(ctx, clientConfig(apiKey, timeout))
	if err != nil {
		return nil, fmt.Errorf("%w: create genai client: %v", ai.ErrMisconfigured, err)
	}

	return newGenerator(client.Models, model), nil
}

func clientConfig(apiKey string, timeout time.Duration) *genai.ClientConfig {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if timeout > 0 {
		cfg.HTTPOptions.Timeout = &timeout
	}
	return cfg
}

func newGenerator(models contentGenerator, model string) *Generator {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}

	return &Generator{models: models, modelName: model}
}

// Complete sends the prompt to Gemini and returns the concatenated textual response.
func (g *Generator) Complete(ctx context.Context, req ai.Request) (string, error) {
	if g == nil || g.models == nil {
		return "", fmt.Errorf("%w: gemini generator is not initialized", ai.ErrMisconfigured)
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	config := &genai.GenerateContentConfig{}
	if system := strings.TrimSpace(req.System); system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if req.JSON {
		config.ResponseMIMEType = jsonMIMEType
	}

	resp, err := g.models.GenerateContent(ctx, g.modelName, genai.Text(prompt), config)
	if err != nil {
		return "", classify(err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", fmt.Errorf("%w: gemini api returned empty response", ai.ErrUpstream)
	}

	return output, nil
}

func (g *Generator) Provider() string {
	return provider
}

func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.modelName
}

// classify maps genai failures onto the shared scoring errors.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return ai.StatusError(apiErr.Code, fmt.Sprintf("%d %s", apiErr.Code, apiErr.Status))
	}

	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return ai.StatusError(apiErrPtr.Code, fmt.Sprintf("%d %s", apiErrPtr.Code, apiErrPtr.Status))
	}

	return fmt.Errorf("%w: generate content: %v", ai.ErrUpstream, err)
}
