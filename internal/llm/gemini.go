package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/deepresearch/backend/pkg/config"
)

type geminiBackend struct {
	client      *genai.Client
	model       string
	temperature float32
}

func newGeminiBackend(cfg config.LLMConfig) (*geminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &geminiBackend{client: client, model: model, temperature: cfg.Temperature}, nil
}

func (b *geminiBackend) name() string { return "gemini" }

func (b *geminiBackend) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	temperature := b.temperature
	resp, err := b.client.Models.GenerateContent(ctx, b.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			Temperature:       &temperature,
			MaxOutputTokens:   int32(maxTokens),
		},
	)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
