package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/deepresearch/backend/pkg/config"
)

type openAIBackend struct {
	client      *openai.Client
	model       string
	temperature float32
}

const defaultOpenAIModel = "gpt-4o-mini"

// newOpenAIBackend talks to api.openai.com, or to any compatible server
// (vLLM, Ollama, LM Studio) when BaseURL is set.
func newOpenAIBackend(cfg config.LLMConfig) *openAIBackend {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &openAIBackend{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: cfg.Temperature,
	}
}

func (b *openAIBackend) name() string { return "openai" }

func (b *openAIBackend) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: b.temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}
