package services

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIWriter drafts scenarios with a chat completion in JSON mode.
type OpenAIWriter struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

func NewOpenAIWriter(apiKey, model string, logger *zap.Logger) *OpenAIWriter {
	return newOpenAIWriter(openai.DefaultConfig(apiKey), model, logger)
}

func newOpenAIWriter(cfg openai.ClientConfig, model string, logger *zap.Logger) *OpenAIWriter {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIWriter{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger.Named("openai_writer"),
	}
}

func (w *OpenAIWriter) Name() string { return "openai" }

func (w *OpenAIWriter) WriteScenes(ctx context.Context, brief string, count int) ([]string, error) {
	resp, err := w.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: w.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a storyboard writer for short AI-generated video cuts. You always answer with a single JSON object.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: scenarioPrompt(brief, count),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	raw := resp.Choices[0].Message.Content
	w.logger.Debug("scenario reply", zap.String("model", w.model), zap.String("raw", truncate(raw, 500)))
	return parseScenes(raw)
}
