package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiWriter drafts scenarios through the Gemini API.
type GeminiWriter struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

func NewGeminiWriter(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiWriter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiWriter{client: client, model: model, logger: logger.Named("gemini_writer")}, nil
}

func (w *GeminiWriter) Name() string { return "gemini" }

func (w *GeminiWriter) WriteScenes(ctx context.Context, brief string, count int) ([]string, error) {
	resp, err := w.client.Models.GenerateContent(ctx, w.model, genai.Text(scenarioPrompt(brief, count)), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return nil, fmt.Errorf("empty response from gemini")
	}
	w.logger.Debug("scenario reply", zap.String("model", w.model), zap.String("raw", truncate(raw, 500)))
	return parseScenes(raw)
}
