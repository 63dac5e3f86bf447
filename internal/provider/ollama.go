package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

type ollama struct {
	caller
}

func newOllama(opts Options) *ollama {
	return &ollama{caller: newCaller("ollama", "http://localhost:11434", "llama3:latest", opts)}
}

func (p *ollama) Reply(ctx context.Context, message string) (reply string, err error) {
	ctx, span := p.startSpan(ctx)
	defer func() { endSpan(span, err) }()

	reqBody := OllamaRequest{
		Model: p.model,
		Messages: []ChatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: message},
		},
		Stream: false,
	}

	var apiResp OllamaResponse
	if err := p.do(ctx, http.MethodPost, "/api/chat", nil, reqBody, &apiResp); err != nil {
		return "", err
	}

	p.recordUsage(ctx, map[string]interface{}{
		"input_tokens":  float64(apiResp.PromptEvalCount),
		"output_tokens": float64(apiResp.EvalCount),
	})

	if apiResp.Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return apiResp.Message.Content, nil
}

// Available checks that Ollama is running and has the configured model pulled
func (p *ollama) Available(ctx context.Context) error {
	models, err := p.listModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		if m.Name == p.model || strings.TrimSuffix(m.Name, ":latest") == p.model {
			return nil
		}
	}
	return fmt.Errorf("model %s not found in Ollama", p.model)
}

func (p *ollama) listModels(ctx context.Context) ([]OllamaModel, error) {
	var tagsResp OllamaTagsResponse
	if err := p.do(ctx, http.MethodGet, "/api/tags", nil, nil, &tagsResp); err != nil {
		return nil, fmt.Errorf("failed to list models (is Ollama running?): %w", err)
	}
	return tagsResp.Models, nil
}
