package provider

import (
	"context"
	"fmt"
	"net/http"

	"LearnChat/internal/config"
)

// openAICompatible serves both OpenAI and Grok, which share the chat
// completions API
type openAICompatible struct {
	caller
}

func newOpenAICompatible(name, defaultURL, defaultModel string, opts Options) *openAICompatible {
	return &openAICompatible{caller: newCaller(name, defaultURL, defaultModel, opts)}
}

func (p *openAICompatible) headers() (map[string]string, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%s not set", config.APIKeyEnv(p.name))
	}
	return map[string]string{"Authorization": "Bearer " + p.apiKey}, nil
}

func (p *openAICompatible) Reply(ctx context.Context, message string) (reply string, err error) {
	ctx, span := p.startSpan(ctx)
	defer func() { endSpan(span, err) }()

	headers, err := p.headers()
	if err != nil {
		return "", err
	}

	reqBody := OpenAIRequest{
		Model: p.model,
		Messages: []ChatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: message},
		},
	}

	var apiResp OpenAIResponse
	if err := p.do(ctx, http.MethodPost, "/v1/chat/completions", headers, reqBody, &apiResp); err != nil {
		return "", err
	}

	p.recordUsage(ctx, apiResp.Usage)

	if len(apiResp.Choices) > 0 && apiResp.Choices[0].Message.Content != "" {
		return apiResp.Choices[0].Message.Content, nil
	}
	return "", ErrEmptyResponse
}

// Available checks the key against the models listing
func (p *openAICompatible) Available(ctx context.Context) error {
	headers, err := p.headers()
	if err != nil {
		return err
	}
	var models OpenAIModelsResponse
	return p.do(ctx, http.MethodGet, "/v1/models", headers, nil, &models)
}
