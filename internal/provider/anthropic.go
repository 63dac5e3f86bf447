package provider

import (
	"context"
	"fmt"
	"net/http"
)

const anthropicVersion = "2023-06-01"

type anthropic struct {
	caller
}

func newAnthropic(opts Options) *anthropic {
	return &anthropic{caller: newCaller("anthropic", "https://api.anthropic.com", "claude-sonnet-4-20250514", opts)}
}

func (p *anthropic) headers() (map[string]string, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}, nil
}

func (p *anthropic) Reply(ctx context.Context, message string) (reply string, err error) {
	ctx, span := p.startSpan(ctx)
	defer func() { endSpan(span, err) }()

	headers, err := p.headers()
	if err != nil {
		return "", err
	}

	reqBody := AnthropicRequest{
		Model:     p.model,
		MaxTokens: 1024,
		System:    SystemPrompt,
		Messages:  []AnthropicMessage{{Role: "user", Content: message}},
	}

	var apiResp AnthropicResponse
	if err := p.do(ctx, http.MethodPost, "/v1/messages", headers, reqBody, &apiResp); err != nil {
		return "", err
	}

	p.recordUsage(ctx, apiResp.Usage)

	for _, content := range apiResp.Content {
		if content.Type == "text" && content.Text != "" {
			return content.Text, nil
		}
	}
	return "", ErrEmptyResponse
}

// Available checks the key against the models listing
func (p *anthropic) Available(ctx context.Context) error {
	headers, err := p.headers()
	if err != nil {
		return err
	}
	return p.do(ctx, http.MethodGet, "/v1/models", headers, nil, nil)
}
