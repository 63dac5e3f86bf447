package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"LearnChat/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// SystemPrompt frames every conversation sent to a hosted model
const SystemPrompt = "You are a friendly study assistant on a learning platform. " +
	"Answer questions about course material clearly and briefly."

// ErrEmptyResponse is returned when a provider answers without any text
var ErrEmptyResponse = errors.New("empty response from provider")

// Provider produces assistant replies for the relay
type Provider interface {
	Name() string
	Reply(ctx context.Context, message string) (string, error)
	// Available reports whether the provider can currently serve replies
	Available(ctx context.Context) error
}

// Options configures a hosted provider. Empty BaseURL and Model select the
// provider's defaults.
type Options struct {
	BaseURL    string
	Model      string
	APIKey     string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Tracer     trace.Tracer
	Meter      metric.Meter
}

// New creates the provider registered under name
func New(name string, opts Options) (Provider, error) {
	switch name {
	case config.ProviderEcho:
		return NewEcho(), nil
	case config.ProviderOllama:
		return newOllama(opts), nil
	case config.ProviderAnthropic:
		return newAnthropic(opts), nil
	case config.ProviderGrok:
		return newOpenAICompatible(config.ProviderGrok, "https://api.grok.x.ai", "grok-1", opts), nil
	case config.ProviderOpenAI:
		return newOpenAICompatible(config.ProviderOpenAI, "https://api.openai.com", "gpt-3.5-turbo", opts), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}

// caller holds the HTTP plumbing shared by the hosted providers
type caller struct {
	name       string
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	duration   metric.Float64Histogram
}

func newCaller(name, defaultURL, defaultModel string, opts Options) caller {
	c := caller{
		name:       name,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		apiKey:     opts.APIKey,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		tracer:     opts.Tracer,
		meter:      opts.Meter,
	}
	if c.baseURL == "" {
		c.baseURL = defaultURL
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("learnchat-relay")
	}
	if c.meter == nil {
		c.meter = otel.Meter("learnchat-relay")
	}

	histogram, err := c.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		c.logger.Warn("failed to create histogram", "error", err)
	}
	c.duration = histogram
	return c
}

func (c *caller) Name() string {
	return c.name
}

// do sends a JSON request and decodes a 200 reply into out
func (c *caller) do(ctx context.Context, method, path string, headers map[string]string, in, out interface{}) error {
	start := time.Now()

	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("content-type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	statusCode := 0
	defer func() {
		if c.duration != nil {
			c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
				metric.WithAttributes(
					attribute.String("llm.provider", c.name),
					attribute.String("http.request.method", method),
					attribute.Int("http.response.status_code", statusCode),
				))
		}
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// startSpan opens the provider_call span for one reply
func (c *caller) startSpan(ctx context.Context) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "provider_call",
		trace.WithAttributes(
			attribute.String("llm.provider", c.name),
			attribute.String("llm.model", c.model),
		))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// recordUsage records provider usage counters such as input_tokens
func (c *caller) recordUsage(ctx context.Context, usage map[string]interface{}) {
	for key, value := range usage {
		n, ok := value.(float64)
		if !ok {
			continue
		}
		counter, err := c.meter.Int64Counter(
			fmt.Sprintf("llm.usage.%s", key),
			metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", key)),
		)
		if err != nil {
			c.logger.Warn("failed to create counter", "key", key, "error", err)
			continue
		}
		counter.Add(ctx, int64(n), metric.WithAttributes(attribute.String("llm.provider", c.name)))
	}
}
