// Package backend is the HTTP client for the assistant service's status and
// chat endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"LearnChat/internal/credentials"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// maxErrorBody bounds how much of a failed response body ends up in errors
const maxErrorBody = 512

// Client calls the assistant service on behalf of one widget
type Client struct {
	baseURL    string
	tokens     credentials.Source
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	duration   metric.Float64Histogram
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger overrides the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTelemetry sets the tracer and meter used for request spans and the
// request duration histogram.
func WithTelemetry(tracer trace.Tracer, meter metric.Meter) Option {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
		if meter != nil {
			c.duration = newDurationHistogram(meter, c.logger)
		}
	}
}

// NewClient creates a client for the service at baseURL. The bearer token is
// read from tokens on every call.
func NewClient(baseURL string, tokens credentials.Source, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("learnchat"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.duration == nil {
		c.duration = newDurationHistogram(otel.Meter("learnchat"), c.logger)
	}
	return c
}

func newDurationHistogram(meter metric.Meter, logger *slog.Logger) metric.Float64Histogram {
	histogram, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", "error", err)
		return nil
	}
	return histogram
}

// Status probes the status endpoint and returns the reported status
func (c *Client) Status(ctx context.Context) (string, error) {
	ctx, span := c.tracer.Start(ctx, "status_probe")
	defer span.End()

	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, StatusPath, nil, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("assistant.status", resp.Status))
	return resp.Status, nil
}

// Chat sends message to the chat endpoint and returns the assistant's reply
func (c *Client) Chat(ctx context.Context, message string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "chat_api_call")
	defer span.End()

	var resp ChatResponse
	if err := c.do(ctx, http.MethodPost, ChatPath, ChatRequest{Message: message}, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if resp.Response == "" {
		span.SetStatus(codes.Error, ErrEmptyResponse.Error())
		return "", ErrEmptyResponse
	}
	return resp.Response, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	start := time.Now()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bearer token: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.recordDuration(ctx, method, path, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := strings.TrimSpace(string(data))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &StatusError{Code: resp.StatusCode, Body: text}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) recordDuration(ctx context.Context, method, path string, status int, d time.Duration) {
	if c.duration == nil {
		return
	}
	c.duration.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.path", path),
		attribute.Int("http.response.status_code", status),
	))
}
