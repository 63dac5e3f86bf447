// Package credentials provides the bearer token used for calls to the
// assistant service. Tokens are read at the moment of each call so a token
// refreshed by the surrounding application is picked up immediately.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoToken is returned when a source has no token to offer
var ErrNoToken = errors.New("no bearer token available")

// Source supplies the current bearer token
type Source interface {
	Token(ctx context.Context) (string, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context) (string, error)

// Token calls f
func (f SourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static always returns the same token
type Static string

// Token returns the static token
func (s Static) Token(_ context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// Env reads the token from an environment variable on every call
type Env string

// Token returns the current value of the environment variable
func (e Env) Token(_ context.Context) (string, error) {
	token := strings.TrimSpace(os.Getenv(string(e)))
	if token == "" {
		return "", fmt.Errorf("%w: %s is not set", ErrNoToken, string(e))
	}
	return token, nil
}

// File reads the token from a file on every call
type File string

// Token returns the trimmed contents of the file
func (f File) Token(_ context.Context) (string, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrNoToken, string(f))
	}
	return token, nil
}

// FirstOf tries each source in order and returns the first token found
func FirstOf(sources ...Source) Source {
	return SourceFunc(func(ctx context.Context) (string, error) {
		var errs []error
		for _, src := range sources {
			if src == nil {
				continue
			}
			token, err := src.Token(ctx)
			if err == nil {
				return token, nil
			}
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return "", ErrNoToken
		}
		return "", errors.Join(errs...)
	})
}
