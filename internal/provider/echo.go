package provider

import "context"

// Echo answers every message with a canned reply. It needs no network and is
// the default for local development.
type Echo struct{}

func NewEcho() *Echo {
	return &Echo{}
}

func (e *Echo) Name() string {
	return "echo"
}

func (e *Echo) Reply(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "You asked: " + message, nil
}

func (e *Echo) Available(ctx context.Context) error {
	return nil
}
