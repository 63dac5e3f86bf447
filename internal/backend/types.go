package backend

import (
	"errors"
	"fmt"
)

const (
	StatusPath = "/api/chat/status"
	ChatPath   = "/api/chat"

	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ErrEmptyResponse is returned when the chat endpoint answers without text
var ErrEmptyResponse = errors.New("empty response from assistant")

// ChatRequest represents the request body for the chat endpoint
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse represents the response from the chat endpoint
type ChatResponse struct {
	Response string `json:"response"`
}

// StatusResponse represents the response from the status endpoint
type StatusResponse struct {
	Status string `json:"status"`
}

// StatusError is returned for any non-2xx answer
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API error: %d", e.Code)
	}
	return fmt.Sprintf("API error: %d - %s", e.Code, e.Body)
}
