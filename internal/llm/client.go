// Package llm holds the HTTP clients for upstream model and memory APIs.
//
// Model clients stream in block-protocol events (stream.Event) so every
// agent can reuse the same translator regardless of the wire protocol.
package llm

import (
	"context"
	"fmt"

	"github.com/soyeahso/memarena/internal/stream"
)

// Role constants for messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// File is resolved attachment content on a user message. Exactly one of URL
// or Data is set; Data is base64.
type File struct {
	MediaType string
	Filename  string
	URL       string
	Data      string
}

// Message is a single turn in a conversation.
type Message struct {
	Role  string
	Text  string
	Files []File
}

// Request is the input to a Stream call.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
	// Headers are added to the upstream request.
	Headers map[string]string
}

// Client is a streaming model API.
type Client interface {
	// Stream sends req and returns a channel of upstream events. The channel
	// is closed after an EventMessageStop, EventEOF or EventError. A non-nil
	// error means nothing was sent.
	Stream(ctx context.Context, req Request) (<-chan stream.Event, error)

	// Name returns the provider name (e.g. "anthropic", "openai").
	Name() string
}

// ProviderError is returned when an upstream API fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP status, 0 when the request never completed
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
