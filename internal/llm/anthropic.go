package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/soyeahso/memarena/internal/stream"
)

const (
	anthropicVersion      = "2023-06-01"
	defaultAnthropicPath  = "/v1/messages"
	defaultMaxTokens      = 4096
	anthropicProviderName = "anthropic"
)

// AnthropicClient streams from an Anthropic Messages API endpoint.
type AnthropicClient struct {
	baseURL string
	apiKey  string
	// Path is appended to the base URL. Defaults to /v1/messages.
	Path   string
	name   string
	client *http.Client
}

// NewAnthropicClient creates a Messages API client. httpClient may be nil.
func NewAnthropicClient(baseURL, apiKey string, httpClient *http.Client) *AnthropicClient {
	return &AnthropicClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		Path:    defaultAnthropicPath,
		name:    anthropicProviderName,
		client:  defaultHTTPClient(httpClient),
	}
}

// WithName returns the client reporting name in errors and logs.
func (c *AnthropicClient) WithName(name string) *AnthropicClient {
	c.name = name
	return c
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string { return c.name }

// Stream sends a streaming Messages request.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) (<-chan stream.Event, error) {
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
		"Accept":            "text/event-stream",
	}
	for k, v := range req.Headers {
		headers[k] = v
	}
	httpReq, err := newJSONRequest(ctx, joinURL(c.baseURL, c.Path), c.buildRequestBody(req), headers)
	if err != nil {
		return nil, err
	}

	events := make(chan stream.Event)
	go c.streamRequest(ctx, events, httpReq)
	return events, nil
}

func (c *AnthropicClient) buildRequestBody(req Request) anthropicRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	body := anthropicRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		Messages:  []anthropicMessage{},
		Stream:    true,
	}

	system := []string{}
	if req.System != "" {
		system = append(system, req.System)
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if m.Text != "" {
				system = append(system, m.Text)
			}
		case RoleUser, RoleAssistant:
			if msg, ok := messageToAnthropic(m); ok {
				body.Messages = append(body.Messages, msg)
			}
		}
	}
	body.System = strings.Join(system, "\n\n")
	return body
}

// messageToAnthropic maps a turn onto content blocks. Text-only turns use
// the plain string form; turns with nothing to say are dropped.
func messageToAnthropic(m Message) (anthropicMessage, bool) {
	if len(m.Files) == 0 {
		if m.Text == "" {
			return anthropicMessage{}, false
		}
		return anthropicMessage{Role: m.Role, Content: m.Text}, true
	}

	blocks := []anthropicBlock{}
	if m.Text != "" {
		blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Text})
	}
	for _, f := range m.Files {
		blocks = append(blocks, fileToAnthropic(f))
	}
	return anthropicMessage{Role: m.Role, Content: blocks}, true
}

func fileToAnthropic(f File) anthropicBlock {
	blockType := "document"
	if strings.HasPrefix(f.MediaType, "image/") {
		blockType = "image"
	}
	src := &anthropicSource{}
	switch {
	case f.URL != "":
		src.Type, src.URL = "url", f.URL
	case f.MediaType == "text/plain":
		text, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			text = []byte(f.Data)
		}
		src.Type, src.MediaType, src.Data = "text", f.MediaType, string(text)
	default:
		src.Type, src.MediaType, src.Data = "base64", f.MediaType, f.Data
	}
	block := anthropicBlock{Type: blockType, Source: src}
	if blockType == "document" && f.Filename != "" {
		block.Title = f.Filename
	}
	return block
}

func (c *AnthropicClient) streamRequest(ctx context.Context, events chan<- stream.Event, httpReq *http.Request) {
	defer close(events)

	send := func(ev stream.Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		send(stream.Event{Type: stream.EventError, Err: (&ProviderError{Provider: c.name, Message: err.Error()}).Error()})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		send(stream.Event{Type: stream.EventError, Err: statusError(c.name, resp).Error()})
		return
	}

	scanner := stream.NewScanner(resp.Body)
	for scanner.Next() {
		data := scanner.Event().Data
		if data == "" || scanner.Event().Done() {
			continue
		}
		var raw anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &raw); err != nil {
			continue
		}
		ev, ok := raw.toEvent()
		if !ok {
			continue
		}
		if !send(ev) {
			return
		}
		if ev.Type == stream.EventMessageStop || ev.Type == stream.EventError {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		send(stream.Event{Type: stream.EventError, Err: (&ProviderError{Provider: c.name, Message: err.Error()}).Error()})
		return
	}
	if ctx.Err() != nil {
		return
	}
	send(stream.Event{Type: stream.EventEOF})
}

func (e anthropicStreamEvent) toEvent() (stream.Event, bool) {
	switch e.Type {
	case "message_start":
		return stream.Event{Type: stream.EventMessageStart}, true
	case "content_block_start":
		bt := stream.BlockOther
		if e.ContentBlock != nil && e.ContentBlock.Type == "text" {
			bt = stream.BlockText
		}
		return stream.Event{Type: stream.EventBlockStart, Index: e.Index, BlockType: bt}, true
	case "content_block_delta":
		if e.Delta == nil || e.Delta.Type != "text_delta" {
			return stream.Event{}, false
		}
		return stream.Event{Type: stream.EventBlockDelta, Index: e.Index, Text: e.Delta.Text}, true
	case "content_block_stop":
		return stream.Event{Type: stream.EventBlockStop, Index: e.Index}, true
	case "message_delta":
		ev := stream.Event{Type: stream.EventMessageDelta}
		if e.Delta != nil {
			ev.StopReason = e.Delta.StopReason
		}
		return ev, true
	case "message_stop":
		return stream.Event{Type: stream.EventMessageStop}, true
	case "error":
		ev := stream.Event{Type: stream.EventError}
		if e.Error != nil {
			ev.Err = e.Error.Message
		}
		return ev, true
	}
	return stream.Event{}, false
}

// Wire structures

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicBlock
}

type anthropicBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Title  string           `json:"title,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicStreamEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock *struct {
		Type string `json:"type"`
	} `json:"content_block,omitempty"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text,omitempty"`
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
