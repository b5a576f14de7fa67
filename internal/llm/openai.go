package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/soyeahso/memarena/internal/stream"
)

const (
	defaultOpenAIPath  = "/chat/completions"
	openAIProviderName = "openai"
)

// OpenAIClient streams from an OpenAI-compatible chat completions endpoint.
// Chat completion chunks carry no blocks, so the whole reply is presented
// as a single text block at index 0.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	// Path is appended to the base URL. Defaults to /chat/completions.
	Path   string
	client *http.Client
}

// NewOpenAIClient creates a chat completions client. httpClient may be nil.
func NewOpenAIClient(baseURL, apiKey string, httpClient *http.Client) *OpenAIClient {
	return &OpenAIClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		Path:    defaultOpenAIPath,
		client:  defaultHTTPClient(httpClient),
	}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string { return openAIProviderName }

// Stream sends a streaming chat completions request.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (<-chan stream.Event, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		"Accept":        "text/event-stream",
	}
	for k, v := range req.Headers {
		headers[k] = v
	}
	httpReq, err := newJSONRequest(ctx, joinURL(c.baseURL, c.Path), buildOpenAIBody(req), headers)
	if err != nil {
		return nil, err
	}

	events := make(chan stream.Event)
	go c.streamRequest(ctx, events, httpReq)
	return events, nil
}

func buildOpenAIBody(req Request) openAIRequest {
	body := openAIRequest{Model: req.Model, Stream: true, Messages: []openAIMessage{}}
	if req.MaxTokens > 0 {
		body.MaxCompletionTokens = req.MaxTokens
	}
	if req.System != "" {
		body.Messages = append(body.Messages, openAIMessage{Role: RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		if m.Text == "" && len(m.Files) == 0 {
			continue
		}
		if len(m.Files) == 0 || m.Role != RoleUser {
			body.Messages = append(body.Messages, openAIMessage{Role: m.Role, Content: m.Text})
			continue
		}
		parts := []openAIPart{}
		if m.Text != "" {
			parts = append(parts, openAIPart{Type: "text", Text: m.Text})
		}
		for _, f := range m.Files {
			parts = append(parts, fileToOpenAI(f))
		}
		body.Messages = append(body.Messages, openAIMessage{Role: m.Role, Content: parts})
	}
	return body
}

func fileToOpenAI(f File) openAIPart {
	ref := f.URL
	if ref == "" {
		ref = "data:" + f.MediaType + ";base64," + f.Data
	}
	switch {
	case strings.HasPrefix(f.MediaType, "image/"):
		return openAIPart{Type: "image_url", ImageURL: &openAIImageURL{URL: ref}}
	case strings.HasPrefix(f.MediaType, "audio/"):
		format := "wav"
		if f.MediaType == "audio/mpeg" || f.MediaType == "audio/mp3" {
			format = "mp3"
		}
		return openAIPart{Type: "input_audio", InputAudio: &openAIInputAudio{Data: f.Data, Format: format}}
	default:
		return openAIPart{Type: "file", File: &openAIFile{Filename: f.Filename, FileData: ref}}
	}
}

func (c *OpenAIClient) streamRequest(ctx context.Context, events chan<- stream.Event, httpReq *http.Request) {
	defer close(events)

	send := func(ev stream.Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(msg string, code int) {
		send(stream.Event{Type: stream.EventError, Err: (&ProviderError{Provider: c.Name(), Message: msg, Code: code}).Error()})
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		fail(err.Error(), 0)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		send(stream.Event{Type: stream.EventError, Err: statusError(c.Name(), resp).Error()})
		return
	}

	if !send(stream.Event{Type: stream.EventMessageStart}) {
		return
	}

	open := false
	scanner := stream.NewScanner(resp.Body)
	for scanner.Next() {
		ev := scanner.Event()
		if ev.Done() {
			if open {
				send(stream.Event{Type: stream.EventBlockStop})
			}
			send(stream.Event{Type: stream.EventMessageStop})
			return
		}
		if ev.Data == "" {
			continue
		}
		var chunk openAIChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			fail(chunk.Error.Message, 0)
			return
		}
		for _, choice := range chunk.Choices {
			if choice.Index != 0 {
				continue
			}
			if text := choice.Delta.Content; text != "" {
				if !open {
					open = true
					if !send(stream.Event{Type: stream.EventBlockStart, BlockType: stream.BlockText}) {
						return
					}
				}
				if !send(stream.Event{Type: stream.EventBlockDelta, Text: text}) {
					return
				}
			}
			if choice.FinishReason != "" {
				if open {
					open = false
					send(stream.Event{Type: stream.EventBlockStop})
				}
				send(stream.Event{Type: stream.EventMessageDelta, StopReason: choice.FinishReason})
			}
		}
	}

	if err := scanner.Err(); err != nil {
		fail(err.Error(), 0)
		return
	}
	if ctx.Err() != nil {
		return
	}
	send(stream.Event{Type: stream.EventEOF})
}

// Wire structures

type openAIRequest struct {
	Model               string          `json:"model"`
	Messages            []openAIMessage `json:"messages"`
	Stream              bool            `json:"stream"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []openAIPart
}

type openAIPart struct {
	Type       string            `json:"type"`
	Text       string            `json:"text,omitempty"`
	ImageURL   *openAIImageURL   `json:"image_url,omitempty"`
	InputAudio *openAIInputAudio `json:"input_audio,omitempty"`
	File       *openAIFile       `json:"file,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIInputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type openAIFile struct {
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data"`
}

type openAIChunk struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
