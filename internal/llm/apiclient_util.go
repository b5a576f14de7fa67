package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/memarena/internal/version"
)

// defaultHTTPClient has no overall timeout; streaming calls are bounded by
// their context instead.
func defaultHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: 60 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	}}
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// newJSONRequest builds a POST with a JSON body.
func newJSONRequest(ctx context.Context, url string, body any, headers map[string]string) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// postJSON sends body and decodes a 2xx response into out (when non-nil).
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any) error {
	req, err := newJSONRequest(ctx, url, body, headers)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return &ProviderError{Provider: provider, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Provider: provider, Message: "failed to read response: " + err.Error(), Code: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProviderError{Provider: provider, Message: errorMessage(respBody), Code: resp.StatusCode}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &ProviderError{Provider: provider, Message: "failed to parse response: " + err.Error(), Code: resp.StatusCode}
	}
	return nil
}

// statusError reads a failed streaming response into a ProviderError.
func statusError(provider string, resp *http.Response) *ProviderError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return &ProviderError{Provider: provider, Message: errorMessage(body), Code: resp.StatusCode}
}

// errorMessage extracts a human-readable message from common error bodies.
func errorMessage(body []byte) string {
	var shaped struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
	}
	if json.Unmarshal(body, &shaped) == nil {
		var nested struct {
			Message string `json:"message"`
		}
		var flat string
		switch {
		case len(shaped.Error) > 0 && json.Unmarshal(shaped.Error, &nested) == nil && nested.Message != "":
			return nested.Message
		case len(shaped.Error) > 0 && json.Unmarshal(shaped.Error, &flat) == nil && flat != "":
			return flat
		case shaped.Message != "":
			return shaped.Message
		case shaped.Detail != "":
			return shaped.Detail
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "empty response"
	}
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}
