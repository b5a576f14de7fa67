// Package client talks to a memarena server the way the browser does: session
// CRUD, attachment upload and document readiness, and three concurrent agent
// streams per round.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/soyeahso/memarena/internal/arena"
	"github.com/soyeahso/memarena/internal/chat"
	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/logging"
	"github.com/soyeahso/memarena/internal/version"
)

// Error is a non-2xx reply from the server.
type Error struct {
	Status  int
	Message string
	Issues  []chat.Issue
}

func (e *Error) Error() string {
	if len(e.Issues) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.Path + ": " + is.Message
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

// Client is a memarena API client acting as one user.
type Client struct {
	baseURL string
	userID  string
	http    *http.Client
	// transfer uploads parts straight to their presigned URLs.
	transfer *http.Client
	log      *logging.Logger
}

// New creates a client. httpClient must not carry a timeout shorter than the
// longest expected stream; nil uses one without a timeout.
func New(baseURL, userID string, httpClient *http.Client, log *logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		userID:   userID,
		http:     httpClient,
		transfer: &http.Client{Timeout: 10 * time.Minute},
		log:      log.Sub("client"),
	}
}

// UserID is the user the client acts as.
func (c *Client) UserID() string { return c.userID }

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}
	return req, nil
}

// call sends a request, returning the raw status and body.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body any) (int, []byte, error) {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("api call")
	return resp.StatusCode, data, nil
}

// doJSON sends a request and decodes a 2xx reply into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	status, data, err := c.call(ctx, method, path, nil, body)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return decodeError(status, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var body struct {
		Message string       `json:"message"`
		Issues  []chat.Issue `json:"issues"`
	}
	_ = json.Unmarshal(data, &body)
	if body.Message == "" {
		body.Message = http.StatusText(status)
	}
	return &Error{Status: status, Message: body.Message, Issues: body.Issues}
}

// Ping checks that the server is up.
func (c *Client) Ping(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/api/ping", nil, nil)
}

// Catalogue is the server's model and agent listing.
type Catalogue struct {
	Models       []domain.Model `json:"models"`
	DefaultModel string         `json:"defaultModel"`
	Agents       []domain.Agent `json:"agents"`
}

// Models fetches the model catalogue.
func (c *Client) Models(ctx context.Context) (*Catalogue, error) {
	var out Catalogue
	if err := c.doJSON(ctx, http.MethodGet, "/api/models", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Sessions ---

func sessionPath(id string) string { return "/api/sessions/" + url.PathEscape(id) }

// CreateSession creates a session. An empty id lets the server pick one.
func (c *Client) CreateSession(ctx context.Context, id string) (*domain.Session, error) {
	var out domain.Session
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions", map[string]string{"id": id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions returns the user's sessions, most recent first.
func (c *Client) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	var out []domain.SessionSummary
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RenameSession sets a session's title.
func (c *Client) RenameSession(ctx context.Context, id, title string) (*domain.Session, error) {
	var out struct {
		Session *domain.Session `json:"session"`
	}
	if err := c.doJSON(ctx, http.MethodPatch, sessionPath(id), map[string]string{"title": title}, &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

// DeleteSession removes a session and its messages.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, sessionPath(id), nil, nil)
}

// History returns the session's stored messages in creation order.
func (c *Client) History(ctx context.Context, sessionID string) ([]chat.MessageDTO, error) {
	var out []chat.MessageDTO
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(sessionID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveUserMessage stores the user's turn and returns its id.
func (c *Client) SaveUserMessage(ctx context.Context, sessionID, content string, atts []domain.Attachment) (string, error) {
	var out struct {
		UserMessageID string `json:"userMessageId"`
	}
	body := map[string]any{"content": content, "attachments": atts}
	if err := c.doJSON(ctx, http.MethodPost, sessionPath(sessionID)+"/messages", body, &out); err != nil {
		return "", err
	}
	return out.UserMessageID, nil
}

// --- Profile ---

// Profile is the signed-in user and their Arena profile.
type Profile struct {
	User         *arena.User          `json:"user"`
	ArenaProfile *domain.ArenaProfile `json:"arenaProfile"`
}

// Profile exchanges a main-domain session cookie for the user's profile.
func (c *Client) Profile(ctx context.Context, cookieName, session string) (*Profile, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/profile", nil, nil)
	if err != nil {
		return nil, err
	}
	req.AddCookie(&http.Cookie{Name: cookieName, Value: session})
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp.StatusCode, data)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}
