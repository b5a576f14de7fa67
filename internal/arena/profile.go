package arena

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/version"
)

// Profile fetches the user's Arena profile.
func (c *Client) Profile(ctx context.Context, userID string) (*domain.ArenaProfile, error) {
	resp, err := c.Do(ctx, http.MethodPost, ProfilePath, nil, userID, map[string]any{})
	if err != nil {
		return nil, err
	}

	var body map[string]any
	_ = json.Unmarshal(resp.Body, &body)
	if resp.Status < 200 || resp.Status > 299 {
		msg, _ := body["message"].(string)
		if msg == "" {
			msg = "Profile request failed"
		}
		return nil, &APIError{Status: resp.Status, Message: msg}
	}

	raw := body
	if data, ok := body["data"].(map[string]any); ok {
		raw = data
	}
	p := domain.ParseArenaProfile(raw)
	if p == nil {
		return nil, &APIError{Status: resp.Status, Message: "Invalid arena profile response"}
	}
	return p, nil
}

// ErrIdentityNotConfigured is returned when no main domain URL is set.
var ErrIdentityNotConfigured = errors.New("MAIN_DOMAIN_API_URL is not configured")

// User is the signed-in user as reported by the main domain.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar_url"`
}

// Identity resolves a main-domain session cookie into a user.
type Identity struct {
	baseURL    string
	cookieName string
	client     *http.Client
}

// NewIdentity creates an identity client. cookieName defaults to "session".
func NewIdentity(baseURL, cookieName string, httpClient *http.Client) *Identity {
	if cookieName == "" {
		cookieName = "session"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Identity{baseURL: strings.TrimRight(baseURL, "/"), cookieName: cookieName, client: httpClient}
}

// CookieName is the session cookie the main domain sets.
func (i *Identity) CookieName() string { return i.cookieName }

// Self returns the user owning the session cookie value.
func (i *Identity) Self(ctx context.Context, session string) (*User, error) {
	if i.baseURL == "" {
		return nil, ErrIdentityNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.baseURL+"/api/user/self", nil)
	if err != nil {
		return nil, fmt.Errorf("create identity request: %w", err)
	}
	req.Header.Set("Cookie", i.cookieName+"="+session)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read identity response: %w", err)
	}

	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Data    *User  `json:"data"`
	}
	_ = json.Unmarshal(data, &out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !out.Success || out.Data == nil {
		msg := out.Message
		if msg == "" {
			msg = "User profile request failed"
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return out.Data, nil
}
