package domain

import "time"

// Session is one chat conversation owned by a user.
type Session struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId,omitempty"`
	Title     string         `json:"title,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionSummary is the sidebar view of a session.
type SessionSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TitleLimit is the number of characters of the user's text kept as the
// session title.
const TitleLimit = 100

// TitleFrom truncates text to TitleLimit runes.
func TitleFrom(text string) string {
	r := []rune(text)
	if len(r) > TitleLimit {
		r = r[:TitleLimit]
	}
	return string(r)
}
