// Package relay carries a just-composed message across the creation of a new
// session, so the three agent streams start only once the session exists.
package relay

import (
	"encoding/json"
	"fmt"

	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/logging"
)

// KeyPrefix prefixes every relay key; the session id completes it.
const KeyPrefix = "chat-pending-streams"

// Key returns the storage key for a session's pending send.
func Key(sessionID string) string { return KeyPrefix + "-" + sessionID }

// Pending is a message waiting for its session to be ready.
type Pending struct {
	ModelID     string              `json:"modelId"`
	Text        string              `json:"text"`
	Attachments []domain.Attachment `json:"attachments"`
}

// Storage is ephemeral key/value storage for relay entries.
type Storage interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// Relay stores at most one pending send per session.
type Relay struct {
	storage Storage
	log     *logging.Logger
}

// New creates a relay over storage.
func New(storage Storage, log *logging.Logger) *Relay {
	return &Relay{storage: storage, log: log.Sub("relay")}
}

// Put records p for sessionID, replacing any earlier entry. If the write
// fails the entry is removed so no half-written value is left behind.
func (r *Relay) Put(sessionID string, p Pending) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pending send: %w", err)
	}
	key := Key(sessionID)
	if err := r.storage.Set(key, data); err != nil {
		_ = r.storage.Delete(key)
		return fmt.Errorf("store pending send: %w", err)
	}
	return nil
}

// Take returns and clears the pending send for sessionID. A missing,
// unreadable or malformed entry yields ok == false; malformed entries are
// deleted.
func (r *Relay) Take(sessionID string) (p Pending, ok bool) {
	key := Key(sessionID)
	data, found, err := r.storage.Get(key)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("discarding unreadable pending send")
		_ = r.storage.Delete(key)
		return Pending{}, false
	}
	if !found {
		return Pending{}, false
	}
	if err := r.storage.Delete(key); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("failed to clear pending send")
	}
	if err := json.Unmarshal(data, &p); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("discarding malformed pending send")
		return Pending{}, false
	}
	return p, true
}
