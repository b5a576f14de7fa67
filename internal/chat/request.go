// Package chat runs one agent's reply for the chat endpoint: it validates the
// request, records the assistant row, streams the dispatcher's fragments and
// persists the outcome.
package chat

import (
	"encoding/json"
	"strconv"

	"github.com/soyeahso/memarena/internal/domain"
)

// Issue is one failed field check.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError is a request the server refuses before streaming starts.
type ValidationError struct {
	Status  int
	Message string
	Issues  []Issue
}

func (e *ValidationError) Error() string { return e.Message }

func badRequest(msg string, issues ...Issue) *ValidationError {
	return &ValidationError{Status: 400, Message: msg, Issues: issues}
}

// Request is a validated chat body.
type Request struct {
	ID                string             `json:"id"`
	Messages          []domain.UIMessage `json:"messages"`
	AgentID           domain.AgentID     `json:"agentId"`
	ModelID           string             `json:"modelId"`
	MemorylakeProfile map[string]any     `json:"memorylakeProfile,omitempty"`
}

// Last returns the final message of the request.
func (r *Request) Last() domain.UIMessage { return r.Messages[len(r.Messages)-1] }

type rawBody struct {
	ID                json.RawMessage `json:"id"`
	Messages          json.RawMessage `json:"messages"`
	AgentID           json.RawMessage `json:"agentId"`
	ModelID           json.RawMessage `json:"modelId"`
	MemorylakeProfile json.RawMessage `json:"memorylakeProfile"`
}

type rawMessage struct {
	ID       json.RawMessage `json:"id"`
	Role     json.RawMessage `json:"role"`
	Parts    json.RawMessage `json:"parts"`
	Metadata json.RawMessage `json:"metadata"`
}

// ParseRequest decodes and validates a chat body. Every failure is a
// *ValidationError.
func ParseRequest(body []byte) (*Request, error) {
	if !json.Valid(body) {
		return nil, badRequest("Bad Request")
	}
	var raw rawBody
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, badRequest("Validation failed", Issue{Path: "", Message: "expected object"})
	}

	var req Request
	var issues []Issue
	add := func(path, msg string) { issues = append(issues, Issue{Path: path, Message: msg}) }

	if s, ok := str(raw.ID); ok && s != "" {
		req.ID = s
	} else {
		add("id", "id (sessionId) required")
	}

	var msgs []json.RawMessage
	if present(raw.Messages) && json.Unmarshal(raw.Messages, &msgs) == nil && len(msgs) > 0 {
		for i, m := range msgs {
			msg, msgIssues := parseMessage("messages."+strconv.Itoa(i), m)
			issues = append(issues, msgIssues...)
			req.Messages = append(req.Messages, msg)
		}
	} else {
		add("messages", "messages required")
	}

	if s, ok := str(raw.AgentID); ok && domain.AgentID(s).Valid() {
		req.AgentID = domain.AgentID(s)
	} else {
		add("agentId", "agentId required and must be memorylake | mem0 | supermemory")
	}

	if s, ok := str(raw.ModelID); ok && s != "" {
		req.ModelID = s
	} else {
		add("modelId", "modelId required")
	}

	if present(raw.MemorylakeProfile) {
		if err := json.Unmarshal(raw.MemorylakeProfile, &req.MemorylakeProfile); err != nil || req.MemorylakeProfile == nil {
			add("memorylakeProfile", "memorylakeProfile must be an object")
		}
	}

	if len(issues) > 0 {
		return nil, badRequest("Validation failed", issues...)
	}
	if req.Last().Role != domain.RoleUser {
		return nil, badRequest("last message must be user")
	}
	return &req, nil
}

func parseMessage(path string, data json.RawMessage) (domain.UIMessage, []Issue) {
	var msg domain.UIMessage
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return msg, []Issue{{Path: path, Message: "expected object"}}
	}
	var issues []Issue
	if present(raw.ID) {
		if s, ok := str(raw.ID); ok {
			msg.ID = s
		} else {
			issues = append(issues, Issue{Path: path + ".id", Message: "id must be a string"})
		}
	}
	switch s, _ := str(raw.Role); s {
	case domain.RoleUser, domain.RoleAssistant, domain.RoleSystem:
		msg.Role = s
	default:
		issues = append(issues, Issue{Path: path + ".role", Message: "role must be user | system | assistant"})
	}
	if !present(raw.Parts) || json.Unmarshal(raw.Parts, &msg.Parts) != nil || msg.Parts == nil {
		issues = append(issues, Issue{Path: path + ".parts", Message: "parts required"})
	}
	if present(raw.Metadata) {
		if err := json.Unmarshal(raw.Metadata, &msg.Metadata); err != nil {
			issues = append(issues, Issue{Path: path + ".metadata", Message: "metadata must be an object"})
		}
	}
	return msg, issues
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func str(raw json.RawMessage) (string, bool) {
	if !present(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
