package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// MetaIsError marks a message whose content is a persisted error text.
const MetaIsError = "isError"

// Attachment describes an uploaded file attached to a user message.
type Attachment struct {
	DriveItemID string `json:"drive_item_id,omitempty"`
	ObjectKey   string `json:"object_key,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Size        int64  `json:"size,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Message is a persisted user or assistant turn.
type Message struct {
	ID               string         `json:"id"`
	SessionID        string         `json:"sessionId"`
	Role             string         `json:"role"`
	AgentID          AgentID        `json:"agentId,omitempty"`
	ProviderID       string         `json:"providerId,omitempty"`
	Content          string         `json:"content"`
	Attachments      []Attachment   `json:"attachments,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	ReplyToMessageID string         `json:"replyToMessageId,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// IsError reports whether the content holds a persisted error text.
func (m Message) IsError() bool {
	v, _ := m.Metadata[MetaIsError].(bool)
	return v
}

// Part types understood in UI messages.
const (
	PartText    = "text"
	PartFileRef = "data-file-ref"
)

// FileRef is the data of a data-file-ref part.
type FileRef struct {
	DriveItemID string `json:"drive_item_id,omitempty"`
	ObjectKey   string `json:"object_key,omitempty"`
	URL         string `json:"url,omitempty"`
	Filename    string `json:"filename,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Part is one element of a UI message. Unknown part types are kept as-is so
// they can round-trip through the chat endpoint.
type Part struct {
	Type string   `json:"type"`
	Text *string  `json:"text,omitempty"`
	Data *FileRef `json:"data,omitempty"`
}

// TextPart builds a text part.
func TextPart(s string) Part { return Part{Type: PartText, Text: &s} }

// FileRefPart builds a data-file-ref part.
func FileRefPart(ref FileRef) Part { return Part{Type: PartFileRef, Data: &ref} }

// UnmarshalJSON accepts any part object; only text and data-file-ref fields
// are decoded.
func (p *Part) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type string          `json:"type"`
		Text json.RawMessage `json:"text"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = Part{Type: raw.Type}
	if raw.Type == PartText && len(raw.Text) > 0 {
		var s string
		if json.Unmarshal(raw.Text, &s) == nil {
			p.Text = &s
		}
	}
	if raw.Type == PartFileRef && len(raw.Data) > 0 {
		var ref FileRef
		if err := json.Unmarshal(raw.Data, &ref); err != nil {
			return err
		}
		p.Data = &ref
	}
	return nil
}

// UIMessage is the message shape exchanged with chat clients.
type UIMessage struct {
	ID       string         `json:"id,omitempty"`
	Role     string         `json:"role"`
	Parts    []Part         `json:"parts"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Text concatenates the text parts of m.
func (m UIMessage) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != nil {
			b.WriteString(*p.Text)
		}
	}
	return b.String()
}

// FileRefs returns the data-file-ref parts that carry a drive item id.
func (m UIMessage) FileRefs() []FileRef {
	var refs []FileRef
	for _, p := range m.Parts {
		if p.Type == PartFileRef && p.Data != nil && p.Data.DriveItemID != "" {
			refs = append(refs, *p.Data)
		}
	}
	return refs
}

// UIMessageFrom converts a stored message into its UI form: a text part
// followed by one data-file-ref part per attachment.
func UIMessageFrom(m Message) UIMessage {
	ui := UIMessage{ID: m.ID, Role: m.Role, Parts: []Part{TextPart(m.Content)}}
	for _, a := range m.Attachments {
		ui.Parts = append(ui.Parts, FileRefPart(FileRef{
			DriveItemID: a.DriveItemID,
			ObjectKey:   a.ObjectKey,
			Filename:    a.Filename,
			MimeType:    a.MimeType,
			Size:        a.Size,
		}))
	}
	meta := map[string]any{}
	if m.AgentID != "" {
		meta["agentId"] = string(m.AgentID)
	}
	if m.ProviderID != "" {
		meta["providerId"] = m.ProviderID
	}
	if v, ok := m.Metadata[MetaIsError].(bool); ok {
		meta[MetaIsError] = v
	}
	if len(meta) > 0 {
		ui.Metadata = meta
	}
	return ui
}
