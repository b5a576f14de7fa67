// Package stream defines the fragment sequence agents produce and the pieces
// that move it around: the upstream block translator, the SSE codec and the
// terminal guard.
package stream

import "strings"

// Kind is the type tag of a fragment.
type Kind string

const (
	KindStart     Kind = "start"
	KindTextStart Kind = "text-start"
	KindTextDelta Kind = "text-delta"
	KindTextEnd   Kind = "text-end"
	KindFinish    Kind = "finish"
	KindError     Kind = "error"
)

// Fragment is one element of an agent's reply stream. The JSON form matches
// the UI message stream protocol spoken to browsers.
type Fragment struct {
	Type            Kind           `json:"type"`
	ID              string         `json:"id,omitempty"`
	MessageID       string         `json:"messageId,omitempty"`
	Delta           string         `json:"delta,omitempty"`
	FinishReason    string         `json:"finishReason,omitempty"`
	ErrorText       string         `json:"errorText,omitempty"`
	MessageMetadata map[string]any `json:"messageMetadata,omitempty"`
}

// Terminal reports whether f ends a stream.
func (f Fragment) Terminal() bool {
	return f.Type == KindFinish || f.Type == KindError
}

func Start(messageID string, metadata map[string]any) Fragment {
	return Fragment{Type: KindStart, MessageID: messageID, MessageMetadata: metadata}
}

func TextStart(id string) Fragment { return Fragment{Type: KindTextStart, ID: id} }

func TextDelta(id, delta string) Fragment {
	return Fragment{Type: KindTextDelta, ID: id, Delta: delta}
}

func TextEnd(id string) Fragment { return Fragment{Type: KindTextEnd, ID: id} }

func Finish(reason string, metadata map[string]any) Fragment {
	return Fragment{Type: KindFinish, FinishReason: reason, MessageMetadata: metadata}
}

func Error(text string) Fragment { return Fragment{Type: KindError, ErrorText: text} }

// Text concatenates the text deltas of fs in order.
func Text(fs []Fragment) string {
	var b strings.Builder
	for _, f := range fs {
		if f.Type == KindTextDelta {
			b.WriteString(f.Delta)
		}
	}
	return b.String()
}

// Single returns a closed channel holding just f.
func Single(f Fragment) <-chan Fragment {
	ch := make(chan Fragment, 1)
	ch <- f
	close(ch)
	return ch
}
