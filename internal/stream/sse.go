package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ProtocolHeader announces the UI message stream protocol version.
const ProtocolHeader = "x-vercel-ai-ui-message-stream"

// doneSentinel closes a UI message stream.
const doneSentinel = "[DONE]"

// SetHeaders writes the response headers for an SSE fragment stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set(ProtocolHeader, "v1")
}

// Encoder writes fragments as SSE data lines.
type Encoder struct {
	w io.Writer
	f http.Flusher
}

// NewEncoder creates an encoder. If w is an http.Flusher every fragment is
// flushed as soon as it is written.
func NewEncoder(w io.Writer) *Encoder {
	f, _ := w.(http.Flusher)
	return &Encoder{w: w, f: f}
}

// Write encodes one fragment.
func (e *Encoder) Write(frag Fragment) error {
	data, err := json.Marshal(frag)
	if err != nil {
		return fmt.Errorf("encode fragment: %w", err)
	}
	return e.line(string(data))
}

// Close writes the end-of-stream sentinel.
func (e *Encoder) Close() error { return e.line(doneSentinel) }

func (e *Encoder) line(data string) error {
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if e.f != nil {
		e.f.Flush()
	}
	return nil
}

// SSEEvent is one dispatched server-sent event.
type SSEEvent struct {
	Name string // value of the "event:" field, empty when absent
	Data string // "data:" lines joined with newlines
}

// Done reports whether the event is the end-of-stream sentinel.
func (e SSEEvent) Done() bool { return e.Data == doneSentinel }

// Scanner reads server-sent events from a stream.
type Scanner struct {
	scanner *bufio.Scanner
	event   SSEEvent
}

// NewScanner creates an SSE scanner. Lines up to 1 MiB are accepted.
func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Scanner{scanner: s}
}

// Next advances to the next event. It returns false at end of input or on
// a read error; see Err.
func (s *Scanner) Next() bool {
	var name string
	var data []string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if data == nil && name == "" {
				continue
			}
			s.event = SSEEvent{Name: name, Data: strings.Join(data, "\n")}
			return true
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
	// A final event without the trailing blank line still counts.
	if data != nil {
		s.event = SSEEvent{Name: name, Data: strings.Join(data, "\n")}
		return true
	}
	return false
}

// Event returns the last event read by Next.
func (s *Scanner) Event() SSEEvent { return s.event }

// Err returns the first read error, if any.
func (s *Scanner) Err() error { return s.scanner.Err() }

// DecodeFragment parses the data of one SSE event into a fragment.
func DecodeFragment(data string) (Fragment, error) {
	var f Fragment
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return f, fmt.Errorf("decode fragment: %w", err)
	}
	return f, nil
}
