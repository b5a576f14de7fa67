package chat

import (
	"strings"
	"sync"
	"time"
)

// FlusherConfig controls when buffered deltas are handed to the sink.
type FlusherConfig struct {
	// MaxBufferBytes triggers a flush when the buffer reaches this size.
	// Default: 512 bytes.
	MaxBufferBytes int

	// IdleTimeout triggers a flush when no new delta arrives within this duration.
	// Default: 1.5 seconds.
	IdleTimeout time.Duration
}

// ContentFlusher accumulates streamed text and passes it on in chunks at
// natural boundaries (paragraphs, sentences, size limit, idle timeout). The
// chunks concatenate to exactly the text received; nothing is trimmed.
type ContentFlusher struct {
	cfg  FlusherConfig
	sink func(chunk string)

	mu      sync.Mutex
	buf     strings.Builder
	timer   *time.Timer
	stopped bool
	flushed int
}

// NewContentFlusher creates a flusher that calls sink with each chunk. sink
// runs with the flusher's lock held and never after Stop returns.
func NewContentFlusher(cfg FlusherConfig, sink func(chunk string)) *ContentFlusher {
	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = 512
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 1500 * time.Millisecond
	}
	return &ContentFlusher{cfg: cfg, sink: sink}
}

// OnDelta appends a text delta and flushes if a boundary is reached.
func (f *ContentFlusher) OnDelta(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}

	f.buf.WriteString(text)

	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.cfg.IdleTimeout, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.stopped {
			f.flushLocked()
		}
	})

	f.checkFlushLocked()
}

// Stop discards whatever is buffered and disables further flushes.
func (f *ContentFlusher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	if f.timer != nil {
		f.timer.Stop()
	}
	f.buf.Reset()
}

// Flushed returns the number of chunks sent so far.
func (f *ContentFlusher) Flushed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushed
}

func (f *ContentFlusher) checkFlushLocked() {
	content := f.buf.String()

	if len(content) >= f.cfg.MaxBufferBytes {
		f.flushLocked()
		return
	}

	// Paragraph boundary
	if idx := strings.LastIndex(content, "\n\n"); idx >= 0 {
		f.flushAtLocked(idx + 2)
		return
	}

	if pos := lastSentenceEnd(content); pos > 0 {
		f.flushAtLocked(pos)
	}
}

func (f *ContentFlusher) flushAtLocked(pos int) {
	content := f.buf.String()
	if pos > len(content) {
		pos = len(content)
	}
	if pos == 0 {
		return
	}
	f.sendLocked(content[:pos])
	f.buf.Reset()
	f.buf.WriteString(content[pos:])
}

func (f *ContentFlusher) flushLocked() {
	if f.buf.Len() == 0 {
		return
	}
	f.sendLocked(f.buf.String())
	f.buf.Reset()
}

func (f *ContentFlusher) sendLocked(chunk string) {
	f.sink(chunk)
	f.flushed++
}

// lastSentenceEnd returns the byte position just past the last sentence-ending
// punctuation (. ! ?) that is followed by a space or newline, or -1 if there
// is none past the first 40 bytes.
func lastSentenceEnd(s string) int {
	best := -1
	for i := 0; i < len(s)-1; i++ {
		if (s[i] == '.' || s[i] == '!' || s[i] == '?') &&
			(s[i+1] == ' ' || s[i+1] == '\n') {
			best = i + 1
		}
	}
	if best > 40 {
		return best
	}
	return -1
}
