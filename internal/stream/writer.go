package stream

import (
	"errors"
	"sync"
)

// ErrTerminated is returned by a Guard for writes after a terminal fragment.
var ErrTerminated = errors.New("stream already terminated")

// Writer receives the fragments of one outbound stream.
type Writer interface {
	Write(Fragment) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(Fragment) error

func (fn WriterFunc) Write(f Fragment) error { return fn(f) }

// Guard enforces the stream contract on a Writer: nothing after a terminal
// fragment, and at most one terminal.
type Guard struct {
	mu         sync.Mutex
	w          Writer
	terminated bool
	terminal   Fragment
}

// NewGuard wraps w.
func NewGuard(w Writer) *Guard { return &Guard{w: w} }

// Write forwards f unless the stream has already terminated.
func (g *Guard) Write(f Fragment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.terminated {
		return ErrTerminated
	}
	if f.Terminal() {
		g.terminated = true
		g.terminal = f
	}
	return g.w.Write(f)
}

// Terminated reports whether a terminal fragment has been written.
func (g *Guard) Terminated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.terminated
}

// Terminal returns the terminal fragment, if one was written.
func (g *Guard) Terminal() (Fragment, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.terminal, g.terminated
}

// Collector records fragments in memory.
type Collector struct {
	mu        sync.Mutex
	fragments []Fragment
}

func (c *Collector) Write(f Fragment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fragments = append(c.fragments, f)
	return nil
}

// Fragments returns a copy of everything written so far.
func (c *Collector) Fragments() []Fragment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Fragment, len(c.fragments))
	copy(out, c.fragments)
	return out
}

// Drain reads ch until it is closed and returns what it held.
func Drain(ch <-chan Fragment) []Fragment {
	var out []Fragment
	for f := range ch {
		out = append(out, f)
	}
	return out
}
