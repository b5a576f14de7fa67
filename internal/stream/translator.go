package stream

import "fmt"

// EventType enumerates upstream block-protocol events.
type EventType int

const (
	EventMessageStart EventType = iota
	EventBlockStart
	EventBlockDelta
	EventBlockStop
	EventMessageDelta
	EventMessageStop
	EventError
	EventEOF
	numEvents
)

var eventNames = [...]string{
	EventMessageStart: "message_start",
	EventBlockStart:   "block_start",
	EventBlockDelta:   "block_delta",
	EventBlockStop:    "block_stop",
	EventMessageDelta: "message_delta",
	EventMessageStop:  "message_stop",
	EventError:        "error",
	EventEOF:          "eof",
}

func (e EventType) String() string {
	if e >= 0 && e < numEvents {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Block types carried on EventBlockStart.
const (
	BlockText  = "text"
	BlockOther = "other"
)

// Event is an upstream streaming event in block-protocol terms. Providers
// that are not block based are mapped onto it by their client.
type Event struct {
	Type       EventType
	Index      int    // content block index
	BlockType  string // EventBlockStart only
	Text       string // EventBlockDelta text
	StopReason string // EventMessageDelta upstream stop reason
	Err        string // EventError message
}

type state int

const (
	stateClosed state = iota // no text block open
	stateOpen                // text block open
	stateDone                // terminal fragment emitted
	numStates
)

var stateNames = [...]string{stateClosed: "closed", stateOpen: "open", stateDone: "done"}

func (s state) String() string { return stateNames[s] }

// transition handles one event in one state and returns the next state.
type transition func(t *Translator, ev Event) ([]Fragment, state)

// transitions is the full table. Every (state, event) pair has an entry.
var transitions = [numStates][numEvents]transition{
	stateClosed: {
		EventMessageStart: (*Translator).start,
		EventBlockStart:   (*Translator).openIfText,
		EventBlockDelta:   (*Translator).openImplicit,
		EventBlockStop:    stay,
		EventMessageDelta: (*Translator).recordStop,
		EventMessageStop:  (*Translator).finish,
		EventError:        (*Translator).fail,
		EventEOF:          (*Translator).finish,
	},
	stateOpen: {
		EventMessageStart: stay,
		EventBlockStart:   (*Translator).reopen,
		EventBlockDelta:   (*Translator).delta,
		EventBlockStop:    (*Translator).close,
		EventMessageDelta: (*Translator).recordStop,
		EventMessageStop:  (*Translator).closeAndFinish,
		EventError:        (*Translator).fail,
		EventEOF:          (*Translator).closeAndFinish,
	},
	stateDone: {
		EventMessageStart: stay,
		EventBlockStart:   stay,
		EventBlockDelta:   stay,
		EventBlockStop:    stay,
		EventMessageDelta: stay,
		EventMessageStop:  stay,
		EventError:        stay,
		EventEOF:          stay,
	},
}

// Translator turns upstream block events into fragments. Text is only
// emitted inside an open text block, and only blocks it opened get a
// text-end. Exactly one terminal fragment is produced.
type Translator struct {
	// UnknownError is used for error events without a message.
	UnknownError string

	messageID  string
	metadata   map[string]any
	state      state
	started    bool
	blockID    string
	stopReason string
}

// NewTranslator creates a translator for one assistant message.
func NewTranslator(messageID string, metadata map[string]any) *Translator {
	return &Translator{
		UnknownError: "Unknown upstream error",
		messageID:    messageID,
		metadata:     metadata,
	}
}

// Feed applies ev and returns the fragments it produces.
func (t *Translator) Feed(ev Event) []Fragment {
	if ev.Type < 0 || ev.Type >= numEvents {
		return nil
	}
	out, next := transitions[t.state][ev.Type](t, ev)
	t.state = next
	return out
}

// Done reports whether a terminal fragment has been produced.
func (t *Translator) Done() bool { return t.state == stateDone }

// Open reports whether a text block is open.
func (t *Translator) Open() bool { return t.state == stateOpen }

func stay(t *Translator, _ Event) ([]Fragment, state) { return nil, t.state }

func (t *Translator) start(_ Event) ([]Fragment, state) {
	if t.started {
		return nil, t.state
	}
	t.started = true
	return []Fragment{Start(t.messageID, t.metadata)}, t.state
}

func (t *Translator) openIfText(ev Event) ([]Fragment, state) {
	if ev.BlockType != BlockText {
		return nil, stateClosed
	}
	t.blockID = blockID(ev.Index)
	return []Fragment{TextStart(t.blockID)}, stateOpen
}

// openImplicit handles text arriving without a block start.
func (t *Translator) openImplicit(ev Event) ([]Fragment, state) {
	if ev.Text == "" {
		return nil, stateClosed
	}
	t.blockID = blockID(ev.Index)
	return []Fragment{TextStart(t.blockID), TextDelta(t.blockID, ev.Text)}, stateOpen
}

func (t *Translator) reopen(ev Event) ([]Fragment, state) {
	closed, _ := t.close(ev)
	opened, next := t.openIfText(ev)
	return append(closed, opened...), next
}

func (t *Translator) delta(ev Event) ([]Fragment, state) {
	if ev.Text == "" {
		return nil, stateOpen
	}
	return []Fragment{TextDelta(t.blockID, ev.Text)}, stateOpen
}

func (t *Translator) close(_ Event) ([]Fragment, state) {
	id := t.blockID
	t.blockID = ""
	return []Fragment{TextEnd(id)}, stateClosed
}

func (t *Translator) recordStop(ev Event) ([]Fragment, state) {
	if ev.StopReason != "" {
		t.stopReason = ev.StopReason
	}
	return nil, t.state
}

func (t *Translator) finish(_ Event) ([]Fragment, state) {
	return []Fragment{Finish(FinishReason(t.stopReason), t.metadata)}, stateDone
}

func (t *Translator) closeAndFinish(ev Event) ([]Fragment, state) {
	closed, _ := t.close(ev)
	done, next := t.finish(ev)
	return append(closed, done...), next
}

func (t *Translator) fail(ev Event) ([]Fragment, state) {
	msg := ev.Err
	if msg == "" {
		msg = t.UnknownError
	}
	return []Fragment{Error(msg)}, stateDone
}

func blockID(index int) string { return fmt.Sprintf("block-%d", index) }

// FinishReason maps an upstream stop reason to the stream's vocabulary.
func FinishReason(upstream string) string {
	switch upstream {
	case "", "end_turn", "stop", "stop_sequence":
		return "stop"
	case "max_tokens", "length":
		return "length"
	case "tool_use", "tool_calls":
		return "tool-calls"
	case "content_filter", "refusal":
		return "content-filter"
	default:
		return "other"
	}
}
