package agent

import (
	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/llm"
)

// History normalizes UI messages into turns. Only text survives; file
// references are resolved separately by the dispatcher.
func History(msgs []domain.UIMessage) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleUser, domain.RoleAssistant, domain.RoleSystem:
			turns = append(turns, Turn{Role: m.Role, Text: m.Text()})
		}
	}
	return turns
}

// LastUser returns the index of the last user turn, or -1.
func LastUser(turns []Turn) int {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == domain.RoleUser {
			return i
		}
	}
	return -1
}

// toLLM converts turns into client messages.
func toLLM(turns []Turn) []llm.Message {
	msgs := make([]llm.Message, len(turns))
	for i, t := range turns {
		msgs[i] = llm.Message{Role: t.Role, Text: t.Text, Files: t.Files}
	}
	return msgs
}

// textOnly drops attached files.
func textOnly(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = Turn{Role: t.Role, Text: t.Text}
	}
	return out
}

// lastUserText is the query used for memory lookups.
func lastUserText(turns []Turn) string {
	if i := LastUser(turns); i >= 0 {
		return turns[i].Text
	}
	return ""
}
