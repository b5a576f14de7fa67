package rounds

import "github.com/soyeahso/memarena/internal/domain"

// Round is one user message and each agent's reply to it. Replies[i] is nil
// when agent i has no assistant message for the round yet.
type Round struct {
	User    domain.UIMessage
	Replies []*domain.UIMessage
}

// BuildRounds assembles rounds from the per-agent message lists. The first
// list decides which user messages form rounds; the other agents' replies are
// looked up by the user message's id.
func BuildRounds(lists [][]domain.UIMessage) []Round {
	if len(lists) == 0 {
		return nil
	}
	first := lists[0]
	var out []Round
	for i, msg := range first {
		if msg.Role != domain.RoleUser {
			continue
		}
		r := Round{User: msg, Replies: make([]*domain.UIMessage, len(lists))}
		r.Replies[0] = replyAt(first, i+1)
		for a := 1; a < len(lists); a++ {
			if j := indexOf(lists[a], msg.ID); j >= 0 {
				r.Replies[a] = replyAt(lists[a], j+1)
			}
		}
		out = append(out, r)
	}
	return out
}

func indexOf(msgs []domain.UIMessage, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func replyAt(msgs []domain.UIMessage, i int) *domain.UIMessage {
	if i >= len(msgs) || msgs[i].Role != domain.RoleAssistant {
		return nil
	}
	m := msgs[i]
	return &m
}

// Complete reports whether every agent has replied and none is still
// streaming.
func (r Round) Complete(statuses []Status) bool {
	for i, reply := range r.Replies {
		if reply == nil {
			return false
		}
		if i < len(statuses) && statuses[i].Active() {
			return false
		}
	}
	return true
}

// Cell is what one agent's column shows for a round.
type Cell struct {
	ErrorText string
	Waiting   bool
	Text      string
}

// CellView renders agent i's cell. A live stream error is shown only on the
// last round and only while the agent has no assistant message there; a
// persisted error reply is shown as an error too.
func CellView(r Round, i int, last bool, status Status, liveErr string) Cell {
	var reply *domain.UIMessage
	if i < len(r.Replies) {
		reply = r.Replies[i]
	}

	var cell Cell
	switch {
	case reply == nil && last && liveErr != "":
		cell.ErrorText = liveErr
	case reply != nil && isError(reply):
		cell.ErrorText = reply.Text()
	}
	if reply == nil && status.Active() {
		cell.Waiting = true
	}
	if reply != nil && !isError(reply) {
		cell.Text = reply.Text()
	}
	return cell
}

func isError(m *domain.UIMessage) bool {
	v, _ := m.Metadata[domain.MetaIsError].(bool)
	return v
}

// Partition rebuilds the per-agent lists from a flat session history. Each
// list holds every user message followed by that agent's reply when it has
// one.
func Partition(msgs []domain.Message, agents []domain.AgentID) [][]domain.UIMessage {
	type round struct {
		user    domain.Message
		replies map[domain.AgentID]domain.Message
	}
	var rounds []round
	for _, m := range msgs {
		if m.Role != domain.RoleUser {
			continue
		}
		r := round{user: m, replies: map[domain.AgentID]domain.Message{}}
		for _, a := range msgs {
			if a.Role != domain.RoleAssistant || a.ReplyToMessageID != m.ID {
				continue
			}
			if _, seen := r.replies[a.AgentID]; !seen {
				r.replies[a.AgentID] = a
			}
		}
		rounds = append(rounds, r)
	}

	out := make([][]domain.UIMessage, len(agents))
	for i, agent := range agents {
		list := []domain.UIMessage{}
		for _, r := range rounds {
			list = append(list, domain.UIMessageFrom(r.user))
			if a, ok := r.replies[agent]; ok {
				list = append(list, domain.UIMessageFrom(a))
			}
		}
		out[i] = list
	}
	return out
}
