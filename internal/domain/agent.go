package domain

// AgentID names one of the memory-augmented agents.
type AgentID string

const (
	AgentMemoryLake  AgentID = "memorylake"
	AgentMem0        AgentID = "mem0"
	AgentSupermemory AgentID = "supermemory"
)

// Agent describes an agent shown side by side in a round.
type Agent struct {
	ID          AgentID `json:"agentId"`
	DisplayName string  `json:"displayName"`
}

// Agents lists the agents in display order. The first one drives round
// assembly.
var Agents = []Agent{
	{ID: AgentMemoryLake, DisplayName: "MemoryLake"},
	{ID: AgentMem0, DisplayName: "Mem0"},
	{ID: AgentSupermemory, DisplayName: "Supermemory"},
}

// AgentIDs returns the agent ids in display order.
func AgentIDs() []AgentID {
	ids := make([]AgentID, len(Agents))
	for i, a := range Agents {
		ids[i] = a.ID
	}
	return ids
}

// Valid reports whether id is one of the known agents.
func (id AgentID) Valid() bool {
	for _, a := range Agents {
		if a.ID == id {
			return true
		}
	}
	return false
}
