package agent

import (
	"fmt"
	"strings"
	"time"
)

// PromptConfig controls memory prompt generation.
type PromptConfig struct {
	AgentName string
	Now       time.Time
	// Memories are individual facts recalled for this question.
	Memories []string
	// Static and Dynamic describe the user's long-lived and recent profile.
	Static  []string
	Dynamic []string
}

// Empty reports whether there is nothing to tell the model.
func (c PromptConfig) Empty() bool {
	return len(c.Memories)+len(c.Static)+len(c.Dynamic) == 0
}

// BuildSystemPrompt renders recalled memories as a system prompt. It returns
// "" when there is nothing to inject.
func BuildSystemPrompt(cfg PromptConfig) string {
	if cfg.Empty() {
		return ""
	}
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current date: %s\n", now.Format("2006-01-02"))
	if cfg.AgentName != "" {
		fmt.Fprintf(&b, "Memory provider: %s\n", cfg.AgentName)
	}
	b.WriteString("\nUse the following information about the user when it is relevant. ")
	b.WriteString("Do not mention that it was retrieved from memory.\n")

	section(&b, "User profile", cfg.Static)
	section(&b, "Recent context", cfg.Dynamic)
	section(&b, "Relevant memories", cfg.Memories)
	return b.String()
}

func section(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n", title)
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			fmt.Fprintf(b, "- %s\n", it)
		}
	}
}
