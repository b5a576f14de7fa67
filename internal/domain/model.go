package domain

import "strings"

// Model families decide which upstream protocol a model is spoken to with.
const (
	FamilyAnthropic = "anthropic"
	FamilyOpenAI    = "openai"
)

// DefaultModel is used when a client asks for an unknown model.
const DefaultModel = "gpt-5-mini"

// Model is a selectable LLM. One model is chosen per round for all agents.
type Model struct {
	ProviderID   string `json:"providerId"`
	DisplayName  string `json:"displayName"`
	Group        string `json:"group"`
	LogoProvider string `json:"logoProvider"`
}

// Models returns the model catalogue.
func Models() []Model {
	return []Model{
		{ProviderID: "claude-haiku-4-5-20251001", DisplayName: "Claude 4.5 Haiku", Group: "Anthropic", LogoProvider: FamilyAnthropic},
		{ProviderID: "claude-sonnet-4-5-20250929", DisplayName: "Claude 4.5 Sonnet", Group: "Anthropic", LogoProvider: FamilyAnthropic},
		{ProviderID: "gpt-5-mini", DisplayName: "GPT-5 Mini", Group: "OpenAI", LogoProvider: FamilyOpenAI},
		{ProviderID: "gpt-5.2", DisplayName: "GPT-5.2", Group: "OpenAI", LogoProvider: FamilyOpenAI},
	}
}

// ModelFamily returns the upstream family for a model id.
func ModelFamily(modelID string) string {
	if strings.HasPrefix(modelID, "claude") {
		return FamilyAnthropic
	}
	return FamilyOpenAI
}

// NormalizeModel returns modelID if it is in the catalogue, DefaultModel otherwise.
func NormalizeModel(modelID string) string {
	for _, m := range Models() {
		if m.ProviderID == modelID {
			return modelID
		}
	}
	return DefaultModel
}
