package domain

// MemorylakeProfile holds the Memory Lake ids a user's requests are scoped to.
type MemorylakeProfile struct {
	Mem0rgID   string `json:"mem0rgId"`
	Mem0ProjID string `json:"mem0ProjId"`
	DatasetID  string `json:"datasetId"`
}

// Headers returns the Memory Lake request headers for p.
func (p MemorylakeProfile) Headers() map[string]string {
	return map[string]string{
		"x-memorylake-org-id":     p.Mem0rgID,
		"x-memorylake-project-id": p.Mem0ProjID,
		"x-memorylake-dataset-id": p.DatasetID,
	}
}

// ParseMemorylakeProfile extracts a profile from a loosely typed object.
// All three ids must be non-empty strings; otherwise it returns nil.
func ParseMemorylakeProfile(raw map[string]any) *MemorylakeProfile {
	p := MemorylakeProfile{
		Mem0rgID:   nonEmpty(raw, "mem0rgId"),
		Mem0ProjID: nonEmpty(raw, "mem0ProjId"),
		DatasetID:  nonEmpty(raw, "datasetId"),
	}
	if p.Mem0rgID == "" || p.Mem0ProjID == "" || p.DatasetID == "" {
		return nil
	}
	return &p
}

// nonEmpty returns the first key of raw holding a non-empty string.
func nonEmpty(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// ArenaProfile is a MemorylakeProfile plus the user's Arena project.
type ArenaProfile struct {
	MemorylakeProfile
	ProjID string `json:"projId,omitempty"`
}

// ParseArenaProfile accepts camelCase or snake_case keys.
func ParseArenaProfile(raw map[string]any) *ArenaProfile {
	p := ArenaProfile{
		MemorylakeProfile: MemorylakeProfile{
			Mem0rgID:   nonEmpty(raw, "mem0rgId", "mem0_org_id", "mem0OrgId"),
			Mem0ProjID: nonEmpty(raw, "mem0ProjId", "mem0_proj_id"),
			DatasetID:  nonEmpty(raw, "datasetId", "dataset_id"),
		},
		ProjID: nonEmpty(raw, "projId", "proj_id"),
	}
	if p.Mem0rgID == "" || p.Mem0ProjID == "" || p.DatasetID == "" {
		return nil
	}
	return &p
}
