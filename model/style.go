package model

import "strings"

// Style is one visual style definition loaded from the styles directory.
// Prompt carries a {subject} placeholder that Render substitutes with the
// converged object plus its aesthetic context.
type Style struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Model          string  `json:"model"`   // image model reference, e.g. owner/name
	Version        string  `json:"version"` // optional pinned version hash
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negativePrompt,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	Guidance       float64 `json:"guidance,omitempty"`
	LoRA           string  `json:"lora,omitempty"`
	Seed           *int64  `json:"seed,omitempty"`
	Default        bool    `json:"default,omitempty"` // fallback for playlists without a style
}

// Render substitutes the {subject} placeholder with the given subject text.
// A style without the placeholder gets the subject appended, so a prompt is
// never silently missing its subject.
func (s *Style) Render(subject string) string {
	if strings.Contains(s.Prompt, "{subject}") {
		return strings.ReplaceAll(s.Prompt, "{subject}", subject)
	}
	return strings.TrimSpace(s.Prompt) + ", " + subject
}
