package model

import "fmt"

// RankedCandidate is one of the final theme candidates produced by the
// convergence call.
type RankedCandidate struct {
	Object           string `json:"object"`
	AestheticContext string `json:"aestheticContext"`
	Reasoning        string `json:"reasoning"`
	Rank             int    `json:"rank"`
}

// ConvergenceResult is the outcome of the theme-selection call: three ranked
// candidates, the index of the chosen one and free-text notes on how claimed
// objects of sibling playlists were avoided.
type ConvergenceResult struct {
	Candidates     []RankedCandidate `json:"candidates"`
	SelectedIndex  int               `json:"selectedIndex"`
	CollisionNotes string            `json:"collisionNotes"`
}

// Validate rejects structurally broken convergence output. A malformed
// response must fail the run; it is never clamped to some arbitrary candidate.
func (c *ConvergenceResult) Validate() error {
	if len(c.Candidates) == 0 {
		return fmt.Errorf("convergence returned no candidates")
	}
	if c.SelectedIndex < 0 || c.SelectedIndex >= len(c.Candidates) {
		return fmt.Errorf("convergence selectedIndex %d out of range for %d candidates", c.SelectedIndex, len(c.Candidates))
	}
	if c.Selected().Object == "" {
		return fmt.Errorf("convergence selected candidate has empty object")
	}
	return nil
}

// Selected returns the chosen candidate. Callers must Validate first.
func (c *ConvergenceResult) Selected() RankedCandidate {
	return c.Candidates[c.SelectedIndex]
}
