package model

import "time"

// PlaylistAnalysis snapshots the full reasoning trail of one run: what the
// playlist looked like, what every track yielded, what converged, and how the
// track list moved since last time. Append-only; one-to-one with a
// GenerationRecord on the full-analysis path.
type PlaylistAnalysis struct {
	ID           int64  `json:"id"`
	GenerationID int64  `json:"generationId"`
	PlaylistID   string `json:"playlistId"`
	UserID       int64  `json:"userId"`

	TrackSnapshot []SnapshotTrack    `json:"trackSnapshot"`
	Extractions   []TrackExtraction  `json:"extractions"`
	Convergence   *ConvergenceResult `json:"convergence,omitempty"`

	// Drift vs. the previous snapshot (advisory metadata, not a gate).
	AddedTracks   []string `json:"addedTracks"`
	RemovedTracks []string `json:"removedTracks"`
	OutlierCount  int      `json:"outlierCount"`
	Threshold     float64  `json:"threshold"`
	Regenerated   bool     `json:"regenerated"`

	CreatedAt time.Time `json:"createdAt"`
}
