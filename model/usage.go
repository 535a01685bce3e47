package model

import "time"

// Usage event actions. A finished run records one event per stage that
// spent money, successful or failed, so billing sees every run.
const (
	ActionThemeExtraction = "theme_extraction"
	ActionThemeSelection  = "theme_selection"
	ActionImageGeneration = "image_generation"
)

// UsageEvent is a billing ledger row. IDs are assigned by the writer so an
// event can be referenced in logs before the insert lands. Ledger writes are
// best effort and never fail the pipeline.
type UsageEvent struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"userId"`
	PlaylistID   string    `json:"playlistId"`
	GenerationID int64     `json:"generationId"`
	Action       string    `json:"action"`
	TokensIn     int64     `json:"tokensIn"`
	TokensOut    int64     `json:"tokensOut"`
	CostUSD      float64   `json:"costUsd"`
	Success      bool      `json:"success"`
	CreatedAt    time.Time `json:"createdAt"`
}
