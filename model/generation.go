package model

import "time"

// GenerationStatus tracks the lifecycle of one generation attempt.
type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationProcessing GenerationStatus = "processing"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

// TriggerType records what started a run.
type TriggerType string

const (
	TriggerManual TriggerType = "manual"
	TriggerCron   TriggerType = "cron"
	TriggerAuto   TriggerType = "auto"
)

// GenerationRecord is one row per pipeline attempt. It is created at pipeline
// start and mutated exactly once at the end (success or failure), never
// deleted. Cost fields must reflect real API spend even on failed runs.
type GenerationRecord struct {
	ID         int64            `json:"id"`
	PlaylistID string           `json:"playlistId"`
	UserID     int64            `json:"userId"`
	Status     GenerationStatus `json:"status"`
	Trigger    TriggerType      `json:"trigger"`
	StyleID    string           `json:"styleId"`

	ChosenObject string `json:"chosenObject"`
	Prompt       string `json:"prompt"`
	PredictionID string `json:"predictionId"`
	ArchiveKey   string `json:"archiveKey"`

	// 封面指纹，用于近重复检测
	ImageHash     string `json:"imageHash"`
	NearDuplicate bool   `json:"nearDuplicate"`

	ExtractionTokensIn  int     `json:"extractionTokensIn"`
	ExtractionTokensOut int     `json:"extractionTokensOut"`
	SelectionTokensIn   int     `json:"selectionTokensIn"`
	SelectionTokensOut  int     `json:"selectionTokensOut"`
	LLMCostUSD          float64 `json:"llmCostUsd"`
	ImageCostUSD        float64 `json:"imageCostUsd"`
	TotalCostUSD        float64 `json:"totalCostUsd"`

	DurationMS int64  `json:"durationMs"`
	ErrorText  string `json:"errorText,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
