package model

import "time"

// Pipeline step keys, in execution order. Every run writes all eight keys;
// a stage the run skips still gets its key with an empty payload so the
// frontend renders a complete, ordered step list.
const (
	StepFetchingTracks   = "fetching_tracks"
	StepFetchingLyrics   = "fetching_lyrics"
	StepExtractingThemes = "extracting_themes"
	StepSelectingTheme   = "selecting_theme"
	StepGeneratingImage  = "generating_image"
	StepProcessingImage  = "processing_image"
	StepUploadingCover   = "uploading_cover"
	StepSavingResults    = "saving_results"
)

// StepOrder lists the step keys in pipeline order.
var StepOrder = []string{
	StepFetchingTracks,
	StepFetchingLyrics,
	StepExtractingThemes,
	StepSelectingTheme,
	StepGeneratingImage,
	StepProcessingImage,
	StepUploadingCover,
	StepSavingResults,
}

// StepEntry is one recorded pipeline step inside a ProgressDocument.
type StepEntry struct {
	Status    string         `json:"status"` // running | done
	StartedAt time.Time      `json:"startedAt"`
	EndedAt   *time.Time     `json:"endedAt,omitempty"`
	Payload   map[string]any `json:"payload"`
}

// ProgressDocument is the JSON blob persisted on the playlist row while a
// generation runs. It is advisory display state, never pipeline input.
type ProgressDocument struct {
	GenerationID int64                `json:"generationId"`
	CurrentStep  string               `json:"currentStep"`
	StartedAt    time.Time            `json:"startedAt"`
	Steps        map[string]StepEntry `json:"steps"`
}
