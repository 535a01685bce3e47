package model

import "time"

// JobStatus is the lifecycle state of a queued generation job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobOptions carries the per-run knobs a caller may set when enqueueing.
// Exactly one of the subject overrides is honored; CustomObject wins over
// LightExtractionText when both are present.
type JobOptions struct {
	// CustomObject skips extraction, selection and all LLM calls and uses
	// this object verbatim as the cover subject.
	CustomObject string `json:"customObject,omitempty"`
	// LightExtractionText skips lyric fetching and per-track extraction;
	// a single light-extraction call derives the subject from this freeform
	// description instead.
	LightExtractionText string `json:"lightExtractionText,omitempty"`
	// RevisionNotes is appended to the selection instructions so a rerun
	// can steer away from a disliked result.
	RevisionNotes string `json:"revisionNotes,omitempty"`
	// StyleID overrides the playlist's configured style for this run.
	StyleID string `json:"styleId,omitempty"`
}

// Job is one queued cover generation request.
type Job struct {
	ID         int64       `json:"id"`
	UserID     int64       `json:"userId"`
	PlaylistID string      `json:"playlistId"`
	Trigger    TriggerType `json:"trigger"`
	Options    JobOptions  `json:"options"`
	Status     JobStatus   `json:"status"`
	ErrorText  string      `json:"errorText,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	StartedAt  *time.Time  `json:"startedAt,omitempty"`
	EndedAt    *time.Time  `json:"endedAt,omitempty"`
}
