package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/EvanCNavarro/disc-sub000/cache"
	"github.com/EvanCNavarro/disc-sub000/logger"
	"github.com/EvanCNavarro/disc-sub000/model"
	"github.com/EvanCNavarro/disc-sub000/repository"
)

// Tracker owns the progress document of one playlist+generation pair for
// the duration of a run. It is not safe for concurrent use except through
// the extraction progress callback, which serializes calls itself.
//
// Every write goes to the playlist's progress column (authoritative) and is
// mirrored to Redis for the status endpoints. All methods return the write
// error but progress is display-only: callers discard it, and a failed
// write must never abort the pipeline.
type Tracker struct {
	playlists     repository.PlaylistRepository
	playlistRowID int64
	doc           model.ProgressDocument
	started       bool
}

// NewTracker creates a tracker for one generation run.
func NewTracker(playlists repository.PlaylistRepository, playlistRowID, generationID int64) *Tracker {
	return &Tracker{
		playlists:     playlists,
		playlistRowID: playlistRowID,
		doc: model.ProgressDocument{
			GenerationID: generationID,
			StartedAt:    time.Now(),
			Steps:        make(map[string]model.StepEntry),
		},
	}
}

// Advance marks a step as the current running step. The first step of a
// run, advanced or skipped, also flips the playlist to processing.
func (t *Tracker) Advance(ctx context.Context, step string) error {
	now := time.Now()
	t.doc.CurrentStep = step
	t.doc.Steps[step] = model.StepEntry{
		Status:    "running",
		StartedAt: now,
		Payload:   map[string]any{},
	}

	if err := t.ensureProcessing(); err != nil {
		return err
	}
	return t.write(ctx)
}

// Update merges payload into the current step without completing it. Used
// by the extraction stage to stream per-track results.
func (t *Tracker) Update(ctx context.Context, step string, payload map[string]any) error {
	entry, ok := t.doc.Steps[step]
	if !ok {
		entry = model.StepEntry{Status: "running", StartedAt: time.Now(), Payload: map[string]any{}}
	}
	for k, v := range payload {
		entry.Payload[k] = v
	}
	t.doc.Steps[step] = entry
	return t.write(ctx)
}

// Complete marks a step done, merging its final payload.
func (t *Tracker) Complete(ctx context.Context, step string, payload map[string]any) error {
	now := time.Now()
	entry, ok := t.doc.Steps[step]
	if !ok {
		entry = model.StepEntry{Status: "running", StartedAt: now, Payload: map[string]any{}}
	}
	for k, v := range payload {
		entry.Payload[k] = v
	}
	entry.Status = "done"
	entry.EndedAt = &now
	t.doc.Steps[step] = entry
	return t.write(ctx)
}

// Skip records steps a path does not run. The entry is written with an
// empty payload so the step list stays identical across paths.
func (t *Tracker) Skip(ctx context.Context, steps ...string) error {
	now := time.Now()
	for _, step := range steps {
		t.doc.Steps[step] = model.StepEntry{
			Status:    "done",
			StartedAt: now,
			EndedAt:   &now,
			Payload:   map[string]any{},
		}
	}

	if err := t.ensureProcessing(); err != nil {
		return err
	}
	return t.write(ctx)
}

// ensureProcessing flips the playlist to processing exactly once per run.
func (t *Tracker) ensureProcessing() error {
	if t.started {
		return nil
	}
	t.started = true
	if err := t.playlists.UpdateStatus(t.playlistRowID, model.PlaylistProcessing); err != nil {
		logger.Warn("[Progress] 更新歌单状态失败",
			logger.Int64("playlistId", t.playlistRowID),
			logger.ErrorField(err))
		return err
	}
	return nil
}

// Clear removes the progress document on terminal success or failure. The
// document is live state only, never history.
func (t *Tracker) Clear(ctx context.Context) error {
	// Redis镜像先清，MySQL列为准
	if err := cache.ClearProgress(ctx, t.playlistRowID); err != nil {
		logger.Warn("[Progress] 清除进度镜像失败",
			logger.Int64("playlistId", t.playlistRowID),
			logger.ErrorField(err))
	}
	if err := t.playlists.ClearProgress(t.playlistRowID); err != nil {
		logger.Warn("[Progress] 清除进度文档失败",
			logger.Int64("playlistId", t.playlistRowID),
			logger.ErrorField(err))
		return err
	}
	return nil
}

// Document returns a copy of the current progress document.
func (t *Tracker) Document() model.ProgressDocument {
	doc := t.doc
	doc.Steps = make(map[string]model.StepEntry, len(t.doc.Steps))
	for k, v := range t.doc.Steps {
		doc.Steps[k] = v
	}
	return doc
}

func (t *Tracker) write(ctx context.Context) error {
	data, err := json.Marshal(t.doc)
	if err != nil {
		logger.Warn("[Progress] 序列化进度文档失败", logger.ErrorField(err))
		return err
	}

	if err := cache.MirrorProgress(ctx, t.playlistRowID, string(data)); err != nil {
		logger.Warn("[Progress] 镜像进度文档失败",
			logger.Int64("playlistId", t.playlistRowID),
			logger.ErrorField(err))
	}
	if err := t.playlists.UpdateProgress(t.playlistRowID, string(data)); err != nil {
		logger.Warn("[Progress] 写入进度文档失败",
			logger.Int64("playlistId", t.playlistRowID),
			logger.ErrorField(err))
		return err
	}
	return nil
}
