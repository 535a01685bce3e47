package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EvanCNavarro/disc-sub000/model"
)

func trackerWithRepo(t *testing.T) (*Tracker, *fakePlaylistRepo, *model.Playlist) {
	t.Helper()
	repo := newFakePlaylistRepo()
	playlist := repo.seed(&model.Playlist{
		UserID:     testUserID,
		PlatformID: testPlatformID,
		Status:     model.PlaylistQueued,
	})
	return NewTracker(repo, playlist.ID, 42), repo, playlist
}

func parseProgress(t *testing.T, raw string) model.ProgressDocument {
	t.Helper()
	require.NotEmpty(t, raw)
	var doc model.ProgressDocument
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	return doc
}

// --- status flip ---

func TestTrackerFirstAdvanceFlipsProcessing(t *testing.T) {
	tracker, repo, playlist := trackerWithRepo(t)

	require.NoError(t, tracker.Advance(context.Background(), model.StepFetchingTracks))
	assert.Equal(t, model.PlaylistProcessing, playlist.Status)
	assert.Equal(t, []model.PlaylistStatus{model.PlaylistProcessing}, repo.statusLog)
}

func TestTrackerSkipAlsoFlipsProcessing(t *testing.T) {
	tracker, repo, playlist := trackerWithRepo(t)

	// 快路径第一步就是跳过，状态翻转不能依赖 Advance
	require.NoError(t, tracker.Skip(context.Background(), model.StepFetchingTracks))
	assert.Equal(t, model.PlaylistProcessing, playlist.Status)
	assert.Len(t, repo.statusLog, 1)
}

func TestTrackerFlipsProcessingExactlyOnce(t *testing.T) {
	tracker, repo, _ := trackerWithRepo(t)
	ctx := context.Background()

	require.NoError(t, tracker.Advance(ctx, model.StepFetchingTracks))
	require.NoError(t, tracker.Advance(ctx, model.StepFetchingLyrics))
	require.NoError(t, tracker.Skip(ctx, model.StepExtractingThemes))

	assert.Len(t, repo.statusLog, 1)
}

// --- document contents ---

func TestTrackerAdvanceWritesRunningStep(t *testing.T) {
	tracker, repo, _ := trackerWithRepo(t)

	require.NoError(t, tracker.Advance(context.Background(), model.StepFetchingTracks))

	doc := parseProgress(t, repo.lastProgress())
	assert.Equal(t, int64(42), doc.GenerationID)
	assert.Equal(t, model.StepFetchingTracks, doc.CurrentStep)
	assert.False(t, doc.StartedAt.IsZero())

	entry := doc.Steps[model.StepFetchingTracks]
	assert.Equal(t, "running", entry.Status)
	assert.Nil(t, entry.EndedAt)
}

func TestTrackerCompleteMergesPayload(t *testing.T) {
	tracker, repo, _ := trackerWithRepo(t)
	ctx := context.Background()

	require.NoError(t, tracker.Advance(ctx, model.StepFetchingTracks))
	require.NoError(t, tracker.Complete(ctx, model.StepFetchingTracks, map[string]any{"trackCount": "5"}))

	doc := parseProgress(t, repo.lastProgress())
	entry := doc.Steps[model.StepFetchingTracks]
	assert.Equal(t, "done", entry.Status)
	require.NotNil(t, entry.EndedAt)
	assert.Equal(t, "5", entry.Payload["trackCount"])
}

func TestTrackerUpdateStreamsIntoRunningStep(t *testing.T) {
	tracker, repo, _ := trackerWithRepo(t)
	ctx := context.Background()

	require.NoError(t, tracker.Advance(ctx, model.StepExtractingThemes))
	require.NoError(t, tracker.Update(ctx, model.StepExtractingThemes, map[string]any{"completed": "1"}))
	require.NoError(t, tracker.Update(ctx, model.StepExtractingThemes, map[string]any{"completed": "2", "note": "halfway"}))

	doc := parseProgress(t, repo.lastProgress())
	entry := doc.Steps[model.StepExtractingThemes]
	assert.Equal(t, "running", entry.Status)
	// 后写的键覆盖先写的，未触碰的键保留
	assert.Equal(t, "2", entry.Payload["completed"])
	assert.Equal(t, "halfway", entry.Payload["note"])

	require.NoError(t, tracker.Complete(ctx, model.StepExtractingThemes, map[string]any{"final": "yes"}))
	doc = parseProgress(t, repo.lastProgress())
	entry = doc.Steps[model.StepExtractingThemes]
	assert.Equal(t, "done", entry.Status)
	assert.Equal(t, "2", entry.Payload["completed"])
	assert.Equal(t, "yes", entry.Payload["final"])
}

func TestTrackerSkipWritesEmptyPayloadEntries(t *testing.T) {
	tracker, repo, _ := trackerWithRepo(t)

	require.NoError(t, tracker.Skip(context.Background(),
		model.StepFetchingLyrics, model.StepExtractingThemes, model.StepSelectingTheme))

	doc := parseProgress(t, repo.lastProgress())
	for _, step := range []string{model.StepFetchingLyrics, model.StepExtractingThemes, model.StepSelectingTheme} {
		entry, ok := doc.Steps[step]
		require.True(t, ok, step)
		assert.Equal(t, "done", entry.Status, step)
		require.NotNil(t, entry.EndedAt, step)
		// 跳过的步骤载荷为空对象，不是缺失
		require.NotNil(t, entry.Payload, step)
		assert.Empty(t, entry.Payload, step)
	}
}

// --- failure and clearing ---

func TestTrackerSurfacesWriteErrors(t *testing.T) {
	tracker, repo, _ := trackerWithRepo(t)
	repo.progressErr = errors.New("connection lost")

	// 调用方会丢弃这个错误，但 Tracker 本身必须如实上报
	err := tracker.Advance(context.Background(), model.StepFetchingTracks)
	assert.Error(t, err)
}

func TestTrackerClearEmptiesProgressColumn(t *testing.T) {
	tracker, _, playlist := trackerWithRepo(t)
	ctx := context.Background()

	require.NoError(t, tracker.Advance(ctx, model.StepFetchingTracks))
	require.NotEmpty(t, playlist.Progress)

	require.NoError(t, tracker.Clear(ctx))
	assert.Empty(t, playlist.Progress)
}

func TestTrackerDocumentReturnsCopy(t *testing.T) {
	tracker, _, _ := trackerWithRepo(t)
	require.NoError(t, tracker.Advance(context.Background(), model.StepFetchingTracks))

	doc := tracker.Document()
	doc.Steps["injected"] = model.StepEntry{Status: "done"}

	assert.NotContains(t, tracker.Document().Steps, "injected")
}
