package pipeline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/EvanCNavarro/disc-sub000/model"
)

func driftTracks(names ...string) []model.Track {
	out := make([]model.Track, 0, len(names))
	for _, name := range names {
		out = append(out, model.Track{ID: name, Name: name, Artists: []string{"Artist"}})
	}
	return out
}

func numberedTracks(n int) []model.Track {
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		names = append(names, fmt.Sprintf("track-%02d", i))
	}
	return driftTracks(names...)
}

// --- threshold tiers ---

func TestDetectDriftThresholdGrid(t *testing.T) {
	tests := []struct {
		name          string
		currentSize   int
		added         int
		wantThreshold float64
		wantRegen     bool
	}{
		{"two tracks one added meets half exactly", 2, 1, 0.5, true},
		{"three tracks one added meets a third exactly", 3, 1, 1.0 / 3.0, true},
		{"ten tracks two added stays under quarter", 10, 2, 0.25, false},
		{"ten tracks three added crosses quarter", 10, 3, 0.25, true},
		{"eight tracks one added is noise", 8, 1, 0.25, false},
		{"four tracks one added meets quarter exactly", 4, 1, 0.25, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := numberedTracks(tt.currentSize)
			// 快照少了 added 条，相当于这些歌是新加进来的
			previous := model.Snapshot(current[tt.added:])

			d := DetectDrift(current, previous)
			assert.Equal(t, tt.added, d.OutlierCount)
			assert.Equal(t, tt.wantThreshold, d.Threshold)
			assert.Equal(t, tt.wantRegen, d.ShouldRegenerate)
		})
	}
}

// --- set difference ---

func TestDetectDriftAddedAndRemoved(t *testing.T) {
	current := driftTracks("alpha", "beta", "gamma")
	previous := model.Snapshot(driftTracks("beta", "gamma", "delta"))

	d := DetectDrift(current, previous)
	assert.Equal(t, []string{"alpha|artist"}, d.Added)
	assert.Equal(t, []string{"delta|artist"}, d.Removed)
	assert.Equal(t, 2, d.OutlierCount)
}

func TestDetectDriftIgnoresCasing(t *testing.T) {
	current := driftTracks("Song One", "Song Two")
	previous := model.Snapshot(driftTracks("song one", "SONG TWO"))

	d := DetectDrift(current, previous)
	assert.Zero(t, d.OutlierCount)
	assert.False(t, d.ShouldRegenerate)
}

func TestDetectDriftUnchangedPlaylist(t *testing.T) {
	current := numberedTracks(6)
	previous := model.Snapshot(current)

	d := DetectDrift(current, previous)
	assert.Empty(t, d.Added)
	assert.Empty(t, d.Removed)
	assert.False(t, d.ShouldRegenerate)
}

// --- degenerate sizes ---

func TestDetectDriftEmptiedPlaylistFallsBackToSnapshotSize(t *testing.T) {
	previous := model.Snapshot(numberedTracks(4))

	d := DetectDrift(nil, previous)
	assert.Equal(t, 4, d.OutlierCount)
	assert.Equal(t, 0.25, d.Threshold)
	assert.True(t, d.ShouldRegenerate)
}

func TestDetectDriftBothEmpty(t *testing.T) {
	d := DetectDrift(nil, nil)
	assert.Zero(t, d.OutlierCount)
	assert.False(t, d.ShouldRegenerate)
}

func TestDetectDriftFirstSnapshotCountsEverythingAsNew(t *testing.T) {
	current := numberedTracks(5)

	d := DetectDrift(current, nil)
	assert.Equal(t, 5, d.OutlierCount)
	assert.True(t, d.ShouldRegenerate)
}
