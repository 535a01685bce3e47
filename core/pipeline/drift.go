package pipeline

import (
	"github.com/EvanCNavarro/disc-sub000/model"
)

// Drift is the outcome of comparing the current track list with the
// previous run's snapshot. It is advisory metadata recorded on the
// playlist analysis, never an enforced gate inside the pipeline.
type Drift struct {
	Added        []string
	Removed      []string
	OutlierCount int
	Threshold    float64
	// ShouldRegenerate reports whether the changed fraction meets the
	// size-tiered threshold.
	ShouldRegenerate bool
}

// DetectDrift diffs the current tracks against the prior snapshot on the
// name|artist composite key. Casing changes alone do not count as churn.
func DetectDrift(current []model.Track, previous []model.SnapshotTrack) *Drift {
	currentKeys := make(map[string]struct{}, len(current))
	for i := range current {
		currentKeys[current[i].Key()] = struct{}{}
	}
	previousKeys := make(map[string]struct{}, len(previous))
	for i := range previous {
		previousKeys[previous[i].Key()] = struct{}{}
	}

	d := &Drift{}
	for i := range current {
		key := current[i].Key()
		if _, ok := previousKeys[key]; !ok {
			d.Added = append(d.Added, key)
		}
	}
	for i := range previous {
		key := previous[i].Key()
		if _, ok := currentKeys[key]; !ok {
			d.Removed = append(d.Removed, key)
		}
	}

	d.OutlierCount = len(d.Added) + len(d.Removed)

	// 以当前曲目数为分母；歌单被清空时退化为用旧快照数
	size := len(current)
	if size == 0 {
		size = len(previous)
	}
	d.Threshold = regenThreshold(size)
	if size > 0 {
		fraction := float64(d.OutlierCount) / float64(size)
		d.ShouldRegenerate = fraction >= d.Threshold
	}
	return d
}

// regenThreshold tiers the regeneration threshold by playlist size so tiny
// playlists do not re-render on every single edit.
func regenThreshold(size int) float64 {
	switch {
	case size <= 2:
		return 0.5
	case size == 3:
		return 1.0 / 3.0
	default:
		return 0.25
	}
}
