package extraction

import (
	"sort"
	"strings"

	"github.com/EvanCNavarro/disc-sub000/model"
)

// Aggregate folds all per-track objects into a ranked score list. Objects
// are merged case-insensitively; each track counts at most once toward an
// object's track coverage. Ties break alphabetically so the ranking is
// deterministic.
func Aggregate(extractions []model.TrackExtraction) []model.ObjectScore {
	type bucket struct {
		score  int
		tracks map[string]struct{}
	}
	buckets := make(map[string]*bucket)

	for _, ext := range extractions {
		for _, obj := range ext.Objects {
			key := Normalize(obj.Object)
			if key == "" {
				continue
			}
			b, ok := buckets[key]
			if !ok {
				b = &bucket{tracks: make(map[string]struct{})}
				buckets[key] = b
			}
			b.score += obj.Tier.Weight()
			b.tracks[ext.TrackID] = struct{}{}
		}
	}

	scores := make([]model.ObjectScore, 0, len(buckets))
	for name, b := range buckets {
		scores = append(scores, model.ObjectScore{
			Object:     name,
			Score:      b.score,
			TrackCount: len(b.tracks),
		})
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Object < scores[j].Object
	})
	return scores
}

// Normalize maps an object name onto its merge key.
func Normalize(object string) string {
	return strings.ToLower(strings.TrimSpace(object))
}

// TopN returns the first n scores, or all of them if fewer exist.
func TopN(scores []model.ObjectScore, n int) []model.ObjectScore {
	if len(scores) <= n {
		return scores
	}
	return scores[:n]
}
