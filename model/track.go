package model

import "strings"

// Track represents one playlist entry as fetched from the platform.
// A fresh snapshot is pulled at the start of every pipeline run; tracks are
// never mutated after that except for lyric enrichment.
type Track struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Artists     []string `json:"artists"`
	Album       string   `json:"album"`
	DurationMS  int      `json:"durationMs"`
	Lyrics      string   `json:"lyrics,omitempty"`
	LyricsFound bool     `json:"lyricsFound"`
}

// Artist returns the joined artist credit ("A, B").
func (t *Track) Artist() string {
	return strings.Join(t.Artists, ", ")
}

// Key returns the name|artist composite used for drift detection. Lowercased
// so renames that only change casing do not count as churn.
func (t *Track) Key() string {
	return strings.ToLower(t.Name) + "|" + strings.ToLower(t.Artist())
}

// FallbackContext is the metadata-only stand-in used when no lyrics could be
// fetched for the track.
func (t *Track) FallbackContext() string {
	if t.Album != "" {
		return t.Name + " by " + t.Artist() + " (album: " + t.Album + ")"
	}
	return t.Name + " by " + t.Artist()
}

// SnapshotTrack is the trimmed form of a track persisted on a
// PlaylistAnalysis for later drift comparison.
type SnapshotTrack struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Artist string `json:"artist"`
}

// Snapshot converts a full track list into its persistable snapshot form.
func Snapshot(tracks []Track) []SnapshotTrack {
	out := make([]SnapshotTrack, 0, len(tracks))
	for i := range tracks {
		out = append(out, SnapshotTrack{
			ID:     tracks[i].ID,
			Name:   tracks[i].Name,
			Artist: tracks[i].Artist(),
		})
	}
	return out
}

// Key mirrors Track.Key for snapshot entries.
func (s *SnapshotTrack) Key() string {
	return strings.ToLower(s.Name) + "|" + strings.ToLower(s.Artist)
}
