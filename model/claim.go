package model

import "time"

// ClaimedObject records the object noun a playlist's current cover is built
// around. At most one non-superseded claim exists per playlist; the active
// claims of a user's other playlists form the exclusion set handed to the
// convergence call so siblings never land on the same noun.
type ClaimedObject struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"userId"`
	PlaylistID   string     `json:"playlistId"`
	Object       string     `json:"object"`
	ClaimedAt    time.Time  `json:"claimedAt"`
	SupersededAt *time.Time `json:"supersededAt,omitempty"`
}
