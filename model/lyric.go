package model

import "time"

// CachedLyric is a stored lyric lookup result. Found=false entries are
// cached too so tracks without lyrics are not re-fetched on every run.
type CachedLyric struct {
	TrackID   string    `json:"trackId"`
	TrackName string    `json:"trackName"`
	Artist    string    `json:"artist"`
	Lyrics    string    `json:"lyrics"`
	Found     bool      `json:"found"`
	CreatedAt time.Time `json:"createdAt"`
}
