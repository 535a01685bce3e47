package model

import "time"

// PlaylistStatus is the cover generation state machine of a playlist.
// idle -> queued -> processing -> generated | failed. A later run may move
// generated/failed back to queued.
type PlaylistStatus string

const (
	PlaylistIdle       PlaylistStatus = "idle"
	PlaylistQueued     PlaylistStatus = "queued"
	PlaylistProcessing PlaylistStatus = "processing"
	PlaylistGenerated  PlaylistStatus = "generated"
	PlaylistFailed     PlaylistStatus = "failed"
)

// Playlist mirrors the platform playlist rows we manage covers for.
type Playlist struct {
	ID          int64          `json:"id"`
	UserID      int64          `json:"userId"`
	PlatformID  string         `json:"platformId"` // Spotify playlist ID
	Name        string         `json:"name"`
	TrackCount  int            `json:"trackCount"`
	CoverURL    string         `json:"coverUrl"`
	Status      PlaylistStatus `json:"status"`
	StyleID     string         `json:"styleId"`
	AutoUpdate  bool           `json:"autoUpdate"` // 定时任务是否自动重绘该歌单
	Progress    string         `json:"progress,omitempty"`
	StatusSince time.Time      `json:"statusSince"`
	LastGenAt   *time.Time     `json:"lastGenAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Stale reports whether the playlist has sat in queued or processing longer
// than the sweep window and should be reclaimed by the staleness sweeper.
func (p *Playlist) Stale(window time.Duration, now time.Time) bool {
	if p.Status != PlaylistQueued && p.Status != PlaylistProcessing {
		return false
	}
	return now.Sub(p.StatusSince) > window
}
