package repository

import (
	"database/sql"
	"fmt"

	"github.com/EvanCNavarro/disc-sub000/model"
)

// LyricCacheRepository defines the interface for the persistent lyric cache.
type LyricCacheRepository interface {
	Get(trackID string) (*model.CachedLyric, error)
	Put(entry *model.CachedLyric) error
}

// mysqlLyricCacheRepository implements LyricCacheRepository for MySQL.
type mysqlLyricCacheRepository struct {
	db *sql.DB
}

// NewMySQLLyricCacheRepository creates a new mysqlLyricCacheRepository.
func NewMySQLLyricCacheRepository(db *sql.DB) LyricCacheRepository {
	return &mysqlLyricCacheRepository{db: db}
}

// Get retrieves a cached lyric entry, or nil on a miss. A Found=false entry
// is a hit: the track is known to have no lyrics.
func (r *mysqlLyricCacheRepository) Get(trackID string) (*model.CachedLyric, error) {
	query := "SELECT track_id, track_name, artist, lyrics, found, created_at FROM lyric_cache WHERE track_id = ?"
	row := r.db.QueryRow(query, trackID)

	entry := &model.CachedLyric{}
	var trackName, artist, lyrics sql.NullString
	err := row.Scan(&entry.TrackID, &trackName, &artist, &lyrics, &entry.Found, &entry.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to scan lyric cache row for track %s: %w", trackID, err)
	}
	entry.TrackName = trackName.String
	entry.Artist = artist.String
	entry.Lyrics = lyrics.String
	return entry, nil
}

// Put stores a lyric lookup result. Concurrent writers may race on the same
// track; INSERT IGNORE keeps the first write and drops the rest.
func (r *mysqlLyricCacheRepository) Put(entry *model.CachedLyric) error {
	query := "INSERT IGNORE INTO lyric_cache (track_id, track_name, artist, lyrics, found) VALUES (?, ?, ?, ?, ?)"
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare put lyric cache statement: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(entry.TrackID, entry.TrackName, entry.Artist, entry.Lyrics, entry.Found)
	if err != nil {
		return fmt.Errorf("failed to execute put lyric cache statement: %w", err)
	}
	return nil
}
