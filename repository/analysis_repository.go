package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/EvanCNavarro/disc-sub000/model"
)

// AnalysisRepository defines the interface for playlist analysis snapshots.
type AnalysisRepository interface {
	Create(a *model.PlaylistAnalysis) (int64, error)
	LatestByPlaylist(playlistID string) (*model.PlaylistAnalysis, error)
}

// mysqlAnalysisRepository implements AnalysisRepository for MySQL.
type mysqlAnalysisRepository struct {
	db *sql.DB
}

// NewMySQLAnalysisRepository creates a new mysqlAnalysisRepository.
func NewMySQLAnalysisRepository(db *sql.DB) AnalysisRepository {
	return &mysqlAnalysisRepository{db: db}
}

// Create appends a new analysis snapshot. The structured fields are stored
// as JSON text columns.
func (r *mysqlAnalysisRepository) Create(a *model.PlaylistAnalysis) (int64, error) {
	snapshot, err := json.Marshal(a.TrackSnapshot)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal track snapshot: %w", err)
	}
	extractions, err := json.Marshal(a.Extractions)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal extractions: %w", err)
	}
	var convergence []byte
	if a.Convergence != nil {
		convergence, err = json.Marshal(a.Convergence)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal convergence result: %w", err)
		}
	}
	added, err := json.Marshal(a.AddedTracks)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal added tracks: %w", err)
	}
	removed, err := json.Marshal(a.RemovedTracks)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal removed tracks: %w", err)
	}

	query := `INSERT INTO playlist_analyses
	          (generation_id, playlist_id, user_id, track_snapshot, extractions, convergence,
	           added_tracks, removed_tracks, outlier_count, threshold, regenerated)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare create analysis statement: %w", err)
	}
	defer stmt.Close()

	var convergenceArg any
	if convergence != nil {
		convergenceArg = string(convergence)
	}
	res, err := stmt.Exec(a.GenerationID, a.PlaylistID, a.UserID, string(snapshot), string(extractions),
		convergenceArg, string(added), string(removed), a.OutlierCount, a.Threshold, a.Regenerated)
	if err != nil {
		return 0, fmt.Errorf("failed to execute create analysis statement: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for analysis: %w", err)
	}
	return id, nil
}

// LatestByPlaylist retrieves the most recent analysis snapshot for a
// playlist, or nil if the playlist has never been analyzed.
func (r *mysqlAnalysisRepository) LatestByPlaylist(playlistID string) (*model.PlaylistAnalysis, error) {
	query := `SELECT id, generation_id, playlist_id, user_id, track_snapshot, extractions, convergence,
	          added_tracks, removed_tracks, outlier_count, threshold, regenerated, created_at
	          FROM playlist_analyses WHERE playlist_id = ? ORDER BY created_at DESC LIMIT 1`
	row := r.db.QueryRow(query, playlistID)

	a := &model.PlaylistAnalysis{}
	var snapshot, extractions, added, removed sql.NullString
	var convergence sql.NullString
	err := row.Scan(&a.ID, &a.GenerationID, &a.PlaylistID, &a.UserID, &snapshot, &extractions,
		&convergence, &added, &removed, &a.OutlierCount, &a.Threshold, &a.Regenerated, &a.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No analysis yet
		}
		return nil, fmt.Errorf("failed to scan analysis row for playlist %s: %w", playlistID, err)
	}

	if snapshot.Valid {
		if err := json.Unmarshal([]byte(snapshot.String), &a.TrackSnapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal track snapshot: %w", err)
		}
	}
	if extractions.Valid {
		if err := json.Unmarshal([]byte(extractions.String), &a.Extractions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extractions: %w", err)
		}
	}
	if convergence.Valid && convergence.String != "" {
		a.Convergence = &model.ConvergenceResult{}
		if err := json.Unmarshal([]byte(convergence.String), a.Convergence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal convergence result: %w", err)
		}
	}
	if added.Valid {
		if err := json.Unmarshal([]byte(added.String), &a.AddedTracks); err != nil {
			return nil, fmt.Errorf("failed to unmarshal added tracks: %w", err)
		}
	}
	if removed.Valid {
		if err := json.Unmarshal([]byte(removed.String), &a.RemovedTracks); err != nil {
			return nil, fmt.Errorf("failed to unmarshal removed tracks: %w", err)
		}
	}
	return a, nil
}
