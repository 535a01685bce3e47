package repository

import (
	"database/sql"
	"fmt"

	"github.com/EvanCNavarro/disc-sub000/model"
)

// ClaimRepository defines the interface for claimed object operations.
type ClaimRepository interface {
	Claim(userID int64, playlistID, object string) error
	ActiveByUser(userID int64, excludePlaylistID string) ([]string, error)
	ActiveForPlaylist(userID int64, playlistID string) (*model.ClaimedObject, error)
}

// mysqlClaimRepository implements ClaimRepository for MySQL.
type mysqlClaimRepository struct {
	db *sql.DB
}

// NewMySQLClaimRepository creates a new mysqlClaimRepository.
func NewMySQLClaimRepository(db *sql.DB) ClaimRepository {
	return &mysqlClaimRepository{db: db}
}

// Claim supersedes the playlist's previous claim and records the new one.
// The two statements run without a transaction; a crash in between leaves
// the playlist briefly claimless, which the next run repairs.
func (r *mysqlClaimRepository) Claim(userID int64, playlistID, object string) error {
	supersede := "UPDATE claimed_objects SET superseded_at = NOW() WHERE playlist_id = ? AND superseded_at IS NULL"
	if _, err := r.db.Exec(supersede, playlistID); err != nil {
		return fmt.Errorf("failed to supersede previous claim for playlist %s: %w", playlistID, err)
	}

	insert := "INSERT INTO claimed_objects (user_id, playlist_id, object) VALUES (?, ?, ?)"
	if _, err := r.db.Exec(insert, userID, playlistID, object); err != nil {
		return fmt.Errorf("failed to insert claim for playlist %s: %w", playlistID, err)
	}
	return nil
}

// ActiveByUser lists the objects currently claimed by the user's other
// playlists. The result feeds the convergence exclusion list.
func (r *mysqlClaimRepository) ActiveByUser(userID int64, excludePlaylistID string) ([]string, error) {
	query := `SELECT object FROM claimed_objects
	          WHERE user_id = ? AND playlist_id != ? AND superseded_at IS NULL`
	rows, err := r.db.Query(query, userID, excludePlaylistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active claims for user %d: %w", userID, err)
	}
	defer rows.Close()

	var objects []string
	for rows.Next() {
		var object string
		if err := rows.Scan(&object); err != nil {
			return nil, fmt.Errorf("failed to scan claim row: %w", err)
		}
		objects = append(objects, object)
	}
	return objects, rows.Err()
}

// ActiveForPlaylist retrieves the playlist's current claim, or nil when it
// holds none.
func (r *mysqlClaimRepository) ActiveForPlaylist(userID int64, playlistID string) (*model.ClaimedObject, error) {
	query := `SELECT id, user_id, playlist_id, object, claimed_at, superseded_at FROM claimed_objects
	          WHERE user_id = ? AND playlist_id = ? AND superseded_at IS NULL
	          ORDER BY claimed_at DESC LIMIT 1`
	row := r.db.QueryRow(query, userID, playlistID)

	c := &model.ClaimedObject{}
	var supersededAt sql.NullTime
	err := row.Scan(&c.ID, &c.UserID, &c.PlaylistID, &c.Object, &c.ClaimedAt, &supersededAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No active claim
		}
		return nil, fmt.Errorf("failed to scan claim row for playlist %s: %w", playlistID, err)
	}
	if supersededAt.Valid {
		c.SupersededAt = &supersededAt.Time
	}
	return c, nil
}
