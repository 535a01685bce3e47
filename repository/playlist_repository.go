package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/EvanCNavarro/disc-sub000/model"
)

// PlaylistRepository defines the interface for playlist data operations.
type PlaylistRepository interface {
	Upsert(p *model.Playlist) (int64, error)
	GetByID(id int64) (*model.Playlist, error)
	GetByPlatformID(userID int64, platformID string) (*model.Playlist, error)
	ListByUser(userID int64) ([]*model.Playlist, error)
	ListAutoUpdate() ([]*model.Playlist, error)
	UpdateStatus(id int64, status model.PlaylistStatus) error
	UpdateProgress(id int64, progress string) error
	ClearProgress(id int64) error
	MarkGenerated(id int64, coverURL string) error
	ResetStale(window time.Duration) (int64, error)
}

// mysqlPlaylistRepository implements PlaylistRepository for MySQL.
type mysqlPlaylistRepository struct {
	db *sql.DB
}

// NewMySQLPlaylistRepository creates a new mysqlPlaylistRepository.
func NewMySQLPlaylistRepository(db *sql.DB) PlaylistRepository {
	return &mysqlPlaylistRepository{db: db}
}

const playlistColumns = "id, user_id, platform_id, name, track_count, cover_url, status, style_id, auto_update, progress, status_since, last_gen_at, created_at, updated_at"

func scanPlaylist(row interface{ Scan(...any) error }) (*model.Playlist, error) {
	p := &model.Playlist{}
	var name, coverURL, styleID, progress sql.NullString
	var lastGenAt sql.NullTime
	err := row.Scan(&p.ID, &p.UserID, &p.PlatformID, &name, &p.TrackCount, &coverURL,
		&p.Status, &styleID, &p.AutoUpdate, &progress, &p.StatusSince, &lastGenAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Name = name.String
	p.CoverURL = coverURL.String
	p.StyleID = styleID.String
	p.Progress = progress.String
	if lastGenAt.Valid {
		p.LastGenAt = &lastGenAt.Time
	}
	return p, nil
}

// Upsert inserts the playlist or refreshes its platform-synced fields,
// returning the row ID either way.
func (r *mysqlPlaylistRepository) Upsert(p *model.Playlist) (int64, error) {
	query := `INSERT INTO playlists (user_id, platform_id, name, track_count, cover_url, status, style_id, auto_update)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	          ON DUPLICATE KEY UPDATE name = VALUES(name), track_count = VALUES(track_count), updated_at = NOW()`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert playlist statement: %w", err)
	}
	defer stmt.Close()

	status := p.Status
	if status == "" {
		status = model.PlaylistIdle
	}
	_, err = stmt.Exec(p.UserID, p.PlatformID, p.Name, p.TrackCount, p.CoverURL, status, p.StyleID, p.AutoUpdate)
	if err != nil {
		return 0, fmt.Errorf("failed to execute upsert playlist statement: %w", err)
	}

	// LastInsertId is unreliable under ON DUPLICATE KEY UPDATE, so read the
	// row back by its natural key.
	existing, err := r.GetByPlatformID(p.UserID, p.PlatformID)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return 0, fmt.Errorf("playlist %s missing after upsert", p.PlatformID)
	}
	return existing.ID, nil
}

// GetByID retrieves a playlist by its row ID.
func (r *mysqlPlaylistRepository) GetByID(id int64) (*model.Playlist, error) {
	query := "SELECT " + playlistColumns + " FROM playlists WHERE id = ?"
	p, err := scanPlaylist(r.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Playlist not found
		}
		return nil, fmt.Errorf("failed to scan playlist row for ID %d: %w", id, err)
	}
	return p, nil
}

// GetByPlatformID retrieves a playlist by owner and platform playlist ID.
func (r *mysqlPlaylistRepository) GetByPlatformID(userID int64, platformID string) (*model.Playlist, error) {
	query := "SELECT " + playlistColumns + " FROM playlists WHERE user_id = ? AND platform_id = ?"
	p, err := scanPlaylist(r.db.QueryRow(query, userID, platformID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Playlist not found
		}
		return nil, fmt.Errorf("failed to scan playlist row for platform ID %s: %w", platformID, err)
	}
	return p, nil
}

// ListByUser retrieves all playlists belonging to a user.
func (r *mysqlPlaylistRepository) ListByUser(userID int64) ([]*model.Playlist, error) {
	query := "SELECT " + playlistColumns + " FROM playlists WHERE user_id = ? ORDER BY updated_at DESC"
	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists for user %d: %w", userID, err)
	}
	defer rows.Close()

	var playlists []*model.Playlist
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan playlist row: %w", err)
		}
		playlists = append(playlists, p)
	}
	return playlists, rows.Err()
}

// ListAutoUpdate retrieves all playlists flagged for scheduled regeneration.
func (r *mysqlPlaylistRepository) ListAutoUpdate() ([]*model.Playlist, error) {
	query := "SELECT " + playlistColumns + " FROM playlists WHERE auto_update = 1"
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query auto-update playlists: %w", err)
	}
	defer rows.Close()

	var playlists []*model.Playlist
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan playlist row: %w", err)
		}
		playlists = append(playlists, p)
	}
	return playlists, rows.Err()
}

// UpdateStatus moves the playlist to the given status and stamps the
// transition time used by the staleness sweep.
func (r *mysqlPlaylistRepository) UpdateStatus(id int64, status model.PlaylistStatus) error {
	query := "UPDATE playlists SET status = ?, status_since = NOW(), updated_at = NOW() WHERE id = ?"
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare update status statement: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(string(status), id)
	if err != nil {
		return fmt.Errorf("failed to execute update status statement: %w", err)
	}
	return nil
}

// UpdateProgress replaces the progress JSON document on the playlist row.
func (r *mysqlPlaylistRepository) UpdateProgress(id int64, progress string) error {
	query := "UPDATE playlists SET progress = ?, updated_at = NOW() WHERE id = ?"
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare update progress statement: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(progress, id)
	if err != nil {
		return fmt.Errorf("failed to execute update progress statement: %w", err)
	}
	return nil
}

// ClearProgress removes the progress document once a run reaches a terminal
// state.
func (r *mysqlPlaylistRepository) ClearProgress(id int64) error {
	query := "UPDATE playlists SET progress = NULL, updated_at = NOW() WHERE id = ?"
	_, err := r.db.Exec(query, id)
	if err != nil {
		return fmt.Errorf("failed to execute clear progress statement: %w", err)
	}
	return nil
}

// MarkGenerated records a successful run: new cover URL, generated status
// and the generation timestamp, with the progress document cleared.
func (r *mysqlPlaylistRepository) MarkGenerated(id int64, coverURL string) error {
	query := `UPDATE playlists SET status = ?, cover_url = ?, last_gen_at = NOW(),
	          progress = NULL, status_since = NOW(), updated_at = NOW() WHERE id = ?`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare mark generated statement: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(string(model.PlaylistGenerated), coverURL, id)
	if err != nil {
		return fmt.Errorf("failed to execute mark generated statement: %w", err)
	}
	return nil
}

// ResetStale reclaims playlists stuck in queued or processing longer than
// the given window back to idle, treating them as abandoned by a crashed
// worker, and reports how many rows were swept.
func (r *mysqlPlaylistRepository) ResetStale(window time.Duration) (int64, error) {
	query := `UPDATE playlists SET status = ?, progress = NULL, status_since = NOW(), updated_at = NOW()
	          WHERE status IN (?, ?) AND status_since < NOW() - INTERVAL ? SECOND`
	res, err := r.db.Exec(query, string(model.PlaylistIdle),
		string(model.PlaylistQueued), string(model.PlaylistProcessing), int64(window.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to execute reset stale statement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows for reset stale: %w", err)
	}
	return affected, nil
}
