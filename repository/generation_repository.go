package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/EvanCNavarro/disc-sub000/model"
)

// GenerationRepository defines the interface for generation record operations.
type GenerationRepository interface {
	Create(g *model.GenerationRecord) (int64, error)
	GetByID(id int64) (*model.GenerationRecord, error)
	MarkCompleted(g *model.GenerationRecord) error
	MarkFailed(id int64, errorText string) error
	UpdateArtifacts(g *model.GenerationRecord) error
	LatestCompleted(playlistID string) (*model.GenerationRecord, error)
	ListByPlaylist(playlistID string, limit int) ([]*model.GenerationRecord, error)
	FailStale(window time.Duration) (int64, error)
}

// mysqlGenerationRepository implements GenerationRepository for MySQL.
type mysqlGenerationRepository struct {
	db *sql.DB
}

// NewMySQLGenerationRepository creates a new mysqlGenerationRepository.
func NewMySQLGenerationRepository(db *sql.DB) GenerationRepository {
	return &mysqlGenerationRepository{db: db}
}

const generationColumns = `id, user_id, playlist_id, status, trigger_type, style_id, chosen_object, prompt,
	prediction_id, archive_key, image_hash, near_duplicate,
	extraction_tokens_in, extraction_tokens_out, selection_tokens_in, selection_tokens_out,
	llm_cost_usd, image_cost_usd, total_cost_usd, duration_ms, error_text, created_at, updated_at`

func scanGeneration(row interface{ Scan(...any) error }) (*model.GenerationRecord, error) {
	g := &model.GenerationRecord{}
	var styleID, chosenObject, prompt, predictionID, archiveKey, imageHash, errorText sql.NullString
	err := row.Scan(&g.ID, &g.UserID, &g.PlaylistID, &g.Status, &g.Trigger, &styleID, &chosenObject, &prompt,
		&predictionID, &archiveKey, &imageHash, &g.NearDuplicate,
		&g.ExtractionTokensIn, &g.ExtractionTokensOut, &g.SelectionTokensIn, &g.SelectionTokensOut,
		&g.LLMCostUSD, &g.ImageCostUSD, &g.TotalCostUSD, &g.DurationMS, &errorText, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	g.StyleID = styleID.String
	g.ChosenObject = chosenObject.String
	g.Prompt = prompt.String
	g.PredictionID = predictionID.String
	g.ArchiveKey = archiveKey.String
	g.ImageHash = imageHash.String
	g.ErrorText = errorText.String
	return g, nil
}

// Create inserts a new generation record in pending state.
func (r *mysqlGenerationRepository) Create(g *model.GenerationRecord) (int64, error) {
	query := `INSERT INTO generations (user_id, playlist_id, status, trigger_type, style_id)
	          VALUES (?, ?, ?, ?, ?)`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare create generation statement: %w", err)
	}
	defer stmt.Close()

	status := g.Status
	if status == "" {
		status = model.GenerationPending
	}
	res, err := stmt.Exec(g.UserID, g.PlaylistID, string(status), string(g.Trigger), g.StyleID)
	if err != nil {
		return 0, fmt.Errorf("failed to execute create generation statement: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for generation: %w", err)
	}
	return id, nil
}

// GetByID retrieves a generation record by its ID.
func (r *mysqlGenerationRepository) GetByID(id int64) (*model.GenerationRecord, error) {
	query := "SELECT " + generationColumns + " FROM generations WHERE id = ?"
	g, err := scanGeneration(r.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Generation not found
		}
		return nil, fmt.Errorf("failed to scan generation row for ID %d: %w", id, err)
	}
	return g, nil
}

// MarkCompleted writes the full result set of a successful run.
func (r *mysqlGenerationRepository) MarkCompleted(g *model.GenerationRecord) error {
	query := `UPDATE generations SET status = ?, chosen_object = ?, prompt = ?, prediction_id = ?,
	          archive_key = ?, image_hash = ?, near_duplicate = ?,
	          extraction_tokens_in = ?, extraction_tokens_out = ?, selection_tokens_in = ?, selection_tokens_out = ?,
	          llm_cost_usd = ?, image_cost_usd = ?, total_cost_usd = ?, duration_ms = ?, updated_at = NOW()
	          WHERE id = ?`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare mark completed statement: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(string(model.GenerationCompleted), g.ChosenObject, g.Prompt, g.PredictionID,
		g.ArchiveKey, g.ImageHash, g.NearDuplicate,
		g.ExtractionTokensIn, g.ExtractionTokensOut, g.SelectionTokensIn, g.SelectionTokensOut,
		g.LLMCostUSD, g.ImageCostUSD, g.TotalCostUSD, g.DurationMS, g.ID)
	if err != nil {
		return fmt.Errorf("failed to execute mark completed statement: %w", err)
	}
	return nil
}

// MarkFailed moves the record to failed with the given error text.
func (r *mysqlGenerationRepository) MarkFailed(id int64, errorText string) error {
	query := "UPDATE generations SET status = ?, error_text = ?, updated_at = NOW() WHERE id = ?"
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare mark failed statement: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(string(model.GenerationFailed), errorText, id)
	if err != nil {
		return fmt.Errorf("failed to execute mark failed statement: %w", err)
	}
	return nil
}

// UpdateArtifacts persists whatever a run accumulated — chosen object,
// prompt, prediction and archive pointers, token and cost counters — without
// touching the record's status. Used on the failure path so partial spend and
// the archived image stay on the record.
func (r *mysqlGenerationRepository) UpdateArtifacts(g *model.GenerationRecord) error {
	query := `UPDATE generations SET chosen_object = ?, prompt = ?, prediction_id = ?,
	          archive_key = ?, image_hash = ?, near_duplicate = ?,
	          extraction_tokens_in = ?, extraction_tokens_out = ?, selection_tokens_in = ?, selection_tokens_out = ?,
	          llm_cost_usd = ?, image_cost_usd = ?, total_cost_usd = ?, duration_ms = ?, updated_at = NOW()
	          WHERE id = ?`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare update artifacts statement: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(g.ChosenObject, g.Prompt, g.PredictionID,
		g.ArchiveKey, g.ImageHash, g.NearDuplicate,
		g.ExtractionTokensIn, g.ExtractionTokensOut, g.SelectionTokensIn, g.SelectionTokensOut,
		g.LLMCostUSD, g.ImageCostUSD, g.TotalCostUSD, g.DurationMS, g.ID)
	if err != nil {
		return fmt.Errorf("failed to execute update artifacts statement: %w", err)
	}
	return nil
}

// LatestCompleted retrieves the most recent completed generation for a
// playlist, or nil if it has never finished a run.
func (r *mysqlGenerationRepository) LatestCompleted(playlistID string) (*model.GenerationRecord, error) {
	query := "SELECT " + generationColumns + " FROM generations WHERE playlist_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1"
	g, err := scanGeneration(r.db.QueryRow(query, playlistID, string(model.GenerationCompleted)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No completed generation yet
		}
		return nil, fmt.Errorf("failed to scan latest generation for playlist %s: %w", playlistID, err)
	}
	return g, nil
}

// FailStale fails every record left in pending or processing longer than
// the given window. A record that old belongs to a crashed worker; a live
// run always finishes or fails well inside the window.
func (r *mysqlGenerationRepository) FailStale(window time.Duration) (int64, error) {
	query := `UPDATE generations SET status = ?, error_text = ?, updated_at = NOW()
	          WHERE status IN (?, ?) AND updated_at < NOW() - INTERVAL ? SECOND`
	res, err := r.db.Exec(query, string(model.GenerationFailed), "abandoned by crashed worker",
		string(model.GenerationPending), string(model.GenerationProcessing), int64(window.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to execute fail stale statement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows for fail stale: %w", err)
	}
	return affected, nil
}

// ListByPlaylist retrieves the most recent generations for a playlist.
func (r *mysqlGenerationRepository) ListByPlaylist(playlistID string, limit int) ([]*model.GenerationRecord, error) {
	query := "SELECT " + generationColumns + " FROM generations WHERE playlist_id = ? ORDER BY created_at DESC LIMIT ?"
	rows, err := r.db.Query(query, playlistID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations for playlist %s: %w", playlistID, err)
	}
	defer rows.Close()

	var records []*model.GenerationRecord
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation row: %w", err)
		}
		records = append(records, g)
	}
	return records, rows.Err()
}
