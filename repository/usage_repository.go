package repository

import (
	"database/sql"
	"fmt"

	"github.com/EvanCNavarro/disc-sub000/model"
)

// UsageRepository defines the interface for the billing usage ledger.
type UsageRepository interface {
	Record(e *model.UsageEvent) error
	ListByUser(userID int64, limit int) ([]*model.UsageEvent, error)
}

// mysqlUsageRepository implements UsageRepository for MySQL.
type mysqlUsageRepository struct {
	db *sql.DB
}

// NewMySQLUsageRepository creates a new mysqlUsageRepository.
func NewMySQLUsageRepository(db *sql.DB) UsageRepository {
	return &mysqlUsageRepository{db: db}
}

// Record appends one ledger event. The caller assigns the event ID.
func (r *mysqlUsageRepository) Record(e *model.UsageEvent) error {
	query := `INSERT INTO usage_events (id, user_id, playlist_id, generation_id, action, tokens_in, tokens_out, cost_usd, success)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare record usage statement: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(e.ID, e.UserID, e.PlaylistID, e.GenerationID, e.Action, e.TokensIn, e.TokensOut, e.CostUSD, e.Success)
	if err != nil {
		return fmt.Errorf("failed to execute record usage statement: %w", err)
	}
	return nil
}

// ListByUser retrieves the most recent ledger events for a user.
func (r *mysqlUsageRepository) ListByUser(userID int64, limit int) ([]*model.UsageEvent, error) {
	query := `SELECT id, user_id, playlist_id, generation_id, action, tokens_in, tokens_out, cost_usd, success, created_at
	          FROM usage_events WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.Query(query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage events for user %d: %w", userID, err)
	}
	defer rows.Close()

	var events []*model.UsageEvent
	for rows.Next() {
		e := &model.UsageEvent{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.PlaylistID, &e.GenerationID, &e.Action,
			&e.TokensIn, &e.TokensOut, &e.CostUSD, &e.Success, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage event row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
