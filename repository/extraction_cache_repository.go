package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/EvanCNavarro/disc-sub000/model"
)

// ExtractionCacheRepository defines the interface for the persistent
// per-track extraction cache, keyed by track ID and model name.
type ExtractionCacheRepository interface {
	Get(trackID, modelName string) (*model.CachedExtraction, error)
	Put(entry *model.CachedExtraction) error
}

// mysqlExtractionCacheRepository implements ExtractionCacheRepository for MySQL.
type mysqlExtractionCacheRepository struct {
	db *sql.DB
}

// NewMySQLExtractionCacheRepository creates a new mysqlExtractionCacheRepository.
func NewMySQLExtractionCacheRepository(db *sql.DB) ExtractionCacheRepository {
	return &mysqlExtractionCacheRepository{db: db}
}

// Get retrieves a cached extraction, or nil on a miss. An entry with zero
// objects is a valid hit recording a degraded extraction.
func (r *mysqlExtractionCacheRepository) Get(trackID, modelName string) (*model.CachedExtraction, error) {
	query := "SELECT track_id, model, objects, tokens_in, tokens_out FROM extraction_cache WHERE track_id = ? AND model = ?"
	row := r.db.QueryRow(query, trackID, modelName)

	entry := &model.CachedExtraction{}
	var objects sql.NullString
	err := row.Scan(&entry.TrackID, &entry.Model, &objects, &entry.TokensIn, &entry.TokensOut)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to scan extraction cache row for track %s: %w", trackID, err)
	}
	if objects.Valid && objects.String != "" {
		if err := json.Unmarshal([]byte(objects.String), &entry.Objects); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cached objects for track %s: %w", trackID, err)
		}
	}
	return entry, nil
}

// Put stores an extraction result. Entries for the same key are identical by
// construction, so INSERT IGNORE resolves concurrent writes.
func (r *mysqlExtractionCacheRepository) Put(entry *model.CachedExtraction) error {
	objects, err := json.Marshal(entry.Objects)
	if err != nil {
		return fmt.Errorf("failed to marshal objects for track %s: %w", entry.TrackID, err)
	}

	query := "INSERT IGNORE INTO extraction_cache (track_id, model, objects, tokens_in, tokens_out) VALUES (?, ?, ?, ?, ?)"
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare put extraction cache statement: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(entry.TrackID, entry.Model, string(objects), entry.TokensIn, entry.TokensOut)
	if err != nil {
		return fmt.Errorf("failed to execute put extraction cache statement: %w", err)
	}
	return nil
}
