package db

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/EvanCNavarro/disc-sub000/config"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

var DB *sql.DB

// ConnectDB establishes a connection to the database.
func ConnectDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	var err error
	DB, err = sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	if err = DB.Ping(); err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to the database.")
	return nil
}

// InitDB initializes the database schema, creating tables if they don't exist.
func InitDB() error {
	if err := createPlaylistsTable(); err != nil {
		return err
	}
	if err := createGenerationsTable(); err != nil {
		return err
	}
	if err := createPlaylistAnalysesTable(); err != nil {
		return err
	}
	if err := createClaimedObjectsTable(); err != nil {
		return err
	}
	if err := createLyricCacheTable(); err != nil {
		return err
	}
	if err := createExtractionCacheTable(); err != nil {
		return err
	}
	if err := createUsageEventsTable(); err != nil {
		return err
	}
	if err := createJobsTable(); err != nil {
		return err
	}
	if err := createPlatformAccountsTable(); err != nil {
		return err
	}

	log.Println("Database initialization completed.")
	return nil
}

func createPlaylistsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS playlists (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		platform_id VARCHAR(64) NOT NULL,
		name VARCHAR(255),
		track_count INT NOT NULL DEFAULT 0,
		cover_url VARCHAR(767),
		status VARCHAR(20) NOT NULL DEFAULT 'idle',
		style_id VARCHAR(64),
		auto_update TINYINT(1) NOT NULL DEFAULT 0,
		progress TEXT,
		status_since TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_gen_at TIMESTAMP NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		CONSTRAINT uq_user_platform UNIQUE (user_id, platform_id)
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create playlists table: %w", err)
	}
	log.Println("Playlists table initialized successfully (or already exists).")
	return nil
}

func createGenerationsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS generations (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		playlist_id VARCHAR(64) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		trigger_type VARCHAR(20) NOT NULL DEFAULT 'manual',
		style_id VARCHAR(64),
		chosen_object VARCHAR(255),
		prompt TEXT,
		prediction_id VARCHAR(128),
		archive_key VARCHAR(512),
		image_hash CHAR(16),
		near_duplicate TINYINT(1) NOT NULL DEFAULT 0,
		extraction_tokens_in BIGINT NOT NULL DEFAULT 0,
		extraction_tokens_out BIGINT NOT NULL DEFAULT 0,
		selection_tokens_in BIGINT NOT NULL DEFAULT 0,
		selection_tokens_out BIGINT NOT NULL DEFAULT 0,
		llm_cost_usd DECIMAL(12,6) NOT NULL DEFAULT 0,
		image_cost_usd DECIMAL(12,6) NOT NULL DEFAULT 0,
		total_cost_usd DECIMAL(12,6) NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		error_text TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_playlist_created (playlist_id, created_at)
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create generations table: %w", err)
	}
	log.Println("Generations table initialized successfully (or already exists).")
	return nil
}

func createPlaylistAnalysesTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS playlist_analyses (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		generation_id BIGINT NOT NULL,
		playlist_id VARCHAR(64) NOT NULL,
		user_id BIGINT NOT NULL,
		track_snapshot MEDIUMTEXT,
		extractions MEDIUMTEXT,
		convergence TEXT,
		added_tracks TEXT,
		removed_tracks TEXT,
		outlier_count INT NOT NULL DEFAULT 0,
		threshold DOUBLE NOT NULL DEFAULT 0,
		regenerated TINYINT(1) NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_playlist (playlist_id, created_at)
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create playlist_analyses table: %w", err)
	}
	return nil
}

func createClaimedObjectsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS claimed_objects (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		playlist_id VARCHAR(64) NOT NULL,
		object VARCHAR(255) NOT NULL,
		claimed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		superseded_at TIMESTAMP NULL,
		INDEX idx_user_active (user_id, superseded_at)
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create claimed_objects table: %w", err)
	}
	return nil
}

func createLyricCacheTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS lyric_cache (
		track_id VARCHAR(64) PRIMARY KEY,
		track_name VARCHAR(255),
		artist VARCHAR(255),
		lyrics MEDIUMTEXT,
		found TINYINT(1) NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create lyric_cache table: %w", err)
	}
	return nil
}

func createExtractionCacheTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS extraction_cache (
		track_id VARCHAR(64) NOT NULL,
		model VARCHAR(64) NOT NULL,
		objects TEXT,
		tokens_in BIGINT NOT NULL DEFAULT 0,
		tokens_out BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (track_id, model)
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create extraction_cache table: %w", err)
	}
	return nil
}

func createUsageEventsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS usage_events (
		id CHAR(36) PRIMARY KEY,
		user_id BIGINT NOT NULL,
		playlist_id VARCHAR(64) NOT NULL,
		generation_id BIGINT NOT NULL,
		action VARCHAR(32) NOT NULL,
		tokens_in BIGINT NOT NULL DEFAULT 0,
		tokens_out BIGINT NOT NULL DEFAULT 0,
		cost_usd DECIMAL(12,6) NOT NULL DEFAULT 0,
		success TINYINT(1) NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_user_created (user_id, created_at)
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create usage_events table: %w", err)
	}
	return nil
}

func createJobsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS jobs (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		playlist_id VARCHAR(64) NOT NULL,
		trigger_type VARCHAR(20) NOT NULL DEFAULT 'manual',
		options TEXT,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		error_text TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		started_at TIMESTAMP NULL,
		ended_at TIMESTAMP NULL,
		INDEX idx_status_created (status, created_at)
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}
	return nil
}

func createPlatformAccountsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS platform_accounts (
		user_id BIGINT PRIMARY KEY,
		platform_user_id VARCHAR(64) NOT NULL,
		refresh_token_enc VARBINARY(2048) NOT NULL,
		scope VARCHAR(255),
		token_rotated_at TIMESTAMP NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create platform_accounts table: %w", err)
	}
	return nil
}
