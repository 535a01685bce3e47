package repository

import (
	"database/sql"
	"fmt"

	"github.com/EvanCNavarro/disc-sub000/model"
)

// AccountRepository defines the interface for linked platform accounts.
type AccountRepository interface {
	Get(userID int64) (*model.PlatformAccount, error)
	Upsert(a *model.PlatformAccount) error
	UpdateRefreshToken(userID int64, sealed []byte) error
}

// mysqlAccountRepository implements AccountRepository for MySQL.
type mysqlAccountRepository struct {
	db *sql.DB
}

// NewMySQLAccountRepository creates a new mysqlAccountRepository.
func NewMySQLAccountRepository(db *sql.DB) AccountRepository {
	return &mysqlAccountRepository{db: db}
}

// Get retrieves the linked account for a user, or nil if none is linked.
func (r *mysqlAccountRepository) Get(userID int64) (*model.PlatformAccount, error) {
	query := `SELECT user_id, platform_user_id, refresh_token_enc, scope, token_rotated_at, created_at, updated_at
	          FROM platform_accounts WHERE user_id = ?`
	row := r.db.QueryRow(query, userID)

	a := &model.PlatformAccount{}
	var scope sql.NullString
	var rotatedAt sql.NullTime
	err := row.Scan(&a.UserID, &a.PlatformUserID, &a.RefreshTokenEnc, &scope, &rotatedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Account not linked
		}
		return nil, fmt.Errorf("failed to scan account row for user %d: %w", userID, err)
	}
	a.Scope = scope.String
	if rotatedAt.Valid {
		a.TokenRotatedAt = &rotatedAt.Time
	}
	return a, nil
}

// Upsert links or relinks a platform account.
func (r *mysqlAccountRepository) Upsert(a *model.PlatformAccount) error {
	query := `INSERT INTO platform_accounts (user_id, platform_user_id, refresh_token_enc, scope, token_rotated_at)
	          VALUES (?, ?, ?, ?, NOW())
	          ON DUPLICATE KEY UPDATE platform_user_id = VALUES(platform_user_id),
	          refresh_token_enc = VALUES(refresh_token_enc), scope = VALUES(scope),
	          token_rotated_at = NOW(), updated_at = NOW()`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert account statement: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(a.UserID, a.PlatformUserID, a.RefreshTokenEnc, a.Scope)
	if err != nil {
		return fmt.Errorf("failed to execute upsert account statement: %w", err)
	}
	return nil
}

// UpdateRefreshToken persists a rotated refresh token. Callers must store
// the rotation before using the paired access token.
func (r *mysqlAccountRepository) UpdateRefreshToken(userID int64, sealed []byte) error {
	query := "UPDATE platform_accounts SET refresh_token_enc = ?, token_rotated_at = NOW(), updated_at = NOW() WHERE user_id = ?"
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare update refresh token statement: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(sealed, userID)
	if err != nil {
		return fmt.Errorf("failed to execute update refresh token statement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows for refresh token update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no linked account for user %d", userID)
	}
	return nil
}
