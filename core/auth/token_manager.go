package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/EvanCNavarro/disc-sub000/cache"
	"github.com/EvanCNavarro/disc-sub000/logger"
	"github.com/EvanCNavarro/disc-sub000/repository"
)

// TokenResponse is the outcome of one refresh grant. RefreshToken is empty
// when the platform did not rotate it.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// RefreshExchanger performs the OAuth refresh grant against the platform's
// token endpoint.
type RefreshExchanger interface {
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// Manager turns a user's stored refresh token into a usable access token.
// Access tokens live in a short-TTL cache; refresh tokens only ever exist
// decrypted inside one exchange.
type Manager struct {
	accounts  repository.AccountRepository
	sealer    *Sealer
	exchanger RefreshExchanger
}

// NewManager creates a token manager.
func NewManager(accounts repository.AccountRepository, sealer *Sealer, exchanger RefreshExchanger) *Manager {
	return &Manager{
		accounts:  accounts,
		sealer:    sealer,
		exchanger: exchanger,
	}
}

// AccessToken returns a valid access token for the user, refreshing through
// the platform when the cache has nothing.
//
// When the platform rotates the refresh token, the rotation is persisted
// BEFORE the access token is returned: using the access token first and
// crashing before the store would strand the account with a dead refresh
// token.
func (m *Manager) AccessToken(ctx context.Context, userID int64) (string, error) {
	if token, err := cache.GetAccessToken(ctx, userID); err != nil {
		logger.Warn("[TokenManager] 读取令牌缓存失败",
			logger.Int64("userId", userID),
			logger.ErrorField(err))
	} else if token != "" {
		return token, nil
	}

	account, err := m.accounts.Get(userID)
	if err != nil {
		return "", fmt.Errorf("failed to load platform account: %w", err)
	}
	if account == nil {
		return "", fmt.Errorf("user %d has no linked platform account", userID)
	}

	refreshToken, err := m.sealer.Open(account.RefreshTokenEnc)
	if err != nil {
		return "", fmt.Errorf("failed to unseal refresh token for user %d: %w", userID, err)
	}

	resp, err := m.exchanger.ExchangeRefreshToken(ctx, refreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh grant failed for user %d: %w", userID, err)
	}

	if resp.RefreshToken != "" && resp.RefreshToken != refreshToken {
		sealed, err := m.sealer.Seal(resp.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("failed to seal rotated refresh token: %w", err)
		}
		if err := m.accounts.UpdateRefreshToken(userID, sealed); err != nil {
			return "", fmt.Errorf("failed to persist rotated refresh token: %w", err)
		}
		logger.Info("[TokenManager] 刷新令牌已轮换",
			logger.Int64("userId", userID))
	}

	if resp.ExpiresIn > 60 {
		ttl := time.Duration(resp.ExpiresIn-60) * time.Second
		if err := cache.CacheAccessToken(ctx, userID, resp.AccessToken, ttl); err != nil {
			logger.Warn("[TokenManager] 写入令牌缓存失败",
				logger.Int64("userId", userID),
				logger.ErrorField(err))
		}
	}
	return resp.AccessToken, nil
}

// Invalidate drops the cached access token, forcing the next call through
// the refresh grant. Called when the platform rejects a token early.
func (m *Manager) Invalidate(ctx context.Context, userID int64) {
	if err := cache.InvalidateAccessToken(ctx, userID); err != nil {
		logger.Warn("[TokenManager] 清除令牌缓存失败",
			logger.Int64("userId", userID),
			logger.ErrorField(err))
	}
}
