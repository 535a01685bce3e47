package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/EvanCNavarro/disc-sub000/db"

	"github.com/go-redis/redis/v8"
)

// GetTokenKey 根据用户ID生成访问令牌的Redis键
func GetTokenKey(userID int64) string {
	return fmt.Sprintf("spotify:token:%d", userID)
}

// CacheAccessToken 缓存平台访问令牌，TTL比令牌有效期略短以避免使用过期令牌
func CacheAccessToken(ctx context.Context, userID int64, token string, ttl time.Duration) error {
	if db.RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	if ttl <= 0 {
		return fmt.Errorf("invalid token TTL: %v", ttl)
	}

	err := db.RedisClient.Set(ctx, GetTokenKey(userID), token, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to cache access token: %w", err)
	}
	return nil
}

// GetAccessToken 获取缓存的访问令牌，未命中时返回空字符串
func GetAccessToken(ctx context.Context, userID int64) (string, error) {
	if db.RedisClient == nil {
		return "", fmt.Errorf("Redis client not initialized")
	}

	token, err := db.RedisClient.Get(ctx, GetTokenKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil // 缓存未命中
		}
		return "", fmt.Errorf("failed to get cached access token: %w", err)
	}
	return token, nil
}

// InvalidateAccessToken 删除缓存的访问令牌（令牌被平台拒绝时调用）
func InvalidateAccessToken(ctx context.Context, userID int64) error {
	if db.RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	_, err := db.RedisClient.Del(ctx, GetTokenKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("failed to invalidate access token: %w", err)
	}
	return nil
}
