package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/EvanCNavarro/disc-sub000/db"

	"github.com/go-redis/redis/v8"
)

// 进度镜像的过期时间，略长于流水线的最长运行时间
const progressTTL = 30 * time.Minute

// GetProgressKey 根据歌单行ID生成进度文档的Redis键
func GetProgressKey(playlistID int64) string {
	return fmt.Sprintf("progress:%d", playlistID)
}

// MirrorProgress 将进度JSON文档镜像到Redis，供状态接口低延迟读取。
// MySQL中的进度列才是权威数据，镜像失败由调用方忽略。
func MirrorProgress(ctx context.Context, playlistID int64, doc string) error {
	if db.RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	err := db.RedisClient.Set(ctx, GetProgressKey(playlistID), doc, progressTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to mirror progress: %w", err)
	}
	return nil
}

// GetProgress 读取镜像的进度文档，未命中时返回空字符串
func GetProgress(ctx context.Context, playlistID int64) (string, error) {
	if db.RedisClient == nil {
		return "", fmt.Errorf("Redis client not initialized")
	}

	doc, err := db.RedisClient.Get(ctx, GetProgressKey(playlistID)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil // 镜像未命中
		}
		return "", fmt.Errorf("failed to get mirrored progress: %w", err)
	}
	return doc, nil
}

// ClearProgress 删除进度镜像（生成结束后调用）
func ClearProgress(ctx context.Context, playlistID int64) error {
	if db.RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	_, err := db.RedisClient.Del(ctx, GetProgressKey(playlistID)).Result()
	if err != nil {
		return fmt.Errorf("failed to clear mirrored progress: %w", err)
	}
	return nil
}
