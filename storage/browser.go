package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/EvanCNavarro/disc-sub000/config"

	"github.com/minio/minio-go/v7"
)

// ArchivePrefix 是归档封面在存储桶内的根前缀，
// 对象键形如 generations/{userID}/{playlistID}/{unix}.png
const ArchivePrefix = "generations/"

// ArchiveEntry 是桶内一张归档封面
type ArchiveEntry struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ArchiveStats 归档汇总信息
type ArchiveStats struct {
	Objects      int64
	TotalBytes   int64
	LastModified time.Time
}

// Browser 遍历与清理封面归档，所有操作都限定在归档前缀之下
type Browser struct {
	client *minio.Client
	bucket string
}

// NewBrowser 基于 InitMinio 建立的连接创建归档浏览器
func NewBrowser() (*Browser, error) {
	client := GetMinioClient()
	if client == nil {
		return nil, fmt.Errorf("MinIO client not initialized")
	}
	return &Browser{client: client, bucket: config.Load().MinioBucket}, nil
}

// normalizePrefix 把任意前缀限定到归档根之下，防止误碰桶里的其他数据
func normalizePrefix(prefix string) string {
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix == "" {
		return ArchivePrefix
	}
	if !strings.HasPrefix(prefix, ArchivePrefix) {
		return ArchivePrefix + prefix
	}
	return prefix
}

// List 返回前缀下的全部归档对象及汇总统计
func (b *Browser) List(ctx context.Context, prefix string) ([]ArchiveEntry, *ArchiveStats, error) {
	stats := &ArchiveStats{}
	var entries []ArchiveEntry

	objectCh := b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    normalizePrefix(prefix),
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("failed to list archive objects: %w", object.Err)
		}
		stats.Objects++
		stats.TotalBytes += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}
		entries = append(entries, ArchiveEntry{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
		})
	}
	return entries, stats, nil
}

// PrintList 打印前缀下的归档文件列表
func (b *Browser) PrintList(ctx context.Context, prefix string) error {
	entries, stats, err := b.List(ctx, prefix)
	if err != nil {
		return err
	}

	fmt.Printf("归档封面: %d 张, 共 %s\n", stats.Objects, formatSize(stats.TotalBytes))
	for _, e := range entries {
		fmt.Printf("%s  %8s  %s\n",
			e.LastModified.Format("2006-01-02 15:04:05"),
			formatSize(e.Size),
			e.Key)
	}
	return nil
}

// PrintStats 打印归档汇总统计，含按歌单的聚合
func (b *Browser) PrintStats(ctx context.Context, prefix string) error {
	entries, stats, err := b.List(ctx, prefix)
	if err != nil {
		return err
	}

	// 按 generations/{user}/{playlist}/ 聚合
	perPlaylist := make(map[string]int64)
	users := make(map[string]bool)
	for _, e := range entries {
		parts := strings.Split(e.Key, "/")
		if len(parts) >= 4 {
			users[parts[1]] = true
			perPlaylist[parts[1]+"/"+parts[2]]++
		}
	}

	fmt.Printf("\n=== 封面归档统计 ===\n")
	fmt.Printf("存储桶: %s\n", b.bucket)
	fmt.Printf("封面数量: %d\n", stats.Objects)
	fmt.Printf("总大小: %s\n", formatSize(stats.TotalBytes))
	if !stats.LastModified.IsZero() {
		fmt.Printf("最近归档: %s\n", stats.LastModified.Format(time.RFC3339))
	}
	fmt.Printf("用户数: %d, 歌单数: %d\n", len(users), len(perPlaylist))
	return nil
}

// PrintTree 按 用户/歌单/封面 三层打印归档结构
func (b *Browser) PrintTree(ctx context.Context, prefix string) error {
	entries, stats, err := b.List(ctx, prefix)
	if err != nil {
		return err
	}

	// user -> playlist -> entries
	tree := make(map[string]map[string][]ArchiveEntry)
	for _, e := range entries {
		parts := strings.Split(e.Key, "/")
		if len(parts) < 4 {
			continue
		}
		user, playlist := parts[1], parts[2]
		if tree[user] == nil {
			tree[user] = make(map[string][]ArchiveEntry)
		}
		tree[user][playlist] = append(tree[user][playlist], e)
	}

	var userIDs []string
	for u := range tree {
		userIDs = append(userIDs, u)
	}
	sort.Strings(userIDs)

	fmt.Printf("归档封面: %d 张, 共 %s\n", stats.Objects, formatSize(stats.TotalBytes))
	for _, u := range userIDs {
		fmt.Printf("用户 %s/\n", u)
		var playlistIDs []string
		for p := range tree[u] {
			playlistIDs = append(playlistIDs, p)
		}
		sort.Strings(playlistIDs)
		for _, p := range playlistIDs {
			covers := tree[u][p]
			sort.Slice(covers, func(i, j int) bool { return covers[i].Key < covers[j].Key })
			fmt.Printf("  歌单 %s/ (%d 张)\n", p, len(covers))
			for _, c := range covers {
				name := c.Key[strings.LastIndex(c.Key, "/")+1:]
				fmt.Printf("    %s (%s, %s)\n", name, formatSize(c.Size),
					c.LastModified.Format("2006-01-02 15:04:05"))
			}
		}
	}
	return nil
}

// Purge 删除前缀下的全部归档对象，返回删除数量
func (b *Browser) Purge(ctx context.Context, prefix string) (int, error) {
	entries, _, err := b.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("archive prefix %s is empty", normalizePrefix(prefix))
	}

	objectsCh := make(chan minio.ObjectInfo, len(entries))
	go func() {
		defer close(objectsCh)
		for _, e := range entries {
			objectsCh <- minio.ObjectInfo{Key: e.Key}
		}
	}()

	errorsCh := b.client.RemoveObjects(ctx, b.bucket, objectsCh, minio.RemoveObjectsOptions{})
	for rmErr := range errorsCh {
		if rmErr.Err != nil {
			return 0, fmt.Errorf("failed to remove archive object %s: %w", rmErr.ObjectName, rmErr.Err)
		}
	}
	return len(entries), nil
}

// formatSize 格式化字节数
func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
