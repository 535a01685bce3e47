package storage

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/EvanCNavarro/disc-sub000/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	minioClient *minio.Client
)

// InitMinio 初始化 MinIO 客户端
func InitMinio() error {
	cfg := config.Load()

	log.Printf("正在连接 MinIO 服务器...")
	log.Printf("Bucket: %s", cfg.MinioBucket)
	if len(cfg.MinioAccessKey) > 4 {
		log.Printf("AccessKey: %s...", cfg.MinioAccessKey[:4])
	}

	// 初始化 MinIO 客户端
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return fmt.Errorf("创建 MinIO 客户端失败: %v", err)
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 检查存储桶是否存在
	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %v", err)
	}

	if !exists {
		// 如果存储桶不存在，尝试创建它
		err = client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{
			Region: cfg.MinioRegion,
		})
		if err != nil {
			return fmt.Errorf("创建存储桶失败: %v", err)
		}
		log.Printf("✅ 成功创建存储桶: %s", cfg.MinioBucket)
	} else {
		log.Printf("✅ 存储桶已存在: %s", cfg.MinioBucket)
	}

	// 保存客户端实例
	minioClient = client
	log.Println("✅ MinIO 客户端初始化成功！")
	return nil
}

// GetMinioClient 获取 MinIO 客户端实例
func GetMinioClient() *minio.Client {
	return minioClient
}

// CoverKey 生成封面归档的对象键
func CoverKey(userID int64, playlistID string, t time.Time) string {
	return fmt.Sprintf("generations/%d/%s/%d.png", userID, playlistID, t.Unix())
}

// ArchiveCover 将原始PNG封面归档到对象存储，返回对象键。
// 归档在压缩和上传之前进行，保证即使后续步骤失败也留有原图。
func ArchiveCover(ctx context.Context, key string, data []byte) error {
	if minioClient == nil {
		return fmt.Errorf("MinIO 客户端未初始化")
	}
	cfg := config.Load()

	_, err := minioClient.PutObject(ctx, cfg.MinioBucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "image/png",
	})
	if err != nil {
		return fmt.Errorf("归档封面失败: %v", err)
	}
	return nil
}

// Archive 以流水线需要的形态封装封面归档。
type Archive struct{}

// Store 按确定性对象键归档原始PNG，返回该键。
func (Archive) Store(ctx context.Context, userID int64, playlistID string, png []byte) (string, error) {
	key := CoverKey(userID, playlistID, time.Now())
	if err := ArchiveCover(ctx, key, png); err != nil {
		return "", err
	}
	return key, nil
}

// GetCover 读取归档的封面对象
func GetCover(ctx context.Context, key string) (*minio.Object, error) {
	if minioClient == nil {
		return nil, fmt.Errorf("MinIO 客户端未初始化")
	}
	cfg := config.Load()

	object, err := minioClient.GetObject(ctx, cfg.MinioBucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取归档封面失败: %v", err)
	}
	return object, nil
}
