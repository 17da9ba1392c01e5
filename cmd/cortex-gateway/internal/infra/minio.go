package infra

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"cortex/cmd/cortex-gateway/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig 对象存储连接参数
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinioStore 基于MinIO的对象存储实现
type MinioStore struct {
	cli *minio.Client
	log *log.Helper
}

// NewMinioClient 建立MinIO连接
func NewMinioClient(cfg MinioConfig) (*minio.Client, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect minio at %s: %w", cfg.Endpoint, err)
	}
	return cli, nil
}

// NewMinioStore 创建对象存储
func NewMinioStore(cli *minio.Client, logger log.Logger) domain.BlobStore {
	return &MinioStore{cli: cli, log: log.NewHelper(logger)}
}

// EnsureBucket 确保桶存在
func (s *MinioStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.cli.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		// 并发创建时另一方可能已建成
		if exists, checkErr := s.cli.BucketExists(ctx, bucket); checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("make bucket %s: %w", bucket, err)
	}
	return nil
}

// Put 上传对象
func (s *MinioStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.cli.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Get 读取对象内容
func (s *MinioStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.cli.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Delete 删除对象
func (s *MinioStore) Delete(ctx context.Context, bucket, key string) error {
	if err := s.cli.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// PresignedURL 生成限时下载链接
func (s *MinioStore) PresignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	u, err := s.cli.PresignedGetObject(ctx, bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object %s/%s: %w", bucket, key, err)
	}
	return u.String(), nil
}
