package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss 缓存未命中
	ErrCacheMiss = errors.New("cache miss")
)

// Cache 缓存接口
type Cache interface {
	// Get 获取缓存值，未命中返回ErrCacheMiss
	Get(ctx context.Context, key string) ([]byte, error)
	// Set 设置缓存值
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete 删除缓存键
	Delete(ctx context.Context, keys ...string) error
	// Close 关闭底层连接
	Close() error
}
