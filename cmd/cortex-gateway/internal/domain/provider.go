package domain

import (
	"context"
	"time"
)

// ProviderKind 嵌入服务类型
type ProviderKind string

const (
	ProviderOpenAI ProviderKind = "openai"
	ProviderAzure  ProviderKind = "azure"
	ProviderLocal  ProviderKind = "local"
)

// ProviderConfig 嵌入提供方注册项
// api_key只进不出：读取接口默认不回传密钥
type ProviderConfig struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Kind           ProviderKind   `json:"provider"`
	APIKey         string         `json:"-"`
	EmbeddingModel string         `json:"embedding_model"`
	BaseURL        string         `json:"base_url,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Enabled        bool           `json:"enabled"`
	HasAPIKey      bool           `json:"has_api_key"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ProviderRepository 嵌入提供方注册表
type ProviderRepository interface {
	// Create 注册提供方，名称冲突映射为DuplicateKey
	Create(ctx context.Context, p *ProviderConfig) error
	// Get 按ID读取，includeSecret为true时携带api_key
	Get(ctx context.Context, id string, includeSecret bool) (*ProviderConfig, error)
	// List 列出全部提供方（不含密钥）
	List(ctx context.Context) ([]*ProviderConfig, error)
	// Delete 注销提供方
	Delete(ctx context.Context, id string) error
}
