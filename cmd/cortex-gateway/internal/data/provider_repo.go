package data

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"cortex/cmd/cortex-gateway/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ProviderPO 嵌入提供方持久化对象
type ProviderPO struct {
	ID             string    `gorm:"primaryKey;size:64"`
	Name           string    `gorm:"size:255;not null;uniqueIndex:idx_provider_name"`
	Provider       string    `gorm:"size:50;not null"`
	APIKey         string    `gorm:"column:api_key;type:text;not null"`
	EmbeddingModel string    `gorm:"size:100;not null"`
	BaseURL        string    `gorm:"size:512"`
	Metadata       string    `gorm:"type:jsonb;not null;default:'{}'"`
	Enabled        bool      `gorm:"not null;default:true"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// TableName 表名
func (ProviderPO) TableName() string {
	return "_cortex_embedding_providers"
}

// ProviderRepository 提供方注册表实现
type ProviderRepository struct {
	data *Data
	log  *log.Helper
}

// NewProviderRepo 创建提供方注册表
func NewProviderRepo(data *Data, logger log.Logger) domain.ProviderRepository {
	return &ProviderRepository{data: data, log: log.NewHelper(logger)}
}

// Create 注册提供方
func (r *ProviderRepository) Create(ctx context.Context, p *domain.ProviderConfig) error {
	metadata := "{}"
	if len(p.Metadata) > 0 {
		raw, err := json.Marshal(p.Metadata)
		if err != nil {
			return err
		}
		metadata = string(raw)
	}

	po := &ProviderPO{
		ID:             uuid.New().String(),
		Name:           p.Name,
		Provider:       string(p.Kind),
		APIKey:         p.APIKey,
		EmbeddingModel: p.EmbeddingModel,
		BaseURL:        p.BaseURL,
		Metadata:       metadata,
		Enabled:        p.Enabled,
	}
	if err := r.data.db.WithContext(ctx).Create(po).Error; err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domain.NewDuplicateKeyError("name")
		}
		r.log.Errorf("failed to register provider %s: %v", p.Name, err)
		return err
	}

	p.ID = po.ID
	p.CreatedAt = po.CreatedAt
	p.UpdatedAt = po.UpdatedAt
	return nil
}

// Get 按ID读取提供方
func (r *ProviderRepository) Get(ctx context.Context, id string, includeSecret bool) (*domain.ProviderConfig, error) {
	var po ProviderPO
	if err := r.data.db.WithContext(ctx).Where("id = ?", id).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProviderNotFound
		}
		return nil, err
	}
	return r.toDomain(&po, includeSecret), nil
}

// List 列出全部提供方，密钥不回传
func (r *ProviderRepository) List(ctx context.Context) ([]*domain.ProviderConfig, error) {
	var pos []ProviderPO
	if err := r.data.db.WithContext(ctx).Order("created_at").Find(&pos).Error; err != nil {
		return nil, err
	}

	out := make([]*domain.ProviderConfig, 0, len(pos))
	for i := range pos {
		out = append(out, r.toDomain(&pos[i], false))
	}
	return out, nil
}

// Delete 注销提供方
func (r *ProviderRepository) Delete(ctx context.Context, id string) error {
	result := r.data.db.WithContext(ctx).Where("id = ?", id).Delete(&ProviderPO{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrProviderNotFound
	}
	return nil
}

func (r *ProviderRepository) toDomain(po *ProviderPO, includeSecret bool) *domain.ProviderConfig {
	var metadata map[string]any
	if po.Metadata != "" {
		_ = json.Unmarshal([]byte(po.Metadata), &metadata)
	}

	out := &domain.ProviderConfig{
		ID:             po.ID,
		Name:           po.Name,
		Kind:           domain.ProviderKind(po.Provider),
		EmbeddingModel: po.EmbeddingModel,
		BaseURL:        po.BaseURL,
		Metadata:       metadata,
		Enabled:        po.Enabled,
		HasAPIKey:      po.APIKey != "",
		CreatedAt:      po.CreatedAt,
		UpdatedAt:      po.UpdatedAt,
	}
	if includeSecret {
		out.APIKey = po.APIKey
	}
	return out
}
