package data

import (
	"context"
	"errors"
	"time"

	"cortex/cmd/cortex-gateway/internal/domain"
	"cortex/pkg/cache"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// schemaCacheTTL schema缓存有效期
const schemaCacheTTL = 5 * time.Minute

// CollectionPO 集合注册项持久化对象
type CollectionPO struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Name      string    `gorm:"size:255;not null;uniqueIndex:idx_collection_name"`
	Schema    string    `gorm:"type:jsonb;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName 表名
func (CollectionPO) TableName() string {
	return "_cortex_collections"
}

// CollectionRepository 集合注册表实现，schema走cache-aside
type CollectionRepository struct {
	data *Data
	log  *log.Helper
}

// NewCollectionRepo 创建集合注册表
func NewCollectionRepo(data *Data, logger log.Logger) domain.CollectionRepository {
	return &CollectionRepository{data: data, log: log.NewHelper(logger)}
}

// SaveSchema 注册集合schema
func (r *CollectionRepository) SaveSchema(ctx context.Context, schema *domain.CollectionSchema) error {
	payload, err := domain.MarshalSchema(schema)
	if err != nil {
		return err
	}

	po := &CollectionPO{
		ID:     uuid.New().String(),
		Name:   schema.Name,
		Schema: string(payload),
	}
	if err := r.data.db.WithContext(ctx).Create(po).Error; err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domain.ErrCollectionExists
		}
		r.log.Errorf("failed to register collection %s: %v", schema.Name, err)
		return err
	}
	return nil
}

// UpdateSchema 覆盖已注册schema并废弃缓存
func (r *CollectionRepository) UpdateSchema(ctx context.Context, schema *domain.CollectionSchema) error {
	payload, err := domain.MarshalSchema(schema)
	if err != nil {
		return err
	}

	result := r.data.db.WithContext(ctx).
		Model(&CollectionPO{}).
		Where("name = ?", schema.Name).
		Update("schema", string(payload))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrCollectionNotFound
	}

	r.dropCached(ctx, schema.Name)
	return nil
}

// GetSchema 读取schema，优先走缓存
func (r *CollectionRepository) GetSchema(ctx context.Context, name string) (*domain.CollectionSchema, error) {
	if r.data.cache != nil {
		if raw, err := r.data.cache.Get(ctx, cacheKey(name)); err == nil {
			if schema, err := domain.UnmarshalSchema(raw); err == nil {
				return schema, nil
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			r.log.Warnf("schema cache read failed for %s: %v", name, err)
		}
	}

	var po CollectionPO
	if err := r.data.db.WithContext(ctx).Where("name = ?", name).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCollectionNotFound
		}
		return nil, err
	}

	schema, err := domain.UnmarshalSchema([]byte(po.Schema))
	if err != nil {
		return nil, err
	}

	if r.data.cache != nil {
		if err := r.data.cache.Set(ctx, cacheKey(name), []byte(po.Schema), schemaCacheTTL); err != nil {
			r.log.Warnf("schema cache write failed for %s: %v", name, err)
		}
	}
	return schema, nil
}

// ListSchemas 列出全部集合
func (r *CollectionRepository) ListSchemas(ctx context.Context) ([]*domain.CollectionSchema, error) {
	var pos []CollectionPO
	if err := r.data.db.WithContext(ctx).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}}).
		Find(&pos).Error; err != nil {
		return nil, err
	}

	schemas := make([]*domain.CollectionSchema, 0, len(pos))
	for _, po := range pos {
		schema, err := domain.UnmarshalSchema([]byte(po.Schema))
		if err != nil {
			r.log.Errorf("corrupt schema entry for %s: %v", po.Name, err)
			continue
		}
		schemas = append(schemas, schema)
	}
	return schemas, nil
}

// DeleteSchema 注销集合
func (r *CollectionRepository) DeleteSchema(ctx context.Context, name string) error {
	result := r.data.db.WithContext(ctx).Where("name = ?", name).Delete(&CollectionPO{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrCollectionNotFound
	}
	r.dropCached(ctx, name)
	return nil
}

func (r *CollectionRepository) dropCached(ctx context.Context, name string) {
	if r.data.cache == nil {
		return
	}
	if err := r.data.cache.Delete(ctx, cacheKey(name)); err != nil {
		r.log.Warnf("schema cache invalidation failed for %s: %v", name, err)
	}
}

func cacheKey(name string) string {
	return "schema:" + name
}
