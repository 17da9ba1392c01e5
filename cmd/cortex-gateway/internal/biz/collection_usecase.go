package biz

import (
	"context"
	"fmt"

	"cortex/cmd/cortex-gateway/internal/domain"
	"cortex/pkg/saga"

	"github.com/go-kratos/kratos/v2/log"
)

// CollectionUsecase 集合管理
// 注册schema并在三个存储上落命名空间：关系表、向量collection、对象桶
type CollectionUsecase struct {
	collections domain.CollectionRepository
	records     domain.RecordRepository
	vectors     domain.VectorIndex
	blobs       domain.BlobStore
	providers   domain.ProviderRepository
	log         *log.Helper
}

// NewCollectionUsecase 创建集合管理用例
func NewCollectionUsecase(
	collections domain.CollectionRepository,
	records domain.RecordRepository,
	vectors domain.VectorIndex,
	blobs domain.BlobStore,
	providers domain.ProviderRepository,
	logger log.Logger,
) *CollectionUsecase {
	return &CollectionUsecase{
		collections: collections,
		records:     records,
		vectors:     vectors,
		blobs:       blobs,
		providers:   providers,
		log:         log.NewHelper(logger),
	}
}

// Create 创建集合
// schema先校验归一化再落注册表，建表失败时注册回滚
// 向量collection不在这里建：维度由提供方决定，首批点写入时惰性创建
func (uc *CollectionUsecase) Create(ctx context.Context, draft *domain.CollectionSchema) (*domain.CollectionSchema, error) {
	schema, err := domain.ValidateSchema(draft)
	if err != nil {
		return nil, err
	}

	if schema.RequiresVectors() {
		if err := uc.checkProvider(ctx, schema.Config.EmbeddingProviderID); err != nil {
			return nil, err
		}
	}

	err = saga.NewBuilder().
		AddStep("register_schema", func(ctx context.Context) error {
			return uc.collections.SaveSchema(ctx, schema)
		}, func(ctx context.Context) error {
			return uc.collections.DeleteSchema(ctx, schema.Name)
		}).
		AddStep("create_tables", func(ctx context.Context) error {
			return uc.records.CreateTables(ctx, schema)
		}, func(ctx context.Context) error {
			return uc.records.DropTables(ctx, schema)
		}).
		AddStep("ensure_bucket", func(ctx context.Context) error {
			if !schema.RequiresBlobs() {
				return nil
			}
			return uc.blobs.EnsureBucket(ctx, schema.BucketName())
		}, nil).
		Execute(ctx)
	if err != nil {
		return nil, err
	}

	uc.log.WithContext(ctx).Infof("collection %s created with %d fields", schema.Name, len(schema.Fields))
	return schema, nil
}

// Extend 追加字段（append-only扩展）
// 先在关系表加列，成功后覆盖注册表里的schema
func (uc *CollectionUsecase) Extend(ctx context.Context, name string, newFields []domain.FieldDefinition) (*domain.CollectionSchema, error) {
	schema, err := uc.collections.GetSchema(ctx, name)
	if err != nil {
		return nil, err
	}

	fields, err := domain.ValidateExtension(schema, newFields)
	if err != nil {
		return nil, err
	}

	if err := uc.records.AddColumns(ctx, schema, fields); err != nil {
		return nil, fmt.Errorf("add columns: %w", err)
	}

	schema.Fields = append(schema.Fields, fields...)
	if err := uc.collections.UpdateSchema(ctx, schema); err != nil {
		return nil, fmt.Errorf("update schema registry: %w", err)
	}

	uc.log.WithContext(ctx).Infof("collection %s extended with %d fields", name, len(fields))
	return schema, nil
}

// Get 读取集合schema
func (uc *CollectionUsecase) Get(ctx context.Context, name string) (*domain.CollectionSchema, error) {
	return uc.collections.GetSchema(ctx, name)
}

// List 列出全部集合
func (uc *CollectionUsecase) List(ctx context.Context) ([]*domain.CollectionSchema, error) {
	return uc.collections.ListSchemas(ctx)
}

// Delete 删除集合：表、向量collection、注册项
// 对象桶保留不动，桶内对象的生命周期由运维侧治理
func (uc *CollectionUsecase) Delete(ctx context.Context, name string) error {
	schema, err := uc.collections.GetSchema(ctx, name)
	if err != nil {
		return err
	}

	if err := uc.records.DropTables(ctx, schema); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	if schema.RequiresVectors() {
		if err := uc.vectors.DropCollection(ctx, schema.Name); err != nil {
			uc.log.WithContext(ctx).Warnf("failed to drop vector collection %s: %v", schema.Name, err)
		}
	}
	if err := uc.collections.DeleteSchema(ctx, name); err != nil {
		return fmt.Errorf("delete schema registry entry: %w", err)
	}

	uc.log.WithContext(ctx).Infof("collection %s deleted", name)
	return nil
}

// checkProvider 校验嵌入提供方已注册且启用；空ID走部署默认提供方
func (uc *CollectionUsecase) checkProvider(ctx context.Context, providerID string) error {
	if providerID == "" {
		return nil
	}
	p, err := uc.providers.Get(ctx, providerID, false)
	if err != nil {
		return err
	}
	if !p.Enabled {
		return domain.ErrProviderDisabled
	}
	return nil
}
