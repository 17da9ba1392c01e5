package domain

import (
	"context"
	"time"
)

// CollectionRepository 集合注册表（控制表）
type CollectionRepository interface {
	// SaveSchema 注册集合schema，已存在时返回ErrCollectionExists
	SaveSchema(ctx context.Context, schema *CollectionSchema) error
	// UpdateSchema 覆盖已注册schema（仅追加字段后调用）
	UpdateSchema(ctx context.Context, schema *CollectionSchema) error
	// GetSchema 读取schema，不存在时返回ErrCollectionNotFound
	GetSchema(ctx context.Context, name string) (*CollectionSchema, error)
	// ListSchemas 列出全部集合
	ListSchemas(ctx context.Context) ([]*CollectionSchema, error)
	// DeleteSchema 注销集合
	DeleteSchema(ctx context.Context, name string) error
}

// RowQuery 关系查询参数
type RowQuery struct {
	// Clauses SQL片段，占位符为?，彼此AND
	Clauses []string
	Args    []any
	OrderBy string
	Limit   int
	Offset  int
}

// RecordRepository 关系存储（动态建表 + 行操作）
// 唯一约束与外键约束在这一层由数据库强制执行
type RecordRepository interface {
	// CreateTables 按schema建主表与数组子表
	CreateTables(ctx context.Context, schema *CollectionSchema) error
	// AddColumns 追加新字段列（append-only扩展）
	AddColumns(ctx context.Context, schema *CollectionSchema, fields []FieldDefinition) error
	// DropTables 删除主表与子表
	DropTables(ctx context.Context, schema *CollectionSchema) error
	// InsertRow 单事务插入主行与子表行，唯一冲突映射为DuplicateKey
	InsertRow(ctx context.Context, schema *CollectionSchema, recordID string, row map[string]any, children map[string][]ChildRow) error
	// UpdateRow 单事务更新主行、整组替换子表行
	UpdateRow(ctx context.Context, schema *CollectionSchema, recordID string, row map[string]any, children map[string][]ChildRow) error
	// DeleteRow 删除主行（子表行级联）
	DeleteRow(ctx context.Context, schema *CollectionSchema, recordID string) error
	// FetchRow 读主行，不存在时返回ErrRecordNotFound
	FetchRow(ctx context.Context, schema *CollectionSchema, recordID string) (map[string]any, error)
	// FetchChildren 读数组子表行，按item_index升序
	FetchChildren(ctx context.Context, schema *CollectionSchema, field, recordID string) ([]map[string]any, error)
	// FetchRows 按ID批量读主行
	FetchRows(ctx context.Context, schema *CollectionSchema, recordIDs []string) ([]map[string]any, error)
	// QueryRows 按谓词分页读主行
	QueryRows(ctx context.Context, schema *CollectionSchema, q RowQuery) ([]map[string]any, error)
	// QueryRowIDs 按谓词读主行ID集合（语义检索的关系侧预过滤）
	QueryRowIDs(ctx context.Context, schema *CollectionSchema, q RowQuery) ([]string, error)
	// SetVectorStatus 更新记录的字段级向量化状态
	SetVectorStatus(ctx context.Context, schema *CollectionSchema, recordID, field string, status VectorStatus) error
}

// VectorIndex 向量索引
type VectorIndex interface {
	// EnsureCollection 确保命名空间存在，维度首次创建时固定
	EnsureCollection(ctx context.Context, collection string, dim int) error
	// DropCollection 删除命名空间
	DropCollection(ctx context.Context, collection string) error
	// Upsert 写入向量点
	Upsert(ctx context.Context, collection string, points []VectorPoint) error
	// DeleteByRecord 删除某记录的全部点
	DeleteByRecord(ctx context.Context, collection, recordID string) error
	// DeleteByRecordField 删除某(记录,字段)的全部点
	DeleteByRecordField(ctx context.Context, collection, recordID, field string) error
	// Search 相似度检索，expr为payload前置过滤表达式
	Search(ctx context.Context, collection string, vector []float32, expr string, topK int) ([]ScoredPoint, error)
	// ListByRecord 列出某记录的全部点（不含向量本体）
	ListByRecord(ctx context.Context, collection, recordID string) ([]ScoredPoint, error)
}

// BlobStore 对象存储
type BlobStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
	// PresignedURL 生成限时下载链接
	PresignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

// EmbeddingProvider 嵌入提供方，按集合配置选择，绝不读全局状态
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension 向量维度（首次调用可能触发一次探测请求）
	Dimension(ctx context.Context) (int, error)
}

// ProviderResolver 按provider id解析嵌入提供方
type ProviderResolver interface {
	Resolve(ctx context.Context, providerID string) (EmbeddingProvider, error)
}

// ContentExtractor 内容提取协作方（OCR/排版在内部处理，对核心不透明）
type ContentExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType string, cfg *ExtractConfig) (string, error)
}

// EventPublisher 记录生命周期事件发布
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}
