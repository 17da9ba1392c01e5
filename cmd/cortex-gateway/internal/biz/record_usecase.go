package biz

import (
	"context"
	"encoding/json"
	"time"

	"cortex/cmd/cortex-gateway/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
)

// presignExpiry 文件下载链接有效期
const presignExpiry = 15 * time.Minute

// RecordUsecase 记录读写
// 写路径：路由分解 -> 协调器提交；读路径：规划器分发、文件字段补签名链接
type RecordUsecase struct {
	collections domain.CollectionRepository
	records     domain.RecordRepository
	vectors     domain.VectorIndex
	blobs       domain.BlobStore
	router      *RecordRouter
	coordinator *WriteCoordinator
	planner     *QueryPlanner
	log         *log.Helper
}

// NewRecordUsecase 创建记录用例
func NewRecordUsecase(
	collections domain.CollectionRepository,
	records domain.RecordRepository,
	vectors domain.VectorIndex,
	blobs domain.BlobStore,
	router *RecordRouter,
	coordinator *WriteCoordinator,
	planner *QueryPlanner,
	logger log.Logger,
) *RecordUsecase {
	return &RecordUsecase{
		collections: collections,
		records:     records,
		vectors:     vectors,
		blobs:       blobs,
		router:      router,
		coordinator: coordinator,
		planner:     planner,
		log:         log.NewHelper(logger),
	}
}

// Create 写入新记录
func (uc *RecordUsecase) Create(ctx context.Context, collection string, payload map[string]any) (*domain.Record, error) {
	schema, err := uc.collections.GetSchema(ctx, collection)
	if err != nil {
		return nil, err
	}

	ws, err := uc.router.Route(schema, domain.NewRecordID(), payload)
	if err != nil {
		return nil, err
	}
	return uc.coordinator.Commit(ctx, ws)
}

// Update 局部更新记录
// 补丁里没有的字段原样保留，不会被置NULL或重填默认值
func (uc *RecordUsecase) Update(ctx context.Context, collection, recordID string, payload map[string]any) (*domain.Record, error) {
	schema, err := uc.collections.GetSchema(ctx, collection)
	if err != nil {
		return nil, err
	}

	ws, err := uc.router.RoutePartial(schema, recordID, payload)
	if err != nil {
		return nil, err
	}
	return uc.coordinator.CommitUpdate(ctx, ws)
}

// Get 读取单条记录，数组字段回填子表行，文件字段附带签名下载链接
func (uc *RecordUsecase) Get(ctx context.Context, collection, recordID string) (*domain.Record, error) {
	schema, err := uc.collections.GetSchema(ctx, collection)
	if err != nil {
		return nil, err
	}

	row, err := uc.records.FetchRow(ctx, schema, recordID)
	if err != nil {
		return nil, err
	}

	record := uc.rowToRecord(ctx, schema, row)

	for i := range schema.Fields {
		f := &schema.Fields[i]
		if f.Type != domain.FieldTypeArray {
			continue
		}
		children, err := uc.records.FetchChildren(ctx, schema, f.Name, recordID)
		if err != nil {
			return nil, err
		}
		record.Data[f.Name] = children
	}

	return record, nil
}

// Delete 删除记录及其全部物理分片
func (uc *RecordUsecase) Delete(ctx context.Context, collection, recordID string) error {
	schema, err := uc.collections.GetSchema(ctx, collection)
	if err != nil {
		return err
	}
	return uc.coordinator.Delete(ctx, schema, recordID)
}

// Query 过滤分页查询
func (uc *RecordUsecase) Query(ctx context.Context, collection string, filters map[string]any, limit, offset int) ([]*domain.Record, error) {
	schema, err := uc.collections.GetSchema(ctx, collection)
	if err != nil {
		return nil, err
	}

	page, err := uc.planner.Query(ctx, schema, filters, limit, offset)
	if err != nil {
		return nil, err
	}

	records := make([]*domain.Record, 0, len(page.Rows))
	for _, row := range page.Rows {
		records = append(records, uc.rowToRecord(ctx, schema, row))
	}
	return records, nil
}

// Search 混合检索
func (uc *RecordUsecase) Search(ctx context.Context, collection string, filters map[string]any, query string, limit int) (*domain.RankedResults, error) {
	schema, err := uc.collections.GetSchema(ctx, collection)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return nil, domain.NewFilterError("semantic query text must not be empty")
	}

	ranked, err := uc.planner.Search(ctx, schema, filters, query, limit)
	if err != nil {
		return nil, err
	}

	for i := range ranked.Results {
		result := &ranked.Results[i]
		rec := uc.rowToRecord(ctx, schema, result.Record)
		result.Record = rec.Data
		result.FileURLs = rec.FileURLs
	}
	return ranked, nil
}

// ListVectors 列出记录的全部向量点（不含向量本体），用于排障
func (uc *RecordUsecase) ListVectors(ctx context.Context, collection, recordID string) ([]domain.ScoredPoint, error) {
	schema, err := uc.collections.GetSchema(ctx, collection)
	if err != nil {
		return nil, err
	}
	if _, err := uc.records.FetchRow(ctx, schema, recordID); err != nil {
		return nil, err
	}
	return uc.vectors.ListByRecord(ctx, collection, recordID)
}

// rowToRecord 关系行转记录：剥离系统列、解码向量状态、补文件链接
func (uc *RecordUsecase) rowToRecord(ctx context.Context, schema *domain.CollectionSchema, row map[string]any) *domain.Record {
	record := &domain.Record{
		Collection: schema.Name,
		Data:       make(map[string]any, len(row)),
	}

	for key, value := range row {
		switch key {
		case "id":
			record.ID, _ = value.(string)
		case "created_at":
			record.CreatedAt, _ = value.(time.Time)
		case "updated_at":
			record.UpdatedAt, _ = value.(time.Time)
		case domain.VectorStatusColumn:
			record.VectorStatus = decodeVectorStatus(value)
		default:
			record.Data[key] = value
		}
	}

	for _, f := range schema.FieldsRequiring(domain.CapabilityBlob) {
		key, ok := record.Data[f.Name].(string)
		if !ok || key == "" {
			continue
		}
		url, err := uc.blobs.PresignedURL(ctx, schema.BucketName(), key, presignExpiry)
		if err != nil {
			uc.log.WithContext(ctx).Warnf("failed to presign %s/%s: %v", schema.BucketName(), key, err)
			continue
		}
		if record.FileURLs == nil {
			record.FileURLs = make(map[string]string)
		}
		record.FileURLs[f.Name] = url
	}

	return record
}

// decodeVectorStatus JSONB列的几种承载形态都兜住
func decodeVectorStatus(value any) map[string]domain.VectorStatus {
	switch v := value.(type) {
	case map[string]domain.VectorStatus:
		return v
	case map[string]any:
		out := make(map[string]domain.VectorStatus, len(v))
		for k, s := range v {
			if str, ok := s.(string); ok {
				out[k] = domain.VectorStatus(str)
			}
		}
		return out
	case []byte:
		var out map[string]domain.VectorStatus
		if err := json.Unmarshal(v, &out); err == nil {
			return out
		}
	case string:
		var out map[string]domain.VectorStatus
		if err := json.Unmarshal([]byte(v), &out); err == nil {
			return out
		}
	}
	return nil
}
