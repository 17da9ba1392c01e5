package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"unicode/utf8"

	"cortex/cmd/cortex-gateway/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// milvus collection字段布局
const (
	milvusFieldID     = "id"
	milvusFieldVector = "vector"
	milvusFieldRecord = "record_id"
	milvusFieldName   = "field"
	milvusFieldChunk  = "chunk_index"
	milvusFieldText   = "text"
	milvusFieldLoad   = "payload"
)

// MilvusConfig 连接参数
type MilvusConfig struct {
	Addr     string
	Username string
	Password string
}

// MilvusIndex 基于Milvus的向量索引实现
// 每个集合一个milvus collection，payload列承载可过滤字段值
type MilvusIndex struct {
	cli mclient.Client
	log *log.Helper

	// ensured 已确认存在并加载的collection
	mu      sync.Mutex
	ensured map[string]bool
}

// NewMilvusClient 建立Milvus连接
func NewMilvusClient(ctx context.Context, cfg MilvusConfig) (mclient.Client, error) {
	cli, err := mclient.NewClient(ctx, mclient.Config{
		Address:  cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus at %s: %w", cfg.Addr, err)
	}
	return cli, nil
}

// NewMilvusIndex 创建向量索引
func NewMilvusIndex(cli mclient.Client, logger log.Logger) domain.VectorIndex {
	return &MilvusIndex{
		cli:     cli,
		log:     log.NewHelper(logger),
		ensured: make(map[string]bool),
	}
}

// collectionName 集合名到milvus collection名
func collectionName(collection string) string {
	return "cortex_" + collection
}

// EnsureCollection 确保collection存在并已加载
// 维度在首次创建时固定，后续调用只校验存在性
func (m *MilvusIndex) EnsureCollection(ctx context.Context, collection string, dim int) error {
	name := collectionName(collection)

	m.mu.Lock()
	if m.ensured[name] {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	exists, err := m.cli.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}

	if !exists {
		schema := &entity.Schema{
			CollectionName: name,
			Description:    "cortex vector points for collection " + collection,
			Fields: []*entity.Field{
				{
					Name:       milvusFieldID,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					TypeParams: map[string]string{"max_length": "64"},
				},
				{
					Name:       milvusFieldVector,
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{entity.TypeParamDim: strconv.Itoa(dim)},
				},
				{
					Name:       milvusFieldRecord,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "64"},
				},
				{
					Name:       milvusFieldName,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:     milvusFieldChunk,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:       milvusFieldText,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "8192"},
				},
				{
					Name:     milvusFieldLoad,
					DataType: entity.FieldTypeJSON,
				},
			},
		}
		if err := m.cli.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}

		idx, err := entity.NewIndexAUTOINDEX(entity.COSINE)
		if err != nil {
			return err
		}
		if err := m.cli.CreateIndex(ctx, name, milvusFieldVector, idx, false); err != nil {
			return fmt.Errorf("create index on %s: %w", name, err)
		}
	}

	if err := m.cli.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("load collection %s: %w", name, err)
	}

	m.mu.Lock()
	m.ensured[name] = true
	m.mu.Unlock()
	return nil
}

// DropCollection 删除collection
func (m *MilvusIndex) DropCollection(ctx context.Context, collection string) error {
	name := collectionName(collection)
	m.mu.Lock()
	delete(m.ensured, name)
	m.mu.Unlock()
	return m.cli.DropCollection(ctx, name)
}

// Upsert 写入向量点
func (m *MilvusIndex) Upsert(ctx context.Context, collection string, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	dim := len(points[0].Vector)
	ids := make([]string, 0, len(points))
	vectors := make([][]float32, 0, len(points))
	recordIDs := make([]string, 0, len(points))
	fields := make([]string, 0, len(points))
	chunkIndexes := make([]int64, 0, len(points))
	texts := make([]string, 0, len(points))
	payloads := make([][]byte, 0, len(points))

	for _, p := range points {
		if len(p.Vector) != dim {
			return fmt.Errorf("vector dim mismatch for point %s: got %d want %d", p.ID, len(p.Vector), dim)
		}
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload for point %s: %w", p.ID, err)
		}
		ids = append(ids, p.ID)
		vectors = append(vectors, p.Vector)
		recordIDs = append(recordIDs, p.RecordID)
		fields = append(fields, p.Field)
		chunkIndexes = append(chunkIndexes, int64(p.ChunkIndex))
		texts = append(texts, truncateText(p.Text, 8192))
		payloads = append(payloads, payload)
	}

	_, err := m.cli.Upsert(
		ctx,
		collectionName(collection),
		"",
		entity.NewColumnVarChar(milvusFieldID, ids),
		entity.NewColumnFloatVector(milvusFieldVector, dim, vectors),
		entity.NewColumnVarChar(milvusFieldRecord, recordIDs),
		entity.NewColumnVarChar(milvusFieldName, fields),
		entity.NewColumnInt64(milvusFieldChunk, chunkIndexes),
		entity.NewColumnVarChar(milvusFieldText, texts),
		entity.NewColumnJSONBytes(milvusFieldLoad, payloads),
	)
	return err
}

// DeleteByRecord 删除记录的全部点
func (m *MilvusIndex) DeleteByRecord(ctx context.Context, collection, recordID string) error {
	expr := fmt.Sprintf(`%s == %s`, milvusFieldRecord, strconv.Quote(recordID))
	return m.cli.Delete(ctx, collectionName(collection), "", expr)
}

// DeleteByRecordField 删除(记录,字段)的全部点
func (m *MilvusIndex) DeleteByRecordField(ctx context.Context, collection, recordID, field string) error {
	expr := fmt.Sprintf(`%s == %s and %s == %s`,
		milvusFieldRecord, strconv.Quote(recordID),
		milvusFieldName, strconv.Quote(field))
	return m.cli.Delete(ctx, collectionName(collection), "", expr)
}

// Search 相似度检索，expr作为payload前置过滤
func (m *MilvusIndex) Search(ctx context.Context, collection string, vector []float32, expr string, topK int) ([]domain.ScoredPoint, error) {
	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, err
	}

	res, err := m.cli.Search(
		ctx,
		collectionName(collection),
		[]string{},
		expr,
		[]string{milvusFieldRecord, milvusFieldName, milvusFieldChunk, milvusFieldText},
		[]entity.Vector{entity.FloatVector(vector)},
		milvusFieldVector,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	return parseHits(res[0])
}

// ListByRecord 标量查询记录的全部点
func (m *MilvusIndex) ListByRecord(ctx context.Context, collection, recordID string) ([]domain.ScoredPoint, error) {
	expr := fmt.Sprintf(`%s == %s`, milvusFieldRecord, strconv.Quote(recordID))
	rs, err := m.cli.Query(
		ctx,
		collectionName(collection),
		nil,
		expr,
		[]string{milvusFieldID, milvusFieldRecord, milvusFieldName, milvusFieldChunk, milvusFieldText},
	)
	if err != nil {
		return nil, err
	}

	idCol := columnByName(rs, milvusFieldID)
	recordCol := columnByName(rs, milvusFieldRecord)
	fieldCol := columnByName(rs, milvusFieldName)
	chunkCol := columnByName(rs, milvusFieldChunk)
	textCol := columnByName(rs, milvusFieldText)
	if idCol == nil {
		return nil, nil
	}

	points := make([]domain.ScoredPoint, 0, idCol.Len())
	for i := 0; i < idCol.Len(); i++ {
		p := domain.ScoredPoint{}
		p.ID, _ = idCol.GetAsString(i)
		if recordCol != nil {
			p.RecordID, _ = recordCol.GetAsString(i)
		}
		if fieldCol != nil {
			p.Field, _ = fieldCol.GetAsString(i)
		}
		if chunkCol != nil {
			v, _ := chunkCol.GetAsInt64(i)
			p.ChunkIndex = int(v)
		}
		if textCol != nil {
			p.Text, _ = textCol.GetAsString(i)
		}
		points = append(points, p)
	}
	return points, nil
}

// parseHits 检索结果转领域命中
func parseHits(sr mclient.SearchResult) ([]domain.ScoredPoint, error) {
	if sr.Err != nil {
		return nil, sr.Err
	}

	recordCol := columnByName(sr.Fields, milvusFieldRecord)
	fieldCol := columnByName(sr.Fields, milvusFieldName)
	chunkCol := columnByName(sr.Fields, milvusFieldChunk)
	textCol := columnByName(sr.Fields, milvusFieldText)

	hits := make([]domain.ScoredPoint, 0, sr.ResultCount)
	for i := 0; i < sr.ResultCount; i++ {
		h := domain.ScoredPoint{}
		if sr.IDs != nil {
			h.ID, _ = sr.IDs.GetAsString(i)
		}
		if i < len(sr.Scores) {
			h.Score = sr.Scores[i]
		}
		if recordCol != nil {
			h.RecordID, _ = recordCol.GetAsString(i)
		}
		if fieldCol != nil {
			h.Field, _ = fieldCol.GetAsString(i)
		}
		if chunkCol != nil {
			v, _ := chunkCol.GetAsInt64(i)
			h.ChunkIndex = int(v)
		}
		if textCol != nil {
			h.Text, _ = textCol.GetAsString(i)
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func columnByName(cols mclient.ResultSet, name string) entity.Column {
	for _, c := range cols {
		if c != nil && c.Name() == name {
			return c
		}
	}
	return nil
}

// truncateText 按字节上限截断，切点回退到rune起始保持合法UTF-8
func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
