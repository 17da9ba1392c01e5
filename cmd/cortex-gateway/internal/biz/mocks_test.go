package biz

import (
	"context"
	"io"
	"sync"
	"time"

	"cortex/cmd/cortex-gateway/internal/domain"
	"cortex/pkg/monitoring"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
)

// testLogger 测试用静默日志
func testLogger() log.Logger {
	return log.NewStdLogger(io.Discard)
}

// testMetrics 测试用独立指标注册表
func testMetrics() *monitoring.Metrics {
	return monitoring.NewMetrics(prometheus.NewRegistry())
}

// fakeRecordRepo 关系存储桩，函数字段可注入，未注入时为无操作
type fakeRecordRepo struct {
	mu          sync.Mutex
	inserted    []string
	updated     []string
	deleted     []string
	lastUpdate  map[string]any
	statuses    map[string]domain.VectorStatus
	insertErr   error
	updateErr   error
	fetchRowFn  func(recordID string) (map[string]any, error)
	queryIDsFn  func(q domain.RowQuery) ([]string, error)
	queryRowsFn func(q domain.RowQuery) ([]map[string]any, error)
	fetchRowsFn func(ids []string) ([]map[string]any, error)
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{statuses: make(map[string]domain.VectorStatus)}
}

func (f *fakeRecordRepo) CreateTables(ctx context.Context, schema *domain.CollectionSchema) error {
	return nil
}

func (f *fakeRecordRepo) AddColumns(ctx context.Context, schema *domain.CollectionSchema, fields []domain.FieldDefinition) error {
	return nil
}

func (f *fakeRecordRepo) DropTables(ctx context.Context, schema *domain.CollectionSchema) error {
	return nil
}

func (f *fakeRecordRepo) InsertRow(ctx context.Context, schema *domain.CollectionSchema, recordID string, row map[string]any, children map[string][]domain.ChildRow) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, recordID)
	return nil
}

func (f *fakeRecordRepo) UpdateRow(ctx context.Context, schema *domain.CollectionSchema, recordID string, row map[string]any, children map[string][]domain.ChildRow) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, recordID)
	f.lastUpdate = row
	return nil
}

func (f *fakeRecordRepo) DeleteRow(ctx context.Context, schema *domain.CollectionSchema, recordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, recordID)
	return nil
}

func (f *fakeRecordRepo) FetchRow(ctx context.Context, schema *domain.CollectionSchema, recordID string) (map[string]any, error) {
	if f.fetchRowFn != nil {
		return f.fetchRowFn(recordID)
	}
	return map[string]any{"id": recordID}, nil
}

func (f *fakeRecordRepo) FetchChildren(ctx context.Context, schema *domain.CollectionSchema, field, recordID string) ([]map[string]any, error) {
	return nil, nil
}

func (f *fakeRecordRepo) FetchRows(ctx context.Context, schema *domain.CollectionSchema, recordIDs []string) ([]map[string]any, error) {
	if f.fetchRowsFn != nil {
		return f.fetchRowsFn(recordIDs)
	}
	out := make([]map[string]any, 0, len(recordIDs))
	for _, id := range recordIDs {
		out = append(out, map[string]any{"id": id})
	}
	return out, nil
}

func (f *fakeRecordRepo) QueryRows(ctx context.Context, schema *domain.CollectionSchema, q domain.RowQuery) ([]map[string]any, error) {
	if f.queryRowsFn != nil {
		return f.queryRowsFn(q)
	}
	return nil, nil
}

func (f *fakeRecordRepo) QueryRowIDs(ctx context.Context, schema *domain.CollectionSchema, q domain.RowQuery) ([]string, error) {
	if f.queryIDsFn != nil {
		return f.queryIDsFn(q)
	}
	return nil, nil
}

func (f *fakeRecordRepo) SetVectorStatus(ctx context.Context, schema *domain.CollectionSchema, recordID, field string, status domain.VectorStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[recordID+"/"+field] = status
	return nil
}

// fakeVectorIndex 向量索引桩
type fakeVectorIndex struct {
	mu            sync.Mutex
	ensured       map[string]int
	points        map[string][]domain.VectorPoint
	deletedFields []string
	searchFn      func(collection string, vector []float32, expr string, topK int) ([]domain.ScoredPoint, error)
	upsertErr     error
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{
		ensured: make(map[string]int),
		points:  make(map[string][]domain.VectorPoint),
	}
}

func (f *fakeVectorIndex) EnsureCollection(ctx context.Context, collection string, dim int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ensured[collection]; !ok {
		f.ensured[collection] = dim
	}
	return nil
}

func (f *fakeVectorIndex) DropCollection(ctx context.Context, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ensured, collection)
	delete(f.points, collection)
	return nil
}

func (f *fakeVectorIndex) Upsert(ctx context.Context, collection string, points []domain.VectorPoint) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[collection] = append(f.points[collection], points...)
	return nil
}

func (f *fakeVectorIndex) DeleteByRecord(ctx context.Context, collection, recordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []domain.VectorPoint
	for _, p := range f.points[collection] {
		if p.RecordID != recordID {
			kept = append(kept, p)
		}
	}
	f.points[collection] = kept
	return nil
}

func (f *fakeVectorIndex) DeleteByRecordField(ctx context.Context, collection, recordID, field string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedFields = append(f.deletedFields, recordID+"/"+field)
	var kept []domain.VectorPoint
	for _, p := range f.points[collection] {
		if p.RecordID != recordID || p.Field != field {
			kept = append(kept, p)
		}
	}
	f.points[collection] = kept
	return nil
}

func (f *fakeVectorIndex) Search(ctx context.Context, collection string, vector []float32, expr string, topK int) ([]domain.ScoredPoint, error) {
	if f.searchFn != nil {
		return f.searchFn(collection, vector, expr, topK)
	}
	return nil, nil
}

func (f *fakeVectorIndex) ListByRecord(ctx context.Context, collection, recordID string) ([]domain.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ScoredPoint
	for _, p := range f.points[collection] {
		if p.RecordID == recordID {
			out = append(out, domain.ScoredPoint{ID: p.ID, RecordID: p.RecordID, Field: p.Field, ChunkIndex: p.ChunkIndex, Text: p.Text})
		}
	}
	return out, nil
}

// pointsFor 检索某(记录,字段)当前存的点
func (f *fakeVectorIndex) pointsFor(collection, recordID, field string) []domain.VectorPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.VectorPoint
	for _, p := range f.points[collection] {
		if p.RecordID == recordID && p.Field == field {
			out = append(out, p)
		}
	}
	return out
}

// fakeBlobStore 对象存储桩，内存map记桶内对象
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  map[string]error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte), putErr: make(map[string]error)}
}

func (f *fakeBlobStore) key(bucket, key string) string { return bucket + "/" + key }

func (f *fakeBlobStore) EnsureBucket(ctx context.Context, bucket string) error { return nil }

func (f *fakeBlobStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	if err := f.putErr[key]; err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[f.key(bucket, key)] = data
	return nil
}

func (f *fakeBlobStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[f.key(bucket, key)], nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, f.key(bucket, key))
	return nil
}

func (f *fakeBlobStore) PresignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	return "https://blob.test/" + bucket + "/" + key, nil
}

func (f *fakeBlobStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// fakeQueue 入队桩
type fakeQueue struct {
	mu   sync.Mutex
	jobs []*domain.VectorJob
	err  error
}

func (f *fakeQueue) Enqueue(job *domain.VectorJob) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

// fakeEvents 事件发布桩
type fakeEvents struct {
	mu     sync.Mutex
	events []any
}

func (f *fakeEvents) Publish(ctx context.Context, event any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

// fakeCollectionRepo schema注册表桩
type fakeCollectionRepo struct {
	mu      sync.Mutex
	schemas map[string]*domain.CollectionSchema
}

func newFakeCollectionRepo(schemas ...*domain.CollectionSchema) *fakeCollectionRepo {
	out := &fakeCollectionRepo{schemas: make(map[string]*domain.CollectionSchema)}
	for _, s := range schemas {
		out.schemas[s.Name] = s
	}
	return out
}

func (f *fakeCollectionRepo) SaveSchema(ctx context.Context, schema *domain.CollectionSchema) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schemas[schema.Name]; ok {
		return domain.ErrCollectionExists
	}
	f.schemas[schema.Name] = schema
	return nil
}

func (f *fakeCollectionRepo) UpdateSchema(ctx context.Context, schema *domain.CollectionSchema) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemas[schema.Name] = schema
	return nil
}

func (f *fakeCollectionRepo) GetSchema(ctx context.Context, name string) (*domain.CollectionSchema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schemas[name]
	if !ok {
		return nil, domain.ErrCollectionNotFound
	}
	return s, nil
}

func (f *fakeCollectionRepo) ListSchemas(ctx context.Context) ([]*domain.CollectionSchema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.CollectionSchema, 0, len(f.schemas))
	for _, s := range f.schemas {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeCollectionRepo) DeleteSchema(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.schemas, name)
	return nil
}

// fakeEmbedder 嵌入提供方桩：向量为常量维度，首元素编码文本长度
type fakeEmbedder struct {
	dim     int
	err     error
	mu      sync.Mutex
	batches [][]string
}

func (f *fakeEmbedder) embed(text string) []float32 {
	v := make([]float32, f.dim)
	v[0] = float32(len(text))
	return v
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.embed(text), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.batches = append(f.batches, texts)
	f.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.embed(t)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension(ctx context.Context) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.dim, nil
}

// fakeResolver 提供方解析桩
type fakeResolver struct {
	provider domain.EmbeddingProvider
	err      error
}

func (f *fakeResolver) Resolve(ctx context.Context, providerID string) (domain.EmbeddingProvider, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.provider, nil
}

// fakeExtractor 内容提取桩
type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) Extract(ctx context.Context, data []byte, mimeType string, cfg *domain.ExtractConfig) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.text != "" {
		return f.text, nil
	}
	return string(data), nil
}
