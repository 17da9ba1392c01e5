package biz

import (
	"context"
	"errors"
	"testing"

	"cortex/cmd/cortex-gateway/internal/domain"
	xerrors "cortex/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coordinatorFixture(t *testing.T) (*WriteCoordinator, *fakeRecordRepo, *fakeVectorIndex, *fakeBlobStore, *fakeQueue, *fakeEvents) {
	t.Helper()
	records := newFakeRecordRepo()
	vectors := newFakeVectorIndex()
	blobs := newFakeBlobStore()
	queue := &fakeQueue{}
	events := &fakeEvents{}
	c := NewWriteCoordinator(records, vectors, blobs, queue, events, testMetrics(), testLogger())
	return c, records, vectors, blobs, queue, events
}

func writeSet(t *testing.T) *domain.WriteSet {
	t.Helper()
	schema, err := domain.ValidateSchema(&domain.CollectionSchema{
		Name: "docs",
		Fields: []domain.FieldDefinition{
			{Name: "title", Type: domain.FieldTypeString, Vectorize: true},
			{Name: "contract", Type: domain.FieldTypeFile},
		},
	})
	require.NoError(t, err)
	return &domain.WriteSet{
		RecordID: "rec-1",
		Schema:   schema,
		Row:      map[string]any{"title": "hello", "contract": "rec-1/contract/a.pdf"},
		Blobs: []domain.BlobUpload{
			{Field: "contract", ObjectKey: "rec-1/contract/a.pdf", Data: []byte("pdf"), ContentType: "application/pdf"},
		},
		Vectors: []domain.PendingVector{
			{Field: "title", Text: "hello", ChunkSize: 1024, ChunkOverlap: 128},
		},
	}
}

func TestCoordinator_CommitHappyPath(t *testing.T) {
	c, records, _, blobs, queue, events := coordinatorFixture(t)
	ws := writeSet(t)

	rec, err := c.Commit(context.Background(), ws)
	require.NoError(t, err)

	assert.Equal(t, []string{"rec-1"}, records.inserted)
	assert.Equal(t, 1, blobs.count())
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, "docs/rec-1/title", queue.jobs[0].JobKey())
	assert.Len(t, events.events, 1)

	// 待向量化字段以pending状态随行落库
	assert.Equal(t, domain.VectorStatusPending, rec.VectorStatus["title"])
	assert.Equal(t, map[string]domain.VectorStatus{"title": domain.VectorStatusPending}, ws.Row[domain.VectorStatusColumn])
}

func TestCoordinator_InsertFailureCompensatesBlobs(t *testing.T) {
	c, records, _, blobs, queue, _ := coordinatorFixture(t)
	records.insertErr = errors.New("connection reset")
	ws := writeSet(t)

	_, err := c.Commit(context.Background(), ws)
	require.Error(t, err)
	assert.Equal(t, xerrors.ReasonCommitFailed, xerrors.Reason(err))

	// 已传对象全部补偿删除，无孤儿
	assert.Equal(t, 0, blobs.count())
	assert.Empty(t, queue.jobs, "failed commits never dispatch vectorization")
}

func TestCoordinator_DuplicateKeyPassesThrough(t *testing.T) {
	c, records, _, blobs, _, _ := coordinatorFixture(t)
	records.insertErr = domain.NewDuplicateKeyError("email")
	ws := writeSet(t)

	_, err := c.Commit(context.Background(), ws)
	require.Error(t, err)
	assert.True(t, domain.IsDuplicateKey(err), "duplicate key should not be wrapped as commit failure")
	assert.Equal(t, 0, blobs.count())
}

func TestCoordinator_QueueFullMarksFieldFailed(t *testing.T) {
	c, records, _, _, queue, _ := coordinatorFixture(t)
	queue.err = domain.ErrQueueFull
	ws := writeSet(t)

	rec, err := c.Commit(context.Background(), ws)
	require.NoError(t, err, "queue saturation never fails the committed write")
	require.NotNil(t, rec)

	assert.Equal(t, domain.VectorStatusFailed, records.statuses["rec-1/title"])
}

func TestCoordinator_UpdateCleansReplacedBlob(t *testing.T) {
	c, records, _, blobs, _, _ := coordinatorFixture(t)

	// 旧版本指向另一个对象键
	records.fetchRowFn = func(recordID string) (map[string]any, error) {
		return map[string]any{"contract": "rec-1/contract/old.pdf"}, nil
	}
	require.NoError(t, blobs.Put(context.Background(), "cortex-docs", "rec-1/contract/old.pdf", []byte("old"), "application/pdf"))

	ws := writeSet(t)
	_, err := c.CommitUpdate(context.Background(), ws)
	require.NoError(t, err)

	assert.Equal(t, []string{"rec-1"}, records.updated)
	old, _ := blobs.Get(context.Background(), "cortex-docs", "rec-1/contract/old.pdf")
	assert.Empty(t, old, "replaced object should be removed")
	current, _ := blobs.Get(context.Background(), "cortex-docs", "rec-1/contract/a.pdf")
	assert.Equal(t, []byte("pdf"), current)
}

func TestCoordinator_UpdateFailureKeepsOldBlob(t *testing.T) {
	c, records, _, blobs, _, _ := coordinatorFixture(t)
	records.updateErr = errors.New("deadlock detected")
	records.fetchRowFn = func(recordID string) (map[string]any, error) {
		return map[string]any{"contract": "rec-1/contract/old.pdf"}, nil
	}
	require.NoError(t, blobs.Put(context.Background(), "cortex-docs", "rec-1/contract/old.pdf", []byte("old"), "application/pdf"))

	ws := writeSet(t)
	_, err := c.CommitUpdate(context.Background(), ws)
	require.Error(t, err)

	// 新对象被补偿删除，旧对象原封不动
	old, _ := blobs.Get(context.Background(), "cortex-docs", "rec-1/contract/old.pdf")
	assert.Equal(t, []byte("old"), old)
	fresh, _ := blobs.Get(context.Background(), "cortex-docs", "rec-1/contract/a.pdf")
	assert.Empty(t, fresh)
}

func TestCoordinator_UpdateSeedsPayloadFromStoredRow(t *testing.T) {
	c, records, _, _, queue, _ := coordinatorFixture(t)
	schema, err := domain.ValidateSchema(&domain.CollectionSchema{
		Name: "docs",
		Fields: []domain.FieldDefinition{
			{Name: "body", Type: domain.FieldTypeText, Vectorize: true},
			{Name: "year", Type: domain.FieldTypeInt, Filterable: true},
			{Name: "tag", Type: domain.FieldTypeString, Filterable: true},
		},
	})
	require.NoError(t, err)

	records.fetchRowFn = func(recordID string) (map[string]any, error) {
		return map[string]any{"id": recordID, "year": int64(2024), "tag": "infra", "body": "old"}, nil
	}

	// 补丁只改body并清空tag，year未触及
	ws := &domain.WriteSet{
		RecordID:    "rec-1",
		Schema:      schema,
		Row:         map[string]any{"body": "new body", "tag": nil},
		PayloadBase: map[string]any{},
		Vectors: []domain.PendingVector{
			{Field: "body", Text: "new body", ChunkSize: 1024, ChunkOverlap: 128},
		},
	}
	_, err = c.CommitUpdate(context.Background(), ws)
	require.NoError(t, err)

	require.Len(t, queue.jobs, 1)
	// 重嵌入的点带上未改字段的过滤值，显式清空的字段不回填
	assert.Equal(t, int64(2024), queue.jobs[0].PayloadBase["year"])
	_, hasTag := queue.jobs[0].PayloadBase["tag"]
	assert.False(t, hasTag)
}

func TestCoordinator_UpdateKeepsUntouchedVectorStatus(t *testing.T) {
	c, records, _, _, _, _ := coordinatorFixture(t)
	records.fetchRowFn = func(recordID string) (map[string]any, error) {
		return map[string]any{
			"id":                      recordID,
			domain.VectorStatusColumn: map[string]any{"summary": string(domain.VectorStatusFailed)},
		}, nil
	}

	ws := writeSet(t)
	rec, err := c.CommitUpdate(context.Background(), ws)
	require.NoError(t, err)

	// 状态列不整列覆盖，触及的字段逐个打点
	_, wrote := records.lastUpdate[domain.VectorStatusColumn]
	assert.False(t, wrote, "updates must not replace the whole status column")
	assert.Equal(t, domain.VectorStatusPending, records.statuses["rec-1/title"])

	// 未触及字段的失败标记继续透出
	assert.Equal(t, domain.VectorStatusFailed, rec.VectorStatus["summary"])
	assert.Equal(t, domain.VectorStatusPending, rec.VectorStatus["title"])
}

func TestCoordinator_DeleteRemovesAllStores(t *testing.T) {
	c, records, vectors, blobs, _, events := coordinatorFixture(t)
	ws := writeSet(t)

	records.fetchRowFn = func(recordID string) (map[string]any, error) {
		return map[string]any{"contract": "rec-1/contract/a.pdf"}, nil
	}
	require.NoError(t, blobs.Put(context.Background(), "cortex-docs", "rec-1/contract/a.pdf", []byte("pdf"), "application/pdf"))
	require.NoError(t, vectors.Upsert(context.Background(), "docs", []domain.VectorPoint{
		{ID: domain.PointID("rec-1", "title", 0), RecordID: "rec-1", Field: "title"},
	}))

	err := c.Delete(context.Background(), ws.Schema, "rec-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"rec-1"}, records.deleted)
	assert.Equal(t, 0, blobs.count())
	assert.Empty(t, vectors.points["docs"])
	assert.Len(t, events.events, 1)
}
