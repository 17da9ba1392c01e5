package biz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cortex/cmd/cortex-gateway/internal/domain"
	"cortex/pkg/monitoring"
	"cortex/pkg/saga"

	"github.com/go-kratos/kratos/v2/log"
)

// VectorEnqueuer 向量化任务入队端
type VectorEnqueuer interface {
	// Enqueue 非阻塞入队，队列满时返回ErrQueueFull
	Enqueue(job *domain.VectorJob) error
}

// RecordEvent 记录生命周期事件
type RecordEvent struct {
	Type       string    `json:"type"`
	Collection string    `json:"collection"`
	RecordID   string    `json:"record_id"`
	Field      string    `json:"field,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// 事件类型
const (
	EventRecordCreated    = "record.created"
	EventRecordUpdated    = "record.updated"
	EventRecordDeleted    = "record.deleted"
	EventRecordVectorized = "record.vectorized"
)

// WriteCoordinator 写协调器
// 待写集的唯一执行者：对象上传与关系提交同步完成，失败时补偿删除已传对象
// 向量写入刻意不进同步事务，关系提交成功后异步派发
type WriteCoordinator struct {
	records domain.RecordRepository
	vectors domain.VectorIndex
	blobs   domain.BlobStore
	queue   VectorEnqueuer
	events  domain.EventPublisher
	metrics *monitoring.Metrics
	log     *log.Helper
}

// NewWriteCoordinator 创建写协调器
func NewWriteCoordinator(
	records domain.RecordRepository,
	vectors domain.VectorIndex,
	blobs domain.BlobStore,
	queue VectorEnqueuer,
	events domain.EventPublisher,
	metrics *monitoring.Metrics,
	logger log.Logger,
) *WriteCoordinator {
	return &WriteCoordinator{
		records: records,
		vectors: vectors,
		blobs:   blobs,
		queue:   queue,
		events:  events,
		metrics: metrics,
		log:     log.NewHelper(logger),
	}
}

// Commit 提交新记录
// 步骤：对象上传 -> 关系插入 -> 异步派发向量化
// 关系插入失败时已传对象全部补偿删除，存储回到写前状态
func (c *WriteCoordinator) Commit(ctx context.Context, ws *domain.WriteSet) (*domain.Record, error) {
	started := time.Now()

	status := c.stampPendingStatus(ws)

	err := saga.NewBuilder().
		AddStep("upload_blobs", func(ctx context.Context) error {
			return c.uploadBlobs(ctx, ws)
		}, func(ctx context.Context) error {
			return c.deleteBlobs(ctx, ws.Schema.BucketName(), objectKeys(ws.Blobs))
		}).
		AddStep("relational_insert", func(ctx context.Context) error {
			return c.records.InsertRow(ctx, ws.Schema, ws.RecordID, ws.Row, ws.ChildRows)
		}, nil).
		Execute(ctx)
	if err != nil {
		c.metrics.ObserveCommit(ws.Schema.Name, "create", "error", time.Since(started))
		return nil, c.commitError("insert", err)
	}

	c.enqueueVectors(ctx, ws)
	c.publish(ctx, EventRecordCreated, ws.Schema.Name, ws.RecordID)
	c.metrics.ObserveCommit(ws.Schema.Name, "create", "ok", time.Since(started))

	now := time.Now().UTC()
	return &domain.Record{
		ID:           ws.RecordID,
		Collection:   ws.Schema.Name,
		Data:         ws.Row,
		VectorStatus: status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// CommitUpdate 提交记录更新
// 新对象先传、关系行后改；关系更新失败时删除新传对象
// 成功后旧版文件对象被清除，向量旧块由调度器按代替换
// 向量状态逐字段打点，未触及字段的历史状态原样保留
func (c *WriteCoordinator) CommitUpdate(ctx context.Context, ws *domain.WriteSet) (*domain.Record, error) {
	started := time.Now()

	oldRow, err := c.records.FetchRow(ctx, ws.Schema, ws.RecordID)
	if err != nil {
		return nil, err
	}

	c.seedPayloadBase(ws, oldRow)
	pending := pendingStatus(ws)

	err = saga.NewBuilder().
		AddStep("upload_blobs", func(ctx context.Context) error {
			return c.uploadBlobs(ctx, ws)
		}, func(ctx context.Context) error {
			return c.deleteBlobs(ctx, ws.Schema.BucketName(), objectKeys(ws.Blobs))
		}).
		AddStep("relational_update", func(ctx context.Context) error {
			return c.records.UpdateRow(ctx, ws.Schema, ws.RecordID, ws.Row, ws.ChildRows)
		}, nil).
		Execute(ctx)
	if err != nil {
		c.metrics.ObserveCommit(ws.Schema.Name, "update", "error", time.Since(started))
		return nil, c.commitError("update", err)
	}

	for field := range pending {
		if serr := c.records.SetVectorStatus(ctx, ws.Schema, ws.RecordID, field, domain.VectorStatusPending); serr != nil {
			c.log.WithContext(ctx).Errorf("failed to stamp vector status for %s/%s: %v", ws.RecordID, field, serr)
		}
	}

	c.cleanupReplacedBlobs(ctx, ws, oldRow)
	c.enqueueVectors(ctx, ws)
	c.publish(ctx, EventRecordUpdated, ws.Schema.Name, ws.RecordID)
	c.metrics.ObserveCommit(ws.Schema.Name, "update", "ok", time.Since(started))

	status := decodeVectorStatus(oldRow[domain.VectorStatusColumn])
	if len(pending) > 0 {
		if status == nil {
			status = make(map[string]domain.VectorStatus, len(pending))
		}
		for field := range pending {
			status[field] = domain.VectorStatusPending
		}
	}

	return &domain.Record{
		ID:           ws.RecordID,
		Collection:   ws.Schema.Name,
		Data:         ws.Row,
		VectorStatus: status,
		UpdatedAt:    time.Now().UTC(),
	}, nil
}

// Delete 删除记录：关系行、全部向量点、全部对象
func (c *WriteCoordinator) Delete(ctx context.Context, schema *domain.CollectionSchema, recordID string) error {
	started := time.Now()

	row, err := c.records.FetchRow(ctx, schema, recordID)
	if err != nil {
		return err
	}

	if err := c.records.DeleteRow(ctx, schema, recordID); err != nil {
		c.metrics.ObserveCommit(schema.Name, "delete", "error", time.Since(started))
		return c.commitError("delete", err)
	}

	var errs []error
	if schema.RequiresVectors() {
		if err := c.vectors.DeleteByRecord(ctx, schema.Name, recordID); err != nil {
			errs = append(errs, fmt.Errorf("delete vector points: %w", err))
		}
	}
	for _, f := range schema.FieldsRequiring(domain.CapabilityBlob) {
		key, ok := row[f.Name].(string)
		if !ok || key == "" {
			continue
		}
		if err := c.blobs.Delete(ctx, schema.BucketName(), key); err != nil {
			errs = append(errs, fmt.Errorf("delete blob %s: %w", key, err))
		}
	}
	if len(errs) > 0 {
		c.metrics.ObserveCommit(schema.Name, "delete", "error", time.Since(started))
		return domain.NewCommitError("delete_cleanup", errors.Join(errs...))
	}

	c.publish(ctx, EventRecordDeleted, schema.Name, recordID)
	c.metrics.ObserveCommit(schema.Name, "delete", "ok", time.Since(started))
	return nil
}

// pendingStatus 待写集里将被向量化的字段，都先标pending
func pendingStatus(ws *domain.WriteSet) map[string]domain.VectorStatus {
	if len(ws.Vectors) == 0 {
		return nil
	}
	status := make(map[string]domain.VectorStatus, len(ws.Vectors))
	for _, pv := range ws.Vectors {
		status[pv.Field] = domain.VectorStatusPending
	}
	return status
}

// stampPendingStatus pending状态整列写进新记录的关系行
// 只用于插入，更新必须逐字段打点以保留未触及字段的状态
func (c *WriteCoordinator) stampPendingStatus(ws *domain.WriteSet) map[string]domain.VectorStatus {
	status := pendingStatus(ws)
	if status != nil {
		ws.Row[domain.VectorStatusColumn] = status
	}
	return status
}

// seedPayloadBase 更新时用存量行回填补丁未触及的payload值
// 重嵌入的向量点才不会丢掉未改字段的过滤值
func (c *WriteCoordinator) seedPayloadBase(ws *domain.WriteSet, oldRow map[string]any) {
	if ws.PayloadBase == nil {
		ws.PayloadBase = make(map[string]any)
	}
	for i := range ws.Schema.Fields {
		f := &ws.Schema.Fields[i]
		if !f.StoredIn(domain.StoreVectorPayload) && !(f.Filterable && payloadFriendly(f.Type)) {
			continue
		}
		if _, ok := ws.PayloadBase[f.Name]; ok {
			continue
		}
		// 补丁显式清空的字段不回填旧值
		if v, cleared := ws.Row[f.Name]; cleared && v == nil {
			continue
		}
		if v, ok := oldRow[f.Name]; ok && v != nil {
			ws.PayloadBase[f.Name] = payloadValue(v)
		}
	}
}

// uploadBlobs 并行上传全部对象
func (c *WriteCoordinator) uploadBlobs(ctx context.Context, ws *domain.WriteSet) error {
	if len(ws.Blobs) == 0 {
		return nil
	}
	bucket := ws.Schema.BucketName()
	if err := c.blobs.EnsureBucket(ctx, bucket); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", bucket, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ws.Blobs))
	for i := range ws.Blobs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := ws.Blobs[i]
			errs[i] = c.blobs.Put(ctx, bucket, b.ObjectKey, b.Data, b.ContentType)
		}(i)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// deleteBlobs 补偿删除，逐个尽力而为
func (c *WriteCoordinator) deleteBlobs(ctx context.Context, bucket string, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := c.blobs.Delete(ctx, bucket, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// cleanupReplacedBlobs 更新成功后删除被替换的旧对象
func (c *WriteCoordinator) cleanupReplacedBlobs(ctx context.Context, ws *domain.WriteSet, oldRow map[string]any) {
	bucket := ws.Schema.BucketName()
	for _, b := range ws.Blobs {
		oldKey, ok := oldRow[b.Field].(string)
		if !ok || oldKey == "" || oldKey == b.ObjectKey {
			continue
		}
		if err := c.blobs.Delete(ctx, bucket, oldKey); err != nil {
			c.log.WithContext(ctx).Warnf("failed to delete replaced blob %s/%s: %v", bucket, oldKey, err)
		}
	}
}

// enqueueVectors 关系提交成功后派发向量化任务
// 入队失败绝不回滚已提交的写，字段标记为失败并留给调用方经记录状态感知
func (c *WriteCoordinator) enqueueVectors(ctx context.Context, ws *domain.WriteSet) {
	for _, pv := range ws.Vectors {
		job := &domain.VectorJob{
			Collection:  ws.Schema.Name,
			RecordID:    ws.RecordID,
			Pending:     pv,
			PayloadBase: ws.PayloadBase,
			ProviderID:  ws.Schema.Config.EmbeddingProviderID,
			EnqueuedAt:  time.Now(),
		}
		if err := c.queue.Enqueue(job); err != nil {
			c.log.WithContext(ctx).Errorf("failed to enqueue vector job %s: %v", job.JobKey(), err)
			c.metrics.VectorJobsTotal.WithLabelValues("rejected").Inc()
			if serr := c.records.SetVectorStatus(ctx, ws.Schema, ws.RecordID, pv.Field, domain.VectorStatusFailed); serr != nil {
				c.log.WithContext(ctx).Errorf("failed to mark vector status for %s/%s: %v", ws.RecordID, pv.Field, serr)
			}
		}
	}
}

// publish 发布生命周期事件，失败只记日志
func (c *WriteCoordinator) publish(ctx context.Context, eventType, collection, recordID string) {
	if c.events == nil {
		return
	}
	event := &RecordEvent{
		Type:       eventType,
		Collection: collection,
		RecordID:   recordID,
		Timestamp:  time.Now().UTC(),
	}
	if err := c.events.Publish(ctx, event); err != nil {
		c.log.WithContext(ctx).Warnf("failed to publish %s event for %s: %v", eventType, recordID, err)
	}
}

// commitError 唯一冲突原样透出，其余归为提交失败
func (c *WriteCoordinator) commitError(stage string, err error) error {
	if domain.IsDuplicateKey(err) {
		return err
	}
	return domain.NewCommitError(stage, err)
}

func objectKeys(blobs []domain.BlobUpload) []string {
	keys := make([]string, len(blobs))
	for i, b := range blobs {
		keys[i] = b.ObjectKey
	}
	return keys
}
