package biz

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"cortex/cmd/cortex-gateway/internal/domain"
	"cortex/pkg/monitoring"
	"cortex/pkg/resilience"

	"github.com/go-kratos/kratos/v2/log"
)

// lockStripes 按任务键分片的串行锁数量
const lockStripes = 64

// DispatcherOptions 调度器参数
type DispatcherOptions struct {
	Workers      int
	QueueSize    int
	MaxRetries   int
	RetryDelay   time.Duration
	MaxRetryWait time.Duration
	EmbedBatch   int
	EmbedTimeout time.Duration
}

// normalize 填充默认值
func (o DispatcherOptions) normalize() DispatcherOptions {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
	if o.MaxRetryWait <= 0 {
		o.MaxRetryWait = 30 * time.Second
	}
	if o.EmbedBatch <= 0 {
		o.EmbedBatch = 64
	}
	if o.EmbedTimeout <= 0 {
		o.EmbedTimeout = 30 * time.Second
	}
	return o
}

// Dispatcher 提取/嵌入调度器
// 有界工作池异步消费向量化任务：提取文本、分块、嵌入、换组写入向量索引
// 同一(记录,字段)的任务串行执行，代号更大的任务覆盖旧任务，旧块绝不复活
type Dispatcher struct {
	collections domain.CollectionRepository
	records     domain.RecordRepository
	vectors     domain.VectorIndex
	providers   domain.ProviderResolver
	extractor   domain.ContentExtractor
	events      domain.EventPublisher
	metrics     *monitoring.Metrics
	log         *log.Helper
	opts        DispatcherOptions

	queue  chan *domain.VectorJob
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// generations 任务键 -> 最新代号，入队时递增
	genMu       sync.Mutex
	generations map[string]uint64

	// locks 任务键分片锁，保证同键任务串行
	locks [lockStripes]sync.Mutex

	closed   bool
	closedMu sync.RWMutex
}

// NewDispatcher 创建调度器
func NewDispatcher(
	collections domain.CollectionRepository,
	records domain.RecordRepository,
	vectors domain.VectorIndex,
	providers domain.ProviderResolver,
	extractor domain.ContentExtractor,
	events domain.EventPublisher,
	metrics *monitoring.Metrics,
	opts DispatcherOptions,
	logger log.Logger,
) *Dispatcher {
	opts = opts.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		collections: collections,
		records:     records,
		vectors:     vectors,
		providers:   providers,
		extractor:   extractor,
		events:      events,
		metrics:     metrics,
		log:         log.NewHelper(logger),
		opts:        opts,
		queue:       make(chan *domain.VectorJob, opts.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
		generations: make(map[string]uint64),
	}
}

// Start 启动工作池
func (d *Dispatcher) Start() {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.log.Infof("dispatcher started with %d workers, queue size %d", d.opts.Workers, d.opts.QueueSize)
}

// Stop 停止接收新任务并排空在途任务
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.closedMu.Lock()
	if d.closed {
		d.closedMu.Unlock()
		return nil
	}
	d.closed = true
	d.closedMu.Unlock()

	close(d.queue)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

// Enqueue 非阻塞入队
// 代号在入队时分配：同键后到的任务代号更大，消费侧据此跳过被覆盖的旧任务
func (d *Dispatcher) Enqueue(job *domain.VectorJob) error {
	d.closedMu.RLock()
	defer d.closedMu.RUnlock()
	if d.closed {
		return domain.ErrQueueFull
	}

	key := job.JobKey()
	d.genMu.Lock()
	d.generations[key]++
	job.Generation = d.generations[key]
	d.genMu.Unlock()

	select {
	case d.queue <- job:
		d.metrics.VectorQueueDepth.Set(float64(len(d.queue)))
		d.metrics.VectorJobsTotal.WithLabelValues("enqueued").Inc()
		return nil
	default:
		return domain.ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.metrics.VectorQueueDepth.Set(float64(len(d.queue)))
		d.runJob(job)
	}
}

// runJob 同键串行执行单个任务
func (d *Dispatcher) runJob(job *domain.VectorJob) {
	key := job.JobKey()

	// 锁前先看一眼，被覆盖的旧任务不值得排队
	if d.superseded(key, job.Generation) {
		d.metrics.VectorJobsTotal.WithLabelValues("superseded").Inc()
		return
	}

	lock := &d.locks[stripeFor(key)]
	lock.Lock()
	defer lock.Unlock()

	if d.superseded(key, job.Generation) {
		d.metrics.VectorJobsTotal.WithLabelValues("superseded").Inc()
		return
	}

	started := time.Now()
	if err := d.process(d.ctx, job); err != nil {
		d.log.Errorf("vector job %s (gen %d) failed permanently: %v", key, job.Generation, err)
		d.metrics.VectorJobsTotal.WithLabelValues("failed").Inc()
		d.markStatus(job, domain.VectorStatusFailed)
		return
	}
	d.metrics.VectorJobsTotal.WithLabelValues("completed").Inc()
	d.metrics.VectorJobDuration.Observe(time.Since(started).Seconds())
}

// process 提取 -> 分块 -> 嵌入 -> 换组写入
func (d *Dispatcher) process(ctx context.Context, job *domain.VectorJob) error {
	// 1. 取文本：直取值或委托提取器
	text := job.Pending.Text
	var err error
	if text == "" && len(job.Pending.FileData) > 0 {
		cfg := &domain.ExtractConfig{
			ExtractText:  true,
			OCRIfNeeded:  job.Pending.OCRIfNeeded,
			ChunkSize:    job.Pending.ChunkSize,
			ChunkOverlap: job.Pending.ChunkOverlap,
		}
		text, err = d.extractor.Extract(ctx, job.Pending.FileData, job.Pending.ContentType, cfg)
		if err != nil {
			return fmt.Errorf("extract content: %w", err)
		}
	}

	// 2. 分块，空文本等价于清空该字段的所有向量点
	chunks := SplitChunks(text, job.Pending.ChunkSize, job.Pending.ChunkOverlap)
	if len(chunks) == 0 {
		if err := d.vectors.DeleteByRecordField(ctx, job.Collection, job.RecordID, job.Pending.Field); err != nil {
			return fmt.Errorf("clear vector points: %w", err)
		}
		d.markStatus(job, domain.VectorStatusCompleted)
		return nil
	}

	// 3. 逐批嵌入，指数退避重试
	provider, err := d.providers.Resolve(ctx, job.ProviderID)
	if err != nil {
		return fmt.Errorf("resolve provider: %w", err)
	}

	vectors, err := d.embedChunks(ctx, provider, chunks)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	dim, err := provider.Dimension(ctx)
	if err != nil {
		return fmt.Errorf("provider dimension: %w", err)
	}

	// 写前再次确认未被更新的任务覆盖
	if d.superseded(job.JobKey(), job.Generation) {
		d.metrics.VectorJobsTotal.WithLabelValues("superseded").Inc()
		return nil
	}

	// 4. 先删旧组再写新组，点ID确定性生成，重放天然幂等
	if err := d.vectors.EnsureCollection(ctx, job.Collection, dim); err != nil {
		return fmt.Errorf("ensure vector collection: %w", err)
	}
	if err := d.vectors.DeleteByRecordField(ctx, job.Collection, job.RecordID, job.Pending.Field); err != nil {
		return fmt.Errorf("delete prior points: %w", err)
	}

	points := make([]domain.VectorPoint, len(chunks))
	for i, chunk := range chunks {
		points[i] = domain.VectorPoint{
			ID:         domain.PointID(job.RecordID, job.Pending.Field, i),
			Vector:     vectors[i],
			RecordID:   job.RecordID,
			Field:      job.Pending.Field,
			ChunkIndex: i,
			Text:       chunk,
			Payload:    job.PayloadBase,
		}
	}
	if err := d.vectors.Upsert(ctx, job.Collection, points); err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}

	d.markStatus(job, domain.VectorStatusCompleted)
	d.publishVectorized(ctx, job)
	return nil
}

// publishVectorized 字段向量化完成事件，失败只记日志
func (d *Dispatcher) publishVectorized(ctx context.Context, job *domain.VectorJob) {
	if d.events == nil {
		return
	}
	event := &RecordEvent{
		Type:       EventRecordVectorized,
		Collection: job.Collection,
		RecordID:   job.RecordID,
		Field:      job.Pending.Field,
		Timestamp:  time.Now().UTC(),
	}
	if err := d.events.Publish(ctx, event); err != nil {
		d.log.Warnf("failed to publish %s event for %s: %v", EventRecordVectorized, job.JobKey(), err)
	}
}

// embedChunks 分批调用嵌入服务，每批带超时与重试
func (d *Dispatcher) embedChunks(ctx context.Context, provider domain.EmbeddingProvider, chunks []string) ([][]float32, error) {
	policy := resilience.RetryPolicy{
		MaxRetries:        d.opts.MaxRetries,
		InitialDelay:      d.opts.RetryDelay,
		MaxDelay:          d.opts.MaxRetryWait,
		BackoffMultiplier: 2.0,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			d.log.Warnf("embedding attempt %d failed, retrying in %s: %v", attempt, delay, err)
		},
	}

	out := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += d.opts.EmbedBatch {
		end := start + d.opts.EmbedBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		var vectors [][]float32
		err := resilience.Retry(ctx, policy, func() error {
			callCtx, cancel := context.WithTimeout(ctx, d.opts.EmbedTimeout)
			defer cancel()
			var embErr error
			vectors, embErr = provider.EmbedBatch(callCtx, batch)
			return embErr
		})
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("provider returned %d vectors for %d chunks", len(vectors), len(batch))
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// superseded 任务是否已被同键更新任务覆盖
func (d *Dispatcher) superseded(key string, generation uint64) bool {
	d.genMu.Lock()
	defer d.genMu.Unlock()
	return d.generations[key] > generation
}

// markStatus 更新记录上的字段级向量化状态
func (d *Dispatcher) markStatus(job *domain.VectorJob, status domain.VectorStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema, err := d.collections.GetSchema(ctx, job.Collection)
	if err != nil {
		d.log.Errorf("failed to load schema for status update %s: %v", job.JobKey(), err)
		return
	}
	if err := d.records.SetVectorStatus(ctx, schema, job.RecordID, job.Pending.Field, status); err != nil {
		d.log.Errorf("failed to set vector status %s=%s: %v", job.JobKey(), status, err)
	}
}

func stripeFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(key)))
	return int(h.Sum32() % lockStripes)
}
