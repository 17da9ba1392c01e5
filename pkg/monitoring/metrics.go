package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 网关指标集合
type Metrics struct {
	// CommitTotal 记录提交计数，按集合、操作、结果区分
	CommitTotal *prometheus.CounterVec
	// CommitDuration 记录提交耗时
	CommitDuration *prometheus.HistogramVec
	// VectorJobsTotal 向量化任务计数，按结果区分
	VectorJobsTotal *prometheus.CounterVec
	// VectorQueueDepth 向量化队列当前深度
	VectorQueueDepth prometheus.Gauge
	// VectorJobDuration 向量化任务耗时
	VectorJobDuration prometheus.Histogram
	// QueryTotal 查询计数，按集合、模式、结果区分
	QueryTotal *prometheus.CounterVec
	// QueryDuration 查询耗时，按模式区分
	QueryDuration *prometheus.HistogramVec
	// EmbeddingRequests 嵌入服务调用计数
	EmbeddingRequests *prometheus.CounterVec
}

// NewMetrics 注册并返回指标集合
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CommitTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Name:      "record_commits_total",
			Help:      "Total record commit attempts by collection, operation and status.",
		}, []string{"collection", "operation", "status"}),
		CommitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cortex",
			Name:      "record_commit_duration_seconds",
			Help:      "Record commit latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection", "operation"}),
		VectorJobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Name:      "vector_jobs_total",
			Help:      "Total vectorization jobs by outcome.",
		}, []string{"outcome"}),
		VectorQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cortex",
			Name:      "vector_queue_depth",
			Help:      "Current depth of the vectorization job queue.",
		}),
		VectorJobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cortex",
			Name:      "vector_job_duration_seconds",
			Help:      "Vectorization job processing latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		QueryTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Name:      "queries_total",
			Help:      "Total queries by collection, mode and status.",
		}, []string{"collection", "mode", "status"}),
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cortex",
			Name:      "query_duration_seconds",
			Help:      "Query latency in seconds by mode.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		EmbeddingRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Name:      "embedding_requests_total",
			Help:      "Total embedding provider calls by provider and status.",
		}, []string{"provider", "status"}),
	}
}

// ObserveCommit 记录一次提交结果
func (m *Metrics) ObserveCommit(collection, operation, status string, elapsed time.Duration) {
	m.CommitTotal.WithLabelValues(collection, operation, status).Inc()
	m.CommitDuration.WithLabelValues(collection, operation).Observe(elapsed.Seconds())
}

// ObserveQuery 记录一次查询结果
func (m *Metrics) ObserveQuery(collection, mode, status string, elapsed time.Duration) {
	m.QueryTotal.WithLabelValues(collection, mode, status).Inc()
	m.QueryDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}
