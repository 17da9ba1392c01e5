package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cortex/cmd/cortex-gateway/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

// OpenAIEmbedder OpenAI协议的嵌入提供方
// 兼容OpenAI、Azure与本地OpenAI协议服务，熔断器挡住持续故障的上游
type OpenAIEmbedder struct {
	cli     *openai.Client
	model   string
	breaker *gobreaker.CircuitBreaker
	log     *log.Helper

	// dim 惰性探测一次后固定
	dimOnce sync.Once
	dim     int
	dimErr  error
}

// NewOpenAIEmbedder 创建嵌入提供方
func NewOpenAIEmbedder(apiKey, baseURL, model string, logger log.Logger) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	helper := log.NewHelper(logger)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding:" + model,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			helper.Warnf("circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &OpenAIEmbedder{
		cli:     openai.NewClientWithConfig(cfg),
		model:   model,
		breaker: breaker,
		log:     helper,
	}
}

// Embed 单条文本嵌入
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding model %s returned no vectors", e.model)
	}
	return vectors[0], nil
}

// EmbedBatch 批量嵌入
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result, err := e.breaker.Execute(func() (any, error) {
		resp, err := e.cli.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: texts,
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed for model %s: %w", e.model, err)
	}

	resp := result.(openai.EmbeddingResponse)
	vectors := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// Dimension 向量维度，首次调用触发一次探测请求
func (e *OpenAIEmbedder) Dimension(ctx context.Context) (int, error) {
	e.dimOnce.Do(func() {
		vector, err := e.Embed(ctx, "dimension probe")
		if err != nil {
			e.dimErr = err
			return
		}
		e.dim = len(vector)
	})
	return e.dim, e.dimErr
}

// DefaultProviderConfig 部署级默认提供方（集合未显式配置时生效）
type DefaultProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// EmbeddingResolver 提供方解析器
// 按集合配置的provider id解析，客户端按id缓存复用
type EmbeddingResolver struct {
	providers  domain.ProviderRepository
	defaultCfg DefaultProviderConfig
	logger     log.Logger

	mu    sync.RWMutex
	cache map[string]*OpenAIEmbedder
}

// NewEmbeddingResolver 创建解析器
func NewEmbeddingResolver(providers domain.ProviderRepository, defaultCfg DefaultProviderConfig, logger log.Logger) domain.ProviderResolver {
	return &EmbeddingResolver{
		providers:  providers,
		defaultCfg: defaultCfg,
		logger:     logger,
		cache:      make(map[string]*OpenAIEmbedder),
	}
}

// Resolve 解析嵌入提供方，空ID回落到部署默认配置
func (r *EmbeddingResolver) Resolve(ctx context.Context, providerID string) (domain.EmbeddingProvider, error) {
	r.mu.RLock()
	if embedder, ok := r.cache[providerID]; ok {
		r.mu.RUnlock()
		return embedder, nil
	}
	r.mu.RUnlock()

	var embedder *OpenAIEmbedder
	if providerID == "" {
		if r.defaultCfg.Model == "" {
			return nil, domain.ErrProviderNotFound
		}
		embedder = NewOpenAIEmbedder(r.defaultCfg.APIKey, r.defaultCfg.BaseURL, r.defaultCfg.Model, r.logger)
	} else {
		cfg, err := r.providers.Get(ctx, providerID, true)
		if err != nil {
			return nil, err
		}
		if !cfg.Enabled {
			return nil, domain.ErrProviderDisabled
		}
		embedder = NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.EmbeddingModel, r.logger)
	}

	r.mu.Lock()
	r.cache[providerID] = embedder
	r.mu.Unlock()
	return embedder, nil
}
