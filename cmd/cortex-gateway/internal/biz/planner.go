package biz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cortex/cmd/cortex-gateway/internal/domain"
	"cortex/pkg/monitoring"

	"github.com/go-kratos/kratos/v2/log"
)

// topKMultiplier 语义检索的候选倍率：块级命中点经按记录去重后才截断
const topKMultiplier = 5

// QueryPlanner 混合查询规划器
// 过滤模式走关系存储原生分页；语义模式先向量预过滤检索、
// 按记录去重取最高块分，再并发取关系行合并排序
type QueryPlanner struct {
	records   domain.RecordRepository
	vectors   domain.VectorIndex
	providers domain.ProviderResolver
	compiler  *FilterCompiler
	metrics   *monitoring.Metrics
	log       *log.Helper
}

// NewQueryPlanner 创建查询规划器
func NewQueryPlanner(
	records domain.RecordRepository,
	vectors domain.VectorIndex,
	providers domain.ProviderResolver,
	compiler *FilterCompiler,
	metrics *monitoring.Metrics,
	logger log.Logger,
) *QueryPlanner {
	return &QueryPlanner{
		records:   records,
		vectors:   vectors,
		providers: providers,
		compiler:  compiler,
		metrics:   metrics,
		log:       log.NewHelper(logger),
	}
}

// QueryPage 过滤模式的分页结果
type QueryPage struct {
	Rows   []map[string]any `json:"rows"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// Query 过滤模式：关系谓词直接求值，按写入顺序分页
func (p *QueryPlanner) Query(ctx context.Context, schema *domain.CollectionSchema, filters map[string]any, limit, offset int) (*QueryPage, error) {
	started := time.Now()

	compiled, err := p.compiler.Compile(schema, filters)
	if err != nil {
		p.metrics.ObserveQuery(schema.Name, "filter", "error", time.Since(started))
		return nil, err
	}
	// payload专属字段关系侧求不了值，拒绝而不是悄悄返回未过滤结果
	if len(compiled.PayloadOnlyFields) > 0 {
		p.metrics.ObserveQuery(schema.Name, "filter", "error", time.Since(started))
		return nil, domain.NewFilterError(fmt.Sprintf(
			"fields %s are only stored in the vector payload and cannot be used outside semantic search",
			strings.Join(compiled.PayloadOnlyFields, ", ")))
	}

	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	rows, err := p.records.QueryRows(ctx, schema, domain.RowQuery{
		Clauses: compiled.Clauses,
		Args:    compiled.Args,
		OrderBy: "created_at DESC",
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		p.metrics.ObserveQuery(schema.Name, "filter", "error", time.Since(started))
		return nil, err
	}

	p.metrics.ObserveQuery(schema.Name, "filter", "ok", time.Since(started))
	return &QueryPage{Rows: rows, Limit: limit, Offset: offset}, nil
}

// Search 语义模式
// 嵌入或向量索引不可用时直接报SearchUnavailable，绝不降级成仅过滤结果
func (p *QueryPlanner) Search(ctx context.Context, schema *domain.CollectionSchema, filters map[string]any, query string, limit int) (*domain.RankedResults, error) {
	started := time.Now()

	compiled, err := p.compiler.Compile(schema, filters)
	if err != nil {
		p.metrics.ObserveQuery(schema.Name, "semantic", "error", time.Since(started))
		return nil, err
	}

	limit = clampLimit(limit)

	// 1. 查询文本嵌入
	provider, err := p.providers.Resolve(ctx, schema.Config.EmbeddingProviderID)
	if err != nil {
		p.metrics.ObserveQuery(schema.Name, "semantic", "unavailable", time.Since(started))
		return nil, domain.NewSearchUnavailable(err)
	}
	queryVector, err := provider.Embed(ctx, query)
	if err != nil {
		p.metrics.ObserveQuery(schema.Name, "semantic", "unavailable", time.Since(started))
		return nil, domain.NewSearchUnavailable(err)
	}

	// 2. 向量检索与关系侧预过滤并发执行
	// payload谓词覆盖不了的条件才需要关系侧出ID集合
	needRelational := !compiled.PayloadCovered && len(compiled.Clauses) > 0

	var (
		wg       sync.WaitGroup
		hits     []domain.ScoredPoint
		hitsErr  error
		allowed  map[string]bool
		allowErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		hits, hitsErr = p.vectors.Search(ctx, schema.Name, queryVector, compiled.VectorExpr, limit*topKMultiplier)
	}()

	if needRelational {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := p.records.QueryRowIDs(ctx, schema, domain.RowQuery{
				Clauses: compiled.Clauses,
				Args:    compiled.Args,
			})
			if err != nil {
				allowErr = err
				return
			}
			allowed = make(map[string]bool, len(ids))
			for _, id := range ids {
				allowed[id] = true
			}
		}()
	}
	wg.Wait()

	if hitsErr != nil {
		p.metrics.ObserveQuery(schema.Name, "semantic", "unavailable", time.Since(started))
		return nil, domain.NewSearchUnavailable(hitsErr)
	}
	if allowErr != nil {
		p.metrics.ObserveQuery(schema.Name, "semantic", "error", time.Since(started))
		return nil, allowErr
	}

	// 3. 按记录去重：保留该记录分数最高的块作为记录分
	best := make(map[string]*domain.SearchResult)
	for _, hit := range hits {
		if allowed != nil && !allowed[hit.RecordID] {
			continue
		}
		highlight := domain.Highlight{
			Field:      hit.Field,
			Text:       hit.Text,
			ChunkIndex: hit.ChunkIndex,
			Score:      hit.Score,
		}
		entry, seen := best[hit.RecordID]
		if !seen {
			best[hit.RecordID] = &domain.SearchResult{
				ID:         hit.RecordID,
				Score:      hit.Score,
				Highlights: []domain.Highlight{highlight},
			}
			continue
		}
		entry.Highlights = append(entry.Highlights, highlight)
		if hit.Score > entry.Score {
			entry.Score = hit.Score
		}
	}

	if len(best) == 0 {
		p.metrics.ObserveQuery(schema.Name, "semantic", "ok", time.Since(started))
		return &domain.RankedResults{Results: []domain.SearchResult{}, TookMS: msSince(started)}, nil
	}

	// 4. 取关系行并排序：分数降序，平分按updated_at倒序
	ids := make([]string, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	rows, err := p.records.FetchRows(ctx, schema, ids)
	if err != nil {
		p.metrics.ObserveQuery(schema.Name, "semantic", "error", time.Since(started))
		return nil, err
	}

	updatedAt := make(map[string]time.Time, len(rows))
	results := make([]domain.SearchResult, 0, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		entry, ok := best[id]
		if !ok {
			continue
		}
		if ts, ok := row["updated_at"].(time.Time); ok {
			updatedAt[id] = ts
		}
		entry.Record = row
		sortHighlights(entry.Highlights)
		results = append(results, *entry)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return updatedAt[results[i].ID].After(updatedAt[results[j].ID])
	})

	if len(results) > limit {
		results = results[:limit]
	}

	p.metrics.ObserveQuery(schema.Name, "semantic", "ok", time.Since(started))
	return &domain.RankedResults{
		Results: results,
		Total:   len(results),
		TookMS:  msSince(started),
	}, nil
}

// sortHighlights 片段按分数降序
func sortHighlights(hs []domain.Highlight) {
	sort.SliceStable(hs, func(i, j int) bool {
		return hs[i].Score > hs[j].Score
	})
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
