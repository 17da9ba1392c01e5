package health

import (
	"context"
	"sync"
	"time"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult 单个依赖的检查结果
type CheckResult struct {
	Status   Status        `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// CheckFunc 依赖探活函数
type CheckFunc func(ctx context.Context) error

// Report 聚合检查报告
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// Healthy 整体是否健康
func (r *Report) Healthy() bool {
	return r.Status == StatusHealthy
}

// Checker 依赖健康聚合器
// 各存储后端注册探活函数，就绪探针拿到全量报告
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
}

// NewChecker 创建聚合器
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Checker{
		checks:  make(map[string]CheckFunc),
		timeout: timeout,
	}
}

// Register 注册依赖探活函数
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// Check 并发执行全部探活，任一失败整体为不健康
func (c *Checker) Check(ctx context.Context) *Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	fns := make([]CheckFunc, 0, len(c.checks))
	for name, fn := range c.checks {
		names = append(names, name)
		fns = append(fns, fn)
	}
	c.mu.RUnlock()

	report := &Report{
		Status: StatusHealthy,
		Checks: make(map[string]CheckResult, len(names)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i := range names {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			started := time.Now()
			err := fn(checkCtx)

			result := CheckResult{Status: StatusHealthy, Duration: time.Since(started)}
			if err != nil {
				result.Status = StatusUnhealthy
				result.Error = err.Error()
			}

			mu.Lock()
			report.Checks[name] = result
			if err != nil {
				report.Status = StatusUnhealthy
			}
			mu.Unlock()
		}(names[i], fns[i])
	}
	wg.Wait()

	return report
}
