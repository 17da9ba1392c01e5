package saga

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCompensationFailed 补偿失败
	ErrCompensationFailed = errors.New("compensation failed")
)

// Step saga步骤
// 跨非事务存储的"事务"用有序步骤+补偿动作表达，不假设两阶段提交
type Step struct {
	// Name 步骤名称
	Name string
	// Execute 执行函数
	Execute func(ctx context.Context) error
	// Compensate 补偿函数（回滚），nil表示该步骤不补偿
	Compensate func(ctx context.Context) error
	// Timeout 超时时间
	Timeout time.Duration
}

// Saga saga协调器
type Saga struct {
	steps          []Step
	onStepComplete func(stepName string, err error)
}

// New 创建saga
func New() *Saga {
	return &Saga{steps: make([]Step, 0, 4)}
}

// AddStep 添加步骤
func (s *Saga) AddStep(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// OnStepComplete 设置步骤完成回调
func (s *Saga) OnStepComplete(fn func(stepName string, err error)) *Saga {
	s.onStepComplete = fn
	return s
}

// Execute 顺序执行步骤；某步失败时，已成功步骤按逆序补偿
func (s *Saga) Execute(ctx context.Context) error {
	for i, step := range s.steps {
		err := runStep(ctx, step.Execute, step.Timeout)

		if s.onStepComplete != nil {
			s.onStepComplete(step.Name, err)
		}

		if err != nil {
			if compErr := s.compensate(ctx, i-1); compErr != nil {
				return errors.Join(
					fmt.Errorf("saga step '%s' failed: %w", step.Name, err),
					compErr,
				)
			}
			return fmt.Errorf("saga step '%s' failed: %w", step.Name, err)
		}
	}
	return nil
}

// compensate 从最后一个成功步骤逆序补偿
// 单个补偿失败不中断后续补偿，错误聚合后一并返回
func (s *Saga) compensate(ctx context.Context, lastSuccessIndex int) error {
	var errs []error
	for i := lastSuccessIndex; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := runStep(ctx, step.Compensate, step.Timeout); err != nil {
			errs = append(errs, fmt.Errorf("compensation for step '%s' failed: %w", step.Name, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrCompensationFailed}, errs...)...)
	}
	return nil
}

func runStep(ctx context.Context, fn func(ctx context.Context) error, timeout time.Duration) error {
	stepCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()
	return fn(stepCtx)
}

// Builder saga构建器
type Builder struct {
	saga *Saga
}

// NewBuilder 创建构建器
func NewBuilder() *Builder {
	return &Builder{saga: New()}
}

// AddStep 添加步骤
func (b *Builder) AddStep(name string, execute, compensate func(ctx context.Context) error) *Builder {
	b.saga.AddStep(Step{Name: name, Execute: execute, Compensate: compensate})
	return b
}

// AddStepWithTimeout 添加带超时的步骤
func (b *Builder) AddStepWithTimeout(name string, execute, compensate func(ctx context.Context) error, timeout time.Duration) *Builder {
	b.saga.AddStep(Step{Name: name, Execute: execute, Compensate: compensate, Timeout: timeout})
	return b
}

// OnStepComplete 设置步骤完成回调
func (b *Builder) OnStepComplete(fn func(stepName string, err error)) *Builder {
	b.saga.OnStepComplete(fn)
	return b
}

// Execute 构建并执行
func (b *Builder) Execute(ctx context.Context) error {
	return b.saga.Execute(ctx)
}
