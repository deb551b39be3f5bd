// Package optimizer 提供排程流水线共用的并行评估与搜索辅助工具
package optimizer

import (
	"context"
	"fmt"
	"sync"

	"github.com/paiban/examplan/pkg/logger"
)

// EvaluateFunc 单个任务的评估函数
type EvaluateFunc[T, R any] func(ctx context.Context, item T) (R, error)

// EvaluationResult 评估结果，Index 与输入下标一致
type EvaluationResult[R any] struct {
	Index     int
	Value     R
	Err       error
	Recovered bool
}

// ParallelEvaluator 并行评估器
type ParallelEvaluator[T, R any] struct {
	workers int
	logger  *logger.PipelineLogger
}

// NewParallelEvaluator 创建并行评估器
func NewParallelEvaluator[T, R any](workers int) *ParallelEvaluator[T, R] {
	if workers <= 0 {
		workers = 4
	}
	return &ParallelEvaluator[T, R]{
		workers: workers,
		logger:  logger.NewPipelineLogger("optimizer"),
	}
}

// Workers 工作协程数
func (p *ParallelEvaluator[T, R]) Workers() int {
	return p.workers
}

type job[T any] struct {
	index int
	item  T
}

// EvaluateBatch 并行评估一批任务，结果按输入顺序返回
//
// 上下文取消后未开始的任务以 ctx.Err() 作为结果；单个任务 panic 只影响该任务。
func (p *ParallelEvaluator[T, R]) EvaluateBatch(ctx context.Context, items []T, fn EvaluateFunc[T, R]) []EvaluationResult[R] {
	if len(items) == 0 {
		return nil
	}

	workers := p.workers
	if workers > len(items) {
		workers = len(items)
	}

	resultChan := make(chan EvaluationResult[R], len(items))
	jobChan := make(chan job[T], len(items))

	// 启动工作协程
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobChan {
				select {
				case <-ctx.Done():
					resultChan <- EvaluationResult[R]{Index: j.index, Err: ctx.Err()}
				default:
					resultChan <- p.evaluateSingle(ctx, j, fn)
				}
			}
		}()
	}

	// 发送任务
	for i, item := range items {
		jobChan <- job[T]{index: i, item: item}
	}
	close(jobChan)

	// 等待完成
	go func() {
		wg.Wait()
		close(resultChan)
	}()

	// 收集结果
	results := make([]EvaluationResult[R], len(items))
	for result := range resultChan {
		results[result.Index] = result
	}

	return results
}

// evaluateSingle 评估单个任务
func (p *ParallelEvaluator[T, R]) evaluateSingle(ctx context.Context, j job[T], fn EvaluateFunc[T, R]) (result EvaluationResult[R]) {
	result.Index = j.index
	defer func() {
		if r := recover(); r != nil {
			p.logger.Recovered(fmt.Sprintf("job-%d", j.index), r)
			result.Err = fmt.Errorf("evaluation panicked: %v", r)
			result.Recovered = true
		}
	}()
	result.Value, result.Err = fn(ctx, j.item)
	return result
}

// Errors 汇总失败任务
func Errors[R any](results []EvaluationResult[R]) []error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("job %d: %w", r.Index, r.Err))
		}
	}
	return errs
}
