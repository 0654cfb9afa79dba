// Package pipeline 串联分班四个阶段
package pipeline

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/paiban/fenban/pkg/allocator/constraint"
	"github.com/paiban/fenban/pkg/allocator/optimizer"
	"github.com/paiban/fenban/pkg/allocator/solver"
	"github.com/paiban/fenban/pkg/errors"
	"github.com/paiban/fenban/pkg/logger"
	"github.com/paiban/fenban/pkg/model"
	"github.com/paiban/fenban/pkg/swap"
)

// DefaultDataset 未指定数据集时使用的锁名
const DefaultDataset = "default"

// Options 流程配置
type Options struct {
	Parity           solver.ParityConfig `json:"parity"`
	Optimizer        optimizer.Config    `json:"optimizer"`
	LockAssociations bool                `json:"lock_associations"`
	SkipOptimize     bool                `json:"skip_optimize"`
	MaxRuntime       time.Duration       `json:"max_runtime"`
	LockTTL          time.Duration       `json:"lock_ttl"`
	LockTimeout      time.Duration       `json:"lock_timeout"`
}

// DefaultOptions 默认配置
func DefaultOptions() Options {
	return Options{
		Parity:           solver.DefaultParityConfig(),
		Optimizer:        optimizer.DefaultConfig(),
		LockAssociations: true,
		MaxRuntime:       600 * time.Second,
		LockTTL:          30 * time.Second,
		LockTimeout:      30 * time.Second,
	}
}

// Locker 整个流程的互斥锁
// 锁被占用且超过等待时间时返回 ALREADY_RUNNING 错误
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, timeout time.Duration) (release func(context.Context) error, err error)
}

// ResultWriter 持久化最终分配
type ResultWriter interface {
	Save(ctx context.Context, report *Report) error
}

// Input 流程输入
type Input struct {
	Dataset  string                    `json:"dataset,omitempty"` // 用作锁名
	Students []*model.Student          `json:"-"`
	Classes  []model.ClassConfig       `json:"classes"`
	Quotas   map[string]map[string]int `json:"quotas,omitempty"` // 班级 -> 标签 -> 配额，覆盖班级配置
}

// Option 流程选项
type Option func(*Pipeline)

// WithLocker 设置互斥锁
func WithLocker(l Locker) Option {
	return func(p *Pipeline) { p.locker = l }
}

// WithResultWriter 设置结果持久化
func WithResultWriter(w ResultWriter) Option {
	return func(p *Pipeline) { p.writer = w }
}

// WithLogger 设置日志器
func WithLogger(l *logger.AllocationLogger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithRand 设置第四阶段随机源
func WithRand(rng *rand.Rand) Option {
	return func(p *Pipeline) { p.rng = rng }
}

// Pipeline 分班流程
type Pipeline struct {
	options   Options
	locker    Locker
	writer    ResultWriter
	logger    *logger.AllocationLogger
	rng       *rand.Rand
	evaluator *swap.SwapEvaluator
}

// New 创建分班流程
func New(options Options, opts ...Option) *Pipeline {
	def := DefaultOptions()
	if options.MaxRuntime <= 0 {
		options.MaxRuntime = def.MaxRuntime
	}
	if options.LockTTL <= 0 {
		options.LockTTL = def.LockTTL
	}
	if options.LockTimeout <= 0 {
		options.LockTimeout = def.LockTimeout
	}

	p := &Pipeline{options: options, evaluator: swap.NewSwapEvaluator()}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.NewNopAllocationLogger()
	}
	return p
}

// Options 返回生效配置
func (p *Pipeline) Options() Options {
	return p.options
}

// Run 执行完整分班流程
// 输入错误在第一阶段前终止；超出运行时间时在阶段之间停止，返回部分结果与 TIMEOUT 错误
func (p *Pipeline) Run(ctx context.Context, in *Input) (*Report, error) {
	start := time.Now()
	runID := uuid.New().String()
	log := p.logger.With(runID)

	if in == nil {
		return nil, errors.EmptyInput("输入")
	}
	actx, err := p.prepare(in)
	if err != nil {
		return nil, err
	}

	if p.locker != nil {
		dataset := in.Dataset
		if dataset == "" {
			dataset = DefaultDataset
		}
		release, err := p.locker.Acquire(ctx, dataset, p.options.LockTTL, p.options.LockTimeout)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = release(context.Background())
		}()
	}

	runCtx, cancel := context.WithTimeout(ctx, p.options.MaxRuntime)
	defer cancel()

	log.StartRun(runID, len(actx.Students), len(actx.Classes))

	b := newReportBuilder(runID, in.Dataset, start)
	phases := []solver.Phase{
		solver.NewQuotaDispatcher(p.evaluator, log),
		solver.NewGroupResolver(p.evaluator, log),
		solver.NewParityBalancer(p.options.Parity, p.evaluator, log),
	}
	for _, phase := range phases {
		if err := runCtx.Err(); err != nil {
			return b.partial(actx), timeoutError(err, phase.Number())
		}
		log.PhaseStart(phase.Number(), phase.Name())
		result, err := phase.Run(actx)
		if err != nil {
			return b.partial(actx), errors.Wrap(err, errors.CodeInternal, "分班阶段执行失败")
		}
		log.PhaseComplete(result.Phase, result.Name, result.Duration, result.Placed+result.Moved+result.Swaps, result.Warnings)
		b.addPhase(result)
	}

	if !p.options.SkipOptimize {
		if err := runCtx.Err(); err != nil {
			return b.partial(actx), timeoutError(err, solver.PhaseOptimize)
		}
		log.PhaseStart(solver.PhaseOptimize, "optimize")
		opts := []optimizer.Option{optimizer.WithLogger(log), optimizer.WithEvaluator(p.evaluator)}
		if p.rng != nil {
			opts = append(opts, optimizer.WithRand(p.rng))
		}
		res := optimizer.NewUltimateOptimizer(p.options.Optimizer, opts...).Optimize(actx)
		log.PhaseComplete(solver.PhaseOptimize, "optimize", res.Duration, res.SwapsApplied, 0)
		b.addOptimization(res)
	}

	report := b.complete(actx, p.options)

	if p.writer != nil {
		if err := p.writer.Save(ctx, report); err != nil {
			return report, errors.Wrap(err, errors.CodeDatabaseError, "保存分班结果失败")
		}
	}

	log.RunComplete(runID, report.Duration, report.SwapsApplied, report.Score.Final)
	return report, nil
}

// prepare 应用配额覆盖并构建上下文
func (p *Pipeline) prepare(in *Input) (*constraint.Context, error) {
	classes, err := constraint.ApplyQuotaOverrides(in.Classes, in.Quotas)
	if err != nil {
		return nil, err
	}
	return constraint.NewContext(in.Students, classes, constraint.WithLockAssociations(p.options.LockAssociations))
}

func timeoutError(err error, phase int) *errors.AppError {
	return errors.Wrap(err, errors.CodeTimeout, "分班超出运行时间").
		WithField("next_phase", phase)
}
