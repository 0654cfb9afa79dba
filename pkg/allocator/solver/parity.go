package solver

import (
	"time"

	"github.com/paiban/fenban/pkg/allocator/constraint"
	"github.com/paiban/fenban/pkg/logger"
	"github.com/paiban/fenban/pkg/swap"
)

const (
	DefaultParityTolerance = 2
	DefaultMaxParityRounds = 100
)

// ParityConfig 第三阶段配置
type ParityConfig struct {
	Tolerance int `json:"tolerance"`  // 允许的 |F-M|
	MaxRounds int `json:"max_rounds"` // 最大轮数
}

// DefaultParityConfig 默认配置
func DefaultParityConfig() ParityConfig {
	return ParityConfig{
		Tolerance: DefaultParityTolerance,
		MaxRounds: DefaultMaxParityRounds,
	}
}

// ParityBalancer 第三阶段：补全分配与性别均衡
type ParityBalancer struct {
	config    ParityConfig
	evaluator *swap.SwapEvaluator
	logger    *logger.AllocationLogger
}

// NewParityBalancer 创建性别均衡器
func NewParityBalancer(config ParityConfig, evaluator *swap.SwapEvaluator, l *logger.AllocationLogger) *ParityBalancer {
	if config.MaxRounds <= 0 {
		config.MaxRounds = DefaultMaxParityRounds
	}
	if config.Tolerance < 0 {
		config.Tolerance = DefaultParityTolerance
	}
	if evaluator == nil {
		evaluator = swap.NewSwapEvaluator()
	}
	if l == nil {
		l = logger.NewNopAllocationLogger()
	}
	return &ParityBalancer{config: config, evaluator: evaluator, logger: l}
}

// Number 返回阶段编号
func (b *ParityBalancer) Number() int { return PhaseParity }

// Name 返回阶段名称
func (b *ParityBalancer) Name() string { return "parity" }

// Run 先补全未分配学生，再逐轮交换以缩小性别差
func (b *ParityBalancer) Run(ctx *constraint.Context) (*Result, error) {
	start := time.Now()
	result := newResult(b)
	warningsBefore := ctx.WarningCount()

	if err := b.complete(ctx, result); err != nil {
		return nil, err
	}
	if err := b.balance(ctx, result); err != nil {
		return nil, err
	}

	result.Warnings = ctx.WarningCount() - warningsBefore
	result.Duration = time.Since(start)
	return result, nil
}

// complete 将池中学生放入人数最少的合格班级
// 优先稀缺标签仍有余额的班级；其次不会使已开设标签超额的班级；最后任意班级
func (b *ParityBalancer) complete(ctx *constraint.Context, result *Result) error {
	for _, i := range ctx.State.Unassigned() {
		target := leastFilled(ctx, func(c int) bool { return b.evaluator.HasRoomFor(ctx, i, c) })
		if target < 0 {
			target = leastFilled(ctx, func(c int) bool { return b.evaluator.FitsOfferedQuotas(ctx, i, c) })
			if target >= 0 {
				b.warn(ctx, "学生 %s 的稀缺标签无剩余配额，放入未开设该标签的班级 %s",
					ctx.Students[i].ID, ctx.Classes[target].ID)
			}
		}
		if target < 0 {
			target = leastFilled(ctx, nil)
			b.warn(ctx, "学生 %s 放入班级 %s 超出标签配额", ctx.Students[i].ID, ctx.Classes[target].ID)
		}
		if err := ctx.Assign(i, target, "P3:FILL"); err != nil {
			return err
		}
		result.Placed++
	}
	return nil
}

// balance 有界贪心：每轮最多一次交换，某轮无交换即收敛
func (b *ParityBalancer) balance(ctx *constraint.Context, result *Result) error {
	tol := b.config.Tolerance
	for round := 0; round < b.config.MaxRounds; round++ {
		result.Rounds = round + 1
		swapped := false

		for c1 := range ctx.Classes {
			gap := ctx.State.Females(c1) - ctx.State.Males(c1)
			if abs(gap) <= tol || abs(gap) < 2 {
				continue
			}
			for c2 := range ctx.Classes {
				if c2 == c1 {
					continue
				}
				gap2 := ctx.State.Females(c2) - ctx.State.Males(c2)
				if gap2 == 0 || (gap > 0) == (gap2 > 0) {
					continue
				}
				// c1 多出的性别换出，换入 c2 多出的性别
				a, p := b.pickPair(ctx, c1, c2, gap > 0)
				if a < 0 {
					continue
				}
				if err := ctx.Swap(a, p, "P3:PARITY"); err != nil {
					return err
				}
				result.Swaps++
				swapped = true
				break
			}
			if swapped {
				break
			}
		}

		if !swapped {
			break
		}
	}

	for c, cls := range ctx.Classes {
		if gap := ctx.State.Females(c) - ctx.State.Males(c); abs(gap) > tol {
			b.warn(ctx, "班级 %s 性别差 %d 超出容差 %d", cls.ID, abs(gap), tol)
		}
	}
	return nil
}

// pickPair 在 c1 中找第一个多出性别的学生，在 c2 中找第一个相反性别且可合法交换的学生
func (b *ParityBalancer) pickPair(ctx *constraint.Context, c1, c2 int, giveFemale bool) (int, int) {
	partners := ctx.State.Roster(c2)
	for _, a := range ctx.State.Roster(c1) {
		if ctx.Profiles[a].Female != giveFemale || !ctx.Movable(a) {
			continue
		}
		for _, p := range partners {
			if ctx.Profiles[p].Female == giveFemale {
				continue
			}
			if b.evaluator.CanSwap(ctx, a, p) {
				return a, p
			}
		}
	}
	return -1, -1
}

func (b *ParityBalancer) warn(ctx *constraint.Context, format string, args ...interface{}) {
	w := ctx.Warn(PhaseParity, format, args...)
	b.logger.ConstraintWarning(PhaseParity, w.Message)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
