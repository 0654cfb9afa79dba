package solver

import (
	"time"

	"github.com/paiban/fenban/pkg/allocator/constraint"
	"github.com/paiban/fenban/pkg/logger"
	"github.com/paiban/fenban/pkg/swap"
)

// QuotaDispatcher 第一阶段：稀缺标签配额分配
// 不检查分班组约束，标签配额优先于分组
type QuotaDispatcher struct {
	evaluator *swap.SwapEvaluator
	logger    *logger.AllocationLogger
}

// NewQuotaDispatcher 创建配额分配器
func NewQuotaDispatcher(evaluator *swap.SwapEvaluator, l *logger.AllocationLogger) *QuotaDispatcher {
	if evaluator == nil {
		evaluator = swap.NewSwapEvaluator()
	}
	if l == nil {
		l = logger.NewNopAllocationLogger()
	}
	return &QuotaDispatcher{evaluator: evaluator, logger: l}
}

// Number 返回阶段编号
func (d *QuotaDispatcher) Number() int { return PhaseQuota }

// Name 返回阶段名称
func (d *QuotaDispatcher) Name() string { return "quota" }

// Run 按班级配置顺序、标签字母顺序放置稀缺标签学生
func (d *QuotaDispatcher) Run(ctx *constraint.Context) (*Result, error) {
	start := time.Now()
	result := newResult(d)
	warningsBefore := ctx.WarningCount()

	for c, cls := range ctx.Classes {
		for _, name := range cls.QuotaTags() {
			tag, ok := ctx.Tags.ID(name)
			if !ok || !ctx.Tags.IsScarce(tag) {
				continue
			}
			quota := ctx.Quota(c, tag)
			if quota <= 0 {
				continue
			}

			// 已在班级中持有该标签的学生计入配额
			remaining := quota - ctx.State.TagCount(c, tag)
			full := false
			for i := range ctx.Students {
				if remaining <= 0 {
					break
				}
				if ctx.State.IsAssigned(i) || !ctx.Profiles[i].HasTag(tag) {
					continue
				}
				// 学生的另一稀缺标签在本班已满时跳过
				if !d.evaluator.FitsOfferedQuotas(ctx, i, c) {
					continue
				}
				if ctx.State.Size(c) >= cls.CapacityTarget {
					full = true
					break
				}
				if err := ctx.Assign(i, c, "P1:"+name); err != nil {
					return nil, err
				}
				remaining--
				result.Placed++
			}

			if remaining > 0 {
				placed := quota - remaining
				var w constraint.Warning
				if full {
					w = ctx.Warn(PhaseQuota, "班级 %s 已达目标人数 %d，标签 %s 仅放置 %d/%d",
						cls.ID, cls.CapacityTarget, name, placed, quota)
				} else {
					w = ctx.Warn(PhaseQuota, "班级 %s 标签 %s 配额 %d，可用学生不足，仅放置 %d",
						cls.ID, name, quota, placed)
				}
				d.logger.ConstraintWarning(PhaseQuota, w.Message)
			}
		}
	}

	d.reportLeftovers(ctx)

	result.Warnings = ctx.WarningCount() - warningsBefore
	result.Duration = time.Since(start)
	return result, nil
}

// reportLeftovers 记录仍留在池中的稀缺标签学生
func (d *QuotaDispatcher) reportLeftovers(ctx *constraint.Context) {
	left := make(map[constraint.TagID]int)
	var order []constraint.TagID
	for _, i := range ctx.State.Unassigned() {
		for _, tag := range ctx.Profiles[i].Tags() {
			if !ctx.Tags.IsScarce(tag) {
				continue
			}
			if left[tag] == 0 {
				order = append(order, tag)
			}
			left[tag]++
		}
	}
	for _, tag := range order {
		w := ctx.Warn(PhaseQuota, "%d 名 %s 学生超出配额，留在待分配池", left[tag], ctx.Tags.Name(tag))
		d.logger.ConstraintWarning(PhaseQuota, w.Message)
	}
}
