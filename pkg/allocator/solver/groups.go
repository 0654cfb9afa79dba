package solver

import (
	"time"

	"github.com/paiban/fenban/pkg/allocator/constraint"
	"github.com/paiban/fenban/pkg/logger"
	"github.com/paiban/fenban/pkg/swap"
)

// GroupResolver 第二阶段：同班组/分班组约束
// 同班组无条件合并（可超出配额），分班组尽力分开，配额合法性优先
type GroupResolver struct {
	evaluator *swap.SwapEvaluator
	logger    *logger.AllocationLogger
}

// NewGroupResolver 创建分组约束求解器
func NewGroupResolver(evaluator *swap.SwapEvaluator, l *logger.AllocationLogger) *GroupResolver {
	if evaluator == nil {
		evaluator = swap.NewSwapEvaluator()
	}
	if l == nil {
		l = logger.NewNopAllocationLogger()
	}
	return &GroupResolver{evaluator: evaluator, logger: l}
}

// Number 返回阶段编号
func (r *GroupResolver) Number() int { return PhaseGroups }

// Name 返回阶段名称
func (r *GroupResolver) Name() string { return "groups" }

// Run 先合并同班组，再拆分分班组
func (r *GroupResolver) Run(ctx *constraint.Context) (*Result, error) {
	start := time.Now()
	result := newResult(r)
	warningsBefore := ctx.WarningCount()

	if err := r.resolveAssociations(ctx, result); err != nil {
		return nil, err
	}
	if err := r.resolveSeparations(ctx, result); err != nil {
		return nil, err
	}

	result.Warnings = ctx.WarningCount() - warningsBefore
	result.Duration = time.Since(start)
	return result, nil
}

func (r *GroupResolver) resolveAssociations(ctx *constraint.Context, result *Result) error {
	for _, g := range ctx.AssocGroups {
		if len(g.Members) < 2 {
			continue
		}
		target := r.associationTarget(ctx, g)
		reason := "P2:ASSO:" + g.Code

		for _, m := range g.Members {
			cls, assigned := ctx.State.ClassOf(m)
			switch {
			case assigned && cls == target:
				continue
			case !assigned:
				if err := ctx.Assign(m, target, reason); err != nil {
					return err
				}
				result.Placed++
			case ctx.Profiles[m].Fixed:
				r.warn(ctx, "同班组 %s 的固定学生 %s 无法移入班级 %s",
					g.Code, ctx.Students[m].ID, ctx.Classes[target].ID)
			default:
				if err := ctx.Move(m, target, reason); err != nil {
					return err
				}
				result.Moved++
			}
		}
	}
	return nil
}

// associationTarget 选择同班组目标班级
// 有固定成员时取其班级；否则取成员最多的班级（并列取配置顺序靠前者）；
// 无成员已分配时取当前人数最少的班级
func (r *GroupResolver) associationTarget(ctx *constraint.Context, g constraint.Group) int {
	counts := make([]int, len(ctx.Classes))
	for _, m := range g.Members {
		cls, ok := ctx.State.ClassOf(m)
		if !ok {
			continue
		}
		if ctx.Profiles[m].Fixed {
			return cls
		}
		counts[cls]++
	}

	best := -1
	for c, n := range counts {
		if n > 0 && (best < 0 || n > counts[best]) {
			best = c
		}
	}
	if best >= 0 {
		return best
	}
	return leastFilled(ctx, nil)
}

func (r *GroupResolver) resolveSeparations(ctx *constraint.Context, result *Result) error {
	for _, g := range ctx.DissocGroups {
		if len(g.Members) < 2 {
			continue
		}
		reason := "P2:DISSO:" + g.Code

		for c := range ctx.Classes {
			inClass := membersIn(ctx, g, c)
			if len(inClass) < 2 {
				continue
			}
			keeper := inClass[0]
			for _, m := range inClass {
				if !ctx.Movable(m) {
					keeper = m
					break
				}
			}

			for _, m := range inClass {
				if m == keeper {
					continue
				}
				if !ctx.Movable(m) {
					r.warn(ctx, "分班组 %s: 学生 %s 不可移动，与 %s 同在班级 %s",
						g.Code, ctx.Students[m].ID, ctx.Students[keeper].ID, ctx.Classes[c].ID)
					continue
				}
				target := leastFilled(ctx, func(to int) bool {
					return to != c && r.evaluator.CheckMove(ctx, m, to) == swap.IssueNone
				})
				if target < 0 {
					r.warn(ctx, "分班组 %s: 学生 %s 没有可用的目标班级，保留在班级 %s",
						g.Code, ctx.Students[m].ID, ctx.Classes[c].ID)
					continue
				}
				if err := ctx.Move(m, target, reason); err != nil {
					return err
				}
				result.Moved++
			}
		}
	}
	return nil
}

// membersIn 返回分组在班级中的成员（按名单顺序）
func membersIn(ctx *constraint.Context, g constraint.Group, class int) []int {
	var out []int
	for _, idx := range ctx.State.Roster(class) {
		if ctx.Profiles[idx].Dissoc >= 0 && ctx.DissocGroups[ctx.Profiles[idx].Dissoc].Code == g.Code {
			out = append(out, idx)
		}
	}
	return out
}

func (r *GroupResolver) warn(ctx *constraint.Context, format string, args ...interface{}) {
	w := ctx.Warn(PhaseGroups, format, args...)
	r.logger.ConstraintWarning(PhaseGroups, w.Message)
}
