// Package solver 提供分班前三个阶段的求解器
package solver

import (
	"time"

	"github.com/paiban/fenban/pkg/allocator/constraint"
)

// 阶段编号
const (
	PhaseQuota    = 1
	PhaseGroups   = 2
	PhaseParity   = 3
	PhaseOptimize = 4
)

// Phase 分班阶段接口
// 每个阶段完整执行并原地修改分配状态，不可中途取消
type Phase interface {
	// Run 执行阶段
	Run(ctx *constraint.Context) (*Result, error)

	// Number 返回阶段编号
	Number() int

	// Name 返回阶段名称
	Name() string
}

// Result 阶段结果
type Result struct {
	Phase    int           `json:"phase"`
	Name     string        `json:"name"`
	Placed   int           `json:"placed"`   // 新分配人数
	Moved    int           `json:"moved"`    // 移动人数
	Swaps    int           `json:"swaps"`    // 交换次数
	Warnings int           `json:"warnings"` // 本阶段警告数
	Rounds   int           `json:"rounds,omitempty"`
	Duration time.Duration `json:"duration"`
}

func newResult(p Phase) *Result {
	return &Result{Phase: p.Number(), Name: p.Name()}
}

// leastFilled 返回候选班级中人数最少的班级（并列取配置顺序靠前者），无候选返回 -1
func leastFilled(ctx *constraint.Context, accept func(class int) bool) int {
	best := -1
	for c := range ctx.Classes {
		if accept != nil && !accept(c) {
			continue
		}
		if best < 0 || ctx.State.Size(c) < ctx.State.Size(best) {
			best = c
		}
	}
	return best
}
