// Package swap 提供调班/换班合法性评估
package swap

import (
	"github.com/paiban/fenban/pkg/allocator/constraint"
)

// Issue 不合法原因
type Issue string

const (
	IssueNone       Issue = ""                // 合法
	IssueUnassigned Issue = "unassigned"      // 学生未分配
	IssueSameClass  Issue = "same_class"      // 同班无需交换
	IssueImmovable  Issue = "immovable"       // 固定或同班组锁定
	IssueNotOffered Issue = "tag_not_offered" // 目标班级未开设稀缺标签
	IssueNoRoom     Issue = "tag_no_room"     // 目标班级稀缺标签配额已满
	IssueSeparation Issue = "separation"      // 分班组冲突
)

// SwapEvaluator 换班评估器
// 通用标签不参与检查
type SwapEvaluator struct{}

// NewSwapEvaluator 创建换班评估器
func NewSwapEvaluator() *SwapEvaluator {
	return &SwapEvaluator{}
}

// CheckSwap 检查学生 a 与 b 互换班级是否合法
func (e *SwapEvaluator) CheckSwap(ctx *constraint.Context, a, b int) Issue {
	ca, okA := ctx.State.ClassOf(a)
	cb, okB := ctx.State.ClassOf(b)
	if !okA || !okB {
		return IssueUnassigned
	}
	if ca == cb {
		return IssueSameClass
	}
	if !ctx.Movable(a) || !ctx.Movable(b) {
		return IssueImmovable
	}
	if !e.offersAll(ctx, a, cb) || !e.offersAll(ctx, b, ca) {
		return IssueNotOffered
	}
	if !e.fitsAfterSwap(ctx, a, b, cb) || !e.fitsAfterSwap(ctx, b, a, ca) {
		return IssueNoRoom
	}
	if e.collides(ctx, a, cb, b) || e.collides(ctx, b, ca, a) {
		return IssueSeparation
	}
	return IssueNone
}

// CanSwap 交换是否合法
func (e *SwapEvaluator) CanSwap(ctx *constraint.Context, a, b int) bool {
	return e.CheckSwap(ctx, a, b) == IssueNone
}

// CheckMove 检查学生单向移入班级是否合法
// 单向移动会增加目标班级的标签人数，因此要求剩余配额
func (e *SwapEvaluator) CheckMove(ctx *constraint.Context, student, to int) Issue {
	if from, ok := ctx.State.ClassOf(student); ok {
		if from == to {
			return IssueSameClass
		}
		if !ctx.Movable(student) {
			return IssueImmovable
		}
	}
	if !e.HasRoomFor(ctx, student, to) {
		return IssueNoRoom
	}
	if e.collides(ctx, student, to, -1) {
		return IssueSeparation
	}
	return IssueNone
}

// HasRoomFor 学生的每个稀缺标签在班级中是否仍有剩余配额
func (e *SwapEvaluator) HasRoomFor(ctx *constraint.Context, student, class int) bool {
	for _, tag := range ctx.Profiles[student].Tags() {
		if ctx.Tags.IsScarce(tag) && !ctx.HasRoom(class, tag) {
			return false
		}
	}
	return true
}

// FitsOfferedQuotas 班级开设的学生稀缺标签是否都有剩余配额
// 班级未开设的标签不在此检查
func (e *SwapEvaluator) FitsOfferedQuotas(ctx *constraint.Context, student, class int) bool {
	for _, tag := range ctx.Profiles[student].Tags() {
		if ctx.Tags.IsScarce(tag) && ctx.Offers(class, tag) && !ctx.HasRoom(class, tag) {
			return false
		}
	}
	return true
}

// OffersAll 班级是否开设学生的全部稀缺标签
func (e *SwapEvaluator) OffersAll(ctx *constraint.Context, student, class int) bool {
	return e.offersAll(ctx, student, class)
}

func (e *SwapEvaluator) offersAll(ctx *constraint.Context, student, class int) bool {
	for _, tag := range ctx.Profiles[student].Tags() {
		if ctx.Tags.IsScarce(tag) && !ctx.Offers(class, tag) {
			return false
		}
	}
	return true
}

// fitsAfterSwap 学生 in 换入班级、out 换出后，in 的稀缺标签人数不超过配额
// 换出学生持有同一标签时人数不变
func (e *SwapEvaluator) fitsAfterSwap(ctx *constraint.Context, in, out, class int) bool {
	for _, tag := range ctx.Profiles[in].Tags() {
		if !ctx.Tags.IsScarce(tag) || ctx.Profiles[out].HasTag(tag) {
			continue
		}
		if ctx.State.TagCount(class, tag)+1 > ctx.Quota(class, tag) {
			return false
		}
	}
	return true
}

// collides 学生进入班级后是否与同分班组成员同班（exclude 为将被换出的学生）
func (e *SwapEvaluator) collides(ctx *constraint.Context, student, class, exclude int) bool {
	group := ctx.Profiles[student].Dissoc
	if group < 0 {
		return false
	}
	for _, member := range ctx.DissocGroups[group].Members {
		if member == student || member == exclude {
			continue
		}
		if c, ok := ctx.State.ClassOf(member); ok && c == class {
			return true
		}
	}
	return false
}
