// Package validator 提供分班结果验证功能
package validator

import (
	"fmt"
	"sort"

	"github.com/paiban/fenban/pkg/allocator/constraint"
)

// ConflictType 冲突类型
type ConflictType string

const (
	ConflictDuplicate      ConflictType = "duplicate"            // 学生出现在多个名单
	ConflictOrphan         ConflictType = "orphan"               // 学生未分配
	ConflictUnknownStudent ConflictType = "unknown_student"      // 名单中有未知学生
	ConflictUnknownClass   ConflictType = "unknown_class"        // 未配置的班级
	ConflictQuotaOverflow  ConflictType = "quota_overflow"       // 标签人数超过配额
	ConflictTagNotOffered  ConflictType = "tag_not_offered"      // 班级未开设学生的稀缺标签
	ConflictAssocSplit     ConflictType = "association_split"    // 同班组被拆散
	ConflictSeparation     ConflictType = "separation_collision" // 分班组成员同班
	ConflictCapacity       ConflictType = "capacity_overflow"    // 超出目标人数
)

// 严重程度
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Conflict 冲突信息
type Conflict struct {
	Type     ConflictType `json:"type"`
	Severity string       `json:"severity"` // error/warning
	ClassID  string       `json:"class_id,omitempty"`
	Tag      string       `json:"tag,omitempty"`
	Students []string     `json:"students,omitempty"`
	Message  string       `json:"message"`
}

// DetectorConfig 检测器配置
type DetectorConfig struct {
	CapacityTolerance int  // 允许超出目标人数的数量
	CheckTagOffering  bool // 是否检查未开设标签
	CheckCapacity     bool // 是否检查目标人数
}

// DefaultDetectorConfig 返回默认配置
func DefaultDetectorConfig() *DetectorConfig {
	return &DetectorConfig{
		CapacityTolerance: 0,
		CheckTagOffering:  true,
		CheckCapacity:     true,
	}
}

// ConflictDetector 冲突检测器
type ConflictDetector struct {
	config *DetectorConfig
}

// NewConflictDetector 创建冲突检测器
func NewConflictDetector(config *DetectorConfig) *ConflictDetector {
	if config == nil {
		config = DefaultDetectorConfig()
	}
	return &ConflictDetector{config: config}
}

// DetectAll 检测分配状态中的所有冲突
func (d *ConflictDetector) DetectAll(ctx *constraint.Context) []Conflict {
	var conflicts []Conflict
	conflicts = append(conflicts, d.detectMembership(ctx)...)
	conflicts = append(conflicts, d.detectQuotas(ctx)...)
	conflicts = append(conflicts, d.detectAssociations(ctx)...)
	conflicts = append(conflicts, d.detectSeparations(ctx)...)
	if d.config.CheckCapacity {
		conflicts = append(conflicts, d.detectCapacity(ctx)...)
	}
	return conflicts
}

// CheckAssignment 将外部提供的分配载入上下文
// 未知学生、未知班级、重复学生作为冲突返回，首次出现的位置生效
func (d *ConflictDetector) CheckAssignment(ctx *constraint.Context, assignment map[string][]string) []Conflict {
	var conflicts []Conflict

	ids := make([]string, 0, len(assignment))
	for id := range assignment {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// 按班级配置顺序载入，保证结果稳定
	order := make([]string, 0, len(ids))
	for _, cls := range ctx.Classes {
		if _, ok := assignment[cls.ID]; ok {
			order = append(order, cls.ID)
		}
	}
	for _, id := range ids {
		if _, ok := ctx.ClassIndex(id); !ok {
			conflicts = append(conflicts, Conflict{
				Type:     ConflictUnknownClass,
				Severity: SeverityError,
				ClassID:  id,
				Message:  fmt.Sprintf("班级 %s 未配置", id),
			})
		}
	}

	for _, classID := range order {
		c, _ := ctx.ClassIndex(classID)
		for _, sid := range assignment[classID] {
			i, ok := ctx.StudentIndex(sid)
			if !ok {
				conflicts = append(conflicts, Conflict{
					Type:     ConflictUnknownStudent,
					Severity: SeverityError,
					ClassID:  classID,
					Students: []string{sid},
					Message:  fmt.Sprintf("学生 %s 不在数据集中", sid),
				})
				continue
			}
			if prev, assigned := ctx.State.ClassOf(i); assigned {
				conflicts = append(conflicts, Conflict{
					Type:     ConflictDuplicate,
					Severity: SeverityError,
					ClassID:  classID,
					Students: []string{sid},
					Message:  fmt.Sprintf("学生 %s 同时出现在班级 %s 与 %s", sid, ctx.Classes[prev].ID, classID),
				})
				continue
			}
			_ = ctx.Assign(i, c, "INPUT")
		}
	}
	return conflicts
}

func (d *ConflictDetector) detectMembership(ctx *constraint.Context) []Conflict {
	var conflicts []Conflict
	seen := make(map[int]int, len(ctx.Students))
	for c, cls := range ctx.Classes {
		for _, i := range ctx.State.Roster(c) {
			if prev, ok := seen[i]; ok {
				conflicts = append(conflicts, Conflict{
					Type:     ConflictDuplicate,
					Severity: SeverityError,
					ClassID:  cls.ID,
					Students: []string{ctx.Students[i].ID},
					Message: fmt.Sprintf("学生 %s 同时出现在班级 %s 与 %s",
						ctx.Students[i].ID, ctx.Classes[prev].ID, cls.ID),
				})
				continue
			}
			seen[i] = c
		}
	}

	var orphans []string
	for _, i := range ctx.State.Unassigned() {
		orphans = append(orphans, ctx.Students[i].ID)
	}
	if len(orphans) > 0 {
		conflicts = append(conflicts, Conflict{
			Type:     ConflictOrphan,
			Severity: SeverityError,
			Students: orphans,
			Message:  fmt.Sprintf("%d 名学生未分配", len(orphans)),
		})
	}
	return conflicts
}

func (d *ConflictDetector) detectQuotas(ctx *constraint.Context) []Conflict {
	var conflicts []Conflict
	for c, cls := range ctx.Classes {
		for tag := constraint.TagID(1); int(tag) < ctx.Tags.Len(); tag++ {
			if !ctx.Tags.IsScarce(tag) {
				continue
			}
			count := ctx.State.TagCount(c, tag)
			if count == 0 {
				continue
			}
			quota := ctx.Quota(c, tag)
			name := ctx.Tags.Name(tag)
			switch {
			case quota > 0 && count > quota:
				conflicts = append(conflicts, Conflict{
					Type:     ConflictQuotaOverflow,
					Severity: overflowSeverity(ctx, c, tag, count-quota),
					ClassID:  cls.ID,
					Tag:      name,
					Students: holders(ctx, c, tag),
					Message:  fmt.Sprintf("班级 %s 标签 %s 人数 %d 超过配额 %d", cls.ID, name, count, quota),
				})
			case quota == 0 && d.config.CheckTagOffering:
				conflicts = append(conflicts, Conflict{
					Type:     ConflictTagNotOffered,
					Severity: SeverityWarning,
					ClassID:  cls.ID,
					Tag:      name,
					Students: holders(ctx, c, tag),
					Message:  fmt.Sprintf("班级 %s 未开设标签 %s，但有 %d 名学生", cls.ID, name, count),
				})
			}
		}
	}
	return conflicts
}

func (d *ConflictDetector) detectAssociations(ctx *constraint.Context) []Conflict {
	var conflicts []Conflict
	for _, g := range ctx.AssocGroups {
		if len(g.Members) < 2 {
			continue
		}
		classes := make(map[int]bool)
		for _, m := range g.Members {
			if c, ok := ctx.State.ClassOf(m); ok {
				classes[c] = true
			}
		}
		if len(classes) > 1 {
			conflicts = append(conflicts, Conflict{
				Type:     ConflictAssocSplit,
				Severity: SeverityError,
				Students: memberIDs(ctx, g.Members),
				Message:  fmt.Sprintf("同班组 %s 分布在 %d 个班级", g.Code, len(classes)),
			})
		}
	}
	return conflicts
}

func (d *ConflictDetector) detectSeparations(ctx *constraint.Context) []Conflict {
	var conflicts []Conflict
	for _, g := range ctx.DissocGroups {
		if len(g.Members) < 2 {
			continue
		}
		byClass := make(map[int][]int)
		for _, m := range g.Members {
			if c, ok := ctx.State.ClassOf(m); ok {
				byClass[c] = append(byClass[c], m)
			}
		}
		for c := range ctx.Classes {
			members := byClass[c]
			if len(members) < 2 {
				continue
			}
			conflicts = append(conflicts, Conflict{
				Type:     ConflictSeparation,
				Severity: SeverityWarning,
				ClassID:  ctx.Classes[c].ID,
				Students: memberIDs(ctx, members),
				Message:  fmt.Sprintf("分班组 %s 有 %d 名成员在班级 %s", g.Code, len(members), ctx.Classes[c].ID),
			})
		}
	}
	return conflicts
}

func (d *ConflictDetector) detectCapacity(ctx *constraint.Context) []Conflict {
	var conflicts []Conflict
	for c, cls := range ctx.Classes {
		size := ctx.State.Size(c)
		if size > cls.CapacityTarget+d.config.CapacityTolerance {
			conflicts = append(conflicts, Conflict{
				Type:     ConflictCapacity,
				Severity: SeverityWarning,
				ClassID:  cls.ID,
				Message:  fmt.Sprintf("班级 %s 人数 %d 超出目标 %d", cls.ID, size, cls.CapacityTarget),
			})
		}
	}
	return conflicts
}

// HasErrors 是否存在 error 级冲突
func HasErrors(conflicts []Conflict) bool {
	for _, c := range conflicts {
		if c.Severity == SeverityError {
			return true
		}
	}
	return false
}

// CountByType 按类型统计冲突
func CountByType(conflicts []Conflict) map[ConflictType]int {
	out := make(map[ConflictType]int)
	for _, c := range conflicts {
		out[c.Type]++
	}
	return out
}

// overflowSeverity 超出部分可由同班组合并解释时降为警告
func overflowSeverity(ctx *constraint.Context, class int, tag constraint.TagID, excess int) string {
	bound := 0
	for _, i := range ctx.State.Roster(class) {
		if ctx.Profiles[i].HasTag(tag) && ctx.AssociationBound(i) {
			bound++
		}
	}
	if bound >= excess {
		return SeverityWarning
	}
	return SeverityError
}

func holders(ctx *constraint.Context, class int, tag constraint.TagID) []string {
	var out []string
	for _, i := range ctx.State.Roster(class) {
		if ctx.Profiles[i].HasTag(tag) {
			out = append(out, ctx.Students[i].ID)
		}
	}
	return out
}

func memberIDs(ctx *constraint.Context, members []int) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = ctx.Students[m].ID
	}
	return out
}
