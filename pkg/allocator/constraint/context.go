package constraint

import (
	"fmt"

	"github.com/paiban/fenban/pkg/model"
)

// Profile 学生的内部化画像，构建上下文时计算一次
type Profile struct {
	Language TagID
	Option   TagID
	Assoc    int // 同班组下标，-1 表示无
	Dissoc   int // 分班组下标，-1 表示无
	Fixed    bool
	Female   bool
	Head     bool
	Niv1     bool

	tags []TagID
}

// Tags 返回学生持有的标签（去重，不含 NoTag）
func (p Profile) Tags() []TagID {
	return p.tags
}

// HasTag 是否持有标签
func (p Profile) HasTag(tag TagID) bool {
	return tag > NoTag && (p.Language == tag || p.Option == tag)
}

// Group 同班或分班分组
type Group struct {
	Code    string
	Members []int // 按学生原始顺序
}

// Warning 软约束警告
type Warning struct {
	Phase   int    `json:"phase"`
	Message string `json:"message"`
}

// String 返回带阶段前缀的文本
func (w Warning) String() string {
	return fmt.Sprintf("P%d: %s", w.Phase, w.Message)
}

// Option 上下文选项
type Option func(*Context)

// WithLockAssociations 设置同班组成员在后续阶段是否锁定
func WithLockAssociations(lock bool) Option {
	return func(c *Context) {
		c.LockAssociations = lock
	}
}

// Context 分班上下文
// 持有输入数据、索引缓存、分配状态与警告
type Context struct {
	Students     []*model.Student
	Classes      []model.ClassConfig
	Tags         *TagTable
	Profiles     []Profile
	State        *AllocationState
	AssocGroups  []Group
	DissocGroups []Group

	// LockAssociations 为 true 时，同班组成员不参与分班重新安置与交换
	LockAssociations bool

	quotas       [][]int // 班级 x 标签
	classIndex   map[string]int
	studentIndex map[string]int
	warnings     []Warning
	reasons      []string
}

// NewContext 校验输入并创建上下文
func NewContext(students []*model.Student, classes []model.ClassConfig, opts ...Option) (*Context, error) {
	if err := Validate(students, classes); err != nil {
		return nil, err
	}

	ctx := &Context{
		Students:         students,
		Classes:          classes,
		Tags:             NewTagTable(classes, students),
		Profiles:         make([]Profile, len(students)),
		LockAssociations: true,
		classIndex:       make(map[string]int, len(classes)),
		studentIndex:     make(map[string]int, len(students)),
		reasons:          make([]string, len(students)),
	}
	for _, opt := range opts {
		opt(ctx)
	}

	for i, c := range classes {
		ctx.classIndex[c.ID] = i
	}

	ctx.quotas = make([][]int, len(classes))
	for i, c := range classes {
		ctx.quotas[i] = make([]int, ctx.Tags.Len())
		for tag, n := range c.Quotas {
			if id, ok := ctx.Tags.ID(tag); ok {
				ctx.quotas[i][id] = n
			}
		}
	}

	assocIdx := make(map[string]int)
	dissocIdx := make(map[string]int)
	for i, s := range students {
		ctx.studentIndex[s.ID] = i
		p := Profile{
			Language: ctx.Tags.Intern(s.Language),
			Option:   ctx.Tags.Intern(s.Option),
			Assoc:    -1,
			Dissoc:   -1,
			Fixed:    s.IsFixed(),
			Female:   s.IsFemale(),
			Head:     s.IsHead(),
			Niv1:     s.IsNiv1(),
		}
		if p.Language != NoTag {
			p.tags = append(p.tags, p.Language)
		}
		if p.Option != NoTag && p.Option != p.Language {
			p.tags = append(p.tags, p.Option)
		}
		if code := model.NormalizeTag(s.AssocCode); code != "" {
			p.Assoc = groupIndex(&ctx.AssocGroups, assocIdx, code, i)
		}
		if code := model.NormalizeTag(s.DissocCode); code != "" {
			p.Dissoc = groupIndex(&ctx.DissocGroups, dissocIdx, code, i)
		}
		ctx.Profiles[i] = p
	}

	ctx.State = NewAllocationState(len(classes), ctx.Tags.Len(), ctx.Profiles)
	return ctx, nil
}

func groupIndex(groups *[]Group, index map[string]int, code string, student int) int {
	g, ok := index[code]
	if !ok {
		g = len(*groups)
		index[code] = g
		*groups = append(*groups, Group{Code: code})
	}
	(*groups)[g].Members = append((*groups)[g].Members, student)
	return g
}

// ClassIndex 根据班级ID查找下标
func (c *Context) ClassIndex(id string) (int, bool) {
	i, ok := c.classIndex[id]
	return i, ok
}

// StudentIndex 根据学生ID查找下标
func (c *Context) StudentIndex(id string) (int, bool) {
	i, ok := c.studentIndex[id]
	return i, ok
}

// Quota 返回班级对标签的配额
func (c *Context) Quota(class int, tag TagID) int {
	if tag <= NoTag || int(tag) >= len(c.quotas[class]) {
		return 0
	}
	return c.quotas[class][tag]
}

// Offers 班级是否开设该标签（配额大于 0）
func (c *Context) Offers(class int, tag TagID) bool {
	return c.Quota(class, tag) > 0
}

// HasRoom 班级对该标签是否还有剩余配额
func (c *Context) HasRoom(class int, tag TagID) bool {
	return c.Quota(class, tag)-c.State.TagCount(class, tag) > 0
}

// Capacity 班级目标人数
func (c *Context) Capacity(class int) int {
	return c.Classes[class].CapacityTarget
}

// AssociationBound 学生是否属于人数大于 1 的同班组
func (c *Context) AssociationBound(student int) bool {
	g := c.Profiles[student].Assoc
	return g >= 0 && len(c.AssocGroups[g].Members) > 1
}

// Movable 学生在第二至四阶段能否被移动或交换
func (c *Context) Movable(student int) bool {
	if c.Profiles[student].Fixed {
		return false
	}
	return !(c.LockAssociations && c.AssociationBound(student))
}

// Assign 分配学生并记录原因
func (c *Context) Assign(student, class int, reason string) error {
	if err := c.State.Assign(student, class); err != nil {
		return err
	}
	c.reasons[student] = reason
	return nil
}

// Move 移动学生并记录原因
func (c *Context) Move(student, class int, reason string) error {
	if err := c.State.Move(student, class); err != nil {
		return err
	}
	c.reasons[student] = reason
	return nil
}

// Swap 交换学生并记录原因
func (c *Context) Swap(a, b int, reason string) error {
	if err := c.State.Swap(a, b); err != nil {
		return err
	}
	c.reasons[a] = reason
	c.reasons[b] = reason
	return nil
}

// Reason 返回学生最近一次放置的原因
func (c *Context) Reason(student int) string {
	return c.reasons[student]
}

// Warn 记录软约束警告
func (c *Context) Warn(phase int, format string, args ...interface{}) Warning {
	w := Warning{Phase: phase, Message: fmt.Sprintf(format, args...)}
	c.warnings = append(c.warnings, w)
	return w
}

// Warnings 返回全部警告（按产生顺序）
func (c *Context) Warnings() []Warning {
	out := make([]Warning, len(c.warnings))
	copy(out, c.warnings)
	return out
}

// WarningCount 警告数量
func (c *Context) WarningCount() int {
	return len(c.warnings)
}

// Assignment 返回班级ID -> 学生ID列表（按名单顺序）
func (c *Context) Assignment() map[string][]string {
	out := make(map[string][]string, len(c.Classes))
	for i, cls := range c.Classes {
		roster := c.State.Roster(i)
		ids := make([]string, len(roster))
		for j, idx := range roster {
			ids[j] = c.Students[idx].ID
		}
		out[cls.ID] = ids
	}
	return out
}
