// Package constraint 定义分班上下文、分配状态与标签表
package constraint

import (
	"github.com/paiban/fenban/pkg/model"
)

// TagID 内部化后的标签编号，0 表示无标签
type TagID int

// NoTag 无标签
const NoTag TagID = 0

// TagTable 标签表
// 每次运行构建一次，预先计算“全班通用”集合
type TagTable struct {
	ids       map[string]TagID
	names     []string
	universal []bool
}

// NewTagTable 根据班级配额与学生标签构建标签表
// 某标签在每个班级的配额都大于 0 时视为通用标签
func NewTagTable(classes []model.ClassConfig, students []*model.Student) *TagTable {
	t := &TagTable{
		ids:   make(map[string]TagID),
		names: []string{""},
	}
	for _, c := range classes {
		for _, tag := range c.QuotaTags() {
			t.Intern(tag)
		}
	}
	for _, s := range students {
		t.Intern(s.Language)
		t.Intern(s.Option)
	}

	t.universal = make([]bool, len(t.names))
	if len(classes) == 0 {
		return t
	}
	for id := 1; id < len(t.names); id++ {
		offered := true
		for _, c := range classes {
			if c.Quota(t.names[id]) <= 0 {
				offered = false
				break
			}
		}
		t.universal[id] = offered
	}
	return t
}

// Intern 内部化标签，空字符串返回 NoTag
func (t *TagTable) Intern(name string) TagID {
	name = model.NormalizeTag(name)
	if name == "" {
		return NoTag
	}
	if id, ok := t.ids[name]; ok {
		return id
	}
	id := TagID(len(t.names))
	t.ids[name] = id
	t.names = append(t.names, name)
	if t.universal != nil {
		t.universal = append(t.universal, false)
	}
	return id
}

// ID 查找标签编号
func (t *TagTable) ID(name string) (TagID, bool) {
	id, ok := t.ids[model.NormalizeTag(name)]
	return id, ok
}

// Name 返回标签名称
func (t *TagTable) Name(id TagID) string {
	if id <= NoTag || int(id) >= len(t.names) {
		return ""
	}
	return t.names[id]
}

// Len 标签数量（包含 NoTag 占位）
func (t *TagTable) Len() int {
	return len(t.names)
}

// IsUniversal 是否为通用标签
func (t *TagTable) IsUniversal(id TagID) bool {
	return id > NoTag && int(id) < len(t.universal) && t.universal[id]
}

// IsScarce 是否为稀缺标签（存在且非通用）
func (t *TagTable) IsScarce(id TagID) bool {
	return id > NoTag && !t.IsUniversal(id)
}

// Universal 返回全部通用标签名称
func (t *TagTable) Universal() []string {
	var names []string
	for id := 1; id < len(t.names); id++ {
		if t.universal[id] {
			names = append(names, t.names[id])
		}
	}
	return names
}
