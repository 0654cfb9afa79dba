package constraint

import (
	"fmt"
)

// AllocationState 分配状态
// 所有阶段共享并原地修改；未分配的学生不出现在任何名单中
type AllocationState struct {
	rosters   [][]int     // 班级 -> 学生下标（有序）
	classOf   map[int]int // 学生 -> 班级
	tagCounts [][]int     // 班级 x 标签 -> 人数
	females   []int
	profiles  []Profile
}

// NewAllocationState 创建空的分配状态
func NewAllocationState(classes, tags int, profiles []Profile) *AllocationState {
	s := &AllocationState{
		rosters:   make([][]int, classes),
		classOf:   make(map[int]int, len(profiles)),
		tagCounts: make([][]int, classes),
		females:   make([]int, classes),
		profiles:  profiles,
	}
	for c := range s.tagCounts {
		s.tagCounts[c] = make([]int, tags)
	}
	return s
}

// ClassOf 返回学生所在班级
func (s *AllocationState) ClassOf(student int) (int, bool) {
	c, ok := s.classOf[student]
	return c, ok
}

// IsAssigned 学生是否已分配
func (s *AllocationState) IsAssigned(student int) bool {
	_, ok := s.classOf[student]
	return ok
}

// Assign 将未分配学生放入班级
func (s *AllocationState) Assign(student, class int) error {
	if err := s.checkIndex(student, class); err != nil {
		return err
	}
	if c, ok := s.classOf[student]; ok {
		return fmt.Errorf("学生 %d 已在班级 %d", student, c)
	}
	s.rosters[class] = append(s.rosters[class], student)
	s.classOf[student] = class
	s.count(student, class, 1)
	return nil
}

// Move 将已分配学生移到另一个班级（追加到名单末尾）
func (s *AllocationState) Move(student, to int) error {
	if err := s.checkIndex(student, to); err != nil {
		return err
	}
	from, ok := s.classOf[student]
	if !ok {
		return fmt.Errorf("学生 %d 未分配", student)
	}
	if from == to {
		return nil
	}
	s.remove(student, from)
	s.rosters[to] = append(s.rosters[to], student)
	s.classOf[student] = to
	s.count(student, from, -1)
	s.count(student, to, 1)
	return nil
}

// Swap 交换两名学生的班级，各自占据对方在名单中的位置
func (s *AllocationState) Swap(a, b int) error {
	ca, okA := s.classOf[a]
	cb, okB := s.classOf[b]
	if !okA || !okB {
		return fmt.Errorf("交换的学生必须都已分配")
	}
	if ca == cb {
		return fmt.Errorf("学生 %d 与 %d 在同一班级", a, b)
	}
	s.rosters[ca][s.position(a, ca)] = b
	s.rosters[cb][s.position(b, cb)] = a
	s.classOf[a] = cb
	s.classOf[b] = ca
	s.count(a, ca, -1)
	s.count(b, cb, -1)
	s.count(a, cb, 1)
	s.count(b, ca, 1)
	return nil
}

// Roster 返回班级名单副本
func (s *AllocationState) Roster(class int) []int {
	out := make([]int, len(s.rosters[class]))
	copy(out, s.rosters[class])
	return out
}

// Size 班级人数
func (s *AllocationState) Size(class int) int {
	return len(s.rosters[class])
}

// Females 班级女生人数
func (s *AllocationState) Females(class int) int {
	return s.females[class]
}

// Males 班级男生人数
func (s *AllocationState) Males(class int) int {
	return len(s.rosters[class]) - s.females[class]
}

// TagCount 班级中持有标签的人数（语言与选修分别计数）
func (s *AllocationState) TagCount(class int, tag TagID) int {
	if tag <= NoTag || int(tag) >= len(s.tagCounts[class]) {
		return 0
	}
	return s.tagCounts[class][tag]
}

// AssignedCount 已分配人数
func (s *AllocationState) AssignedCount() int {
	return len(s.classOf)
}

// Unassigned 按原始顺序返回未分配学生
func (s *AllocationState) Unassigned() []int {
	var out []int
	for i := range s.profiles {
		if _, ok := s.classOf[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// Classes 班级数量
func (s *AllocationState) Classes() int {
	return len(s.rosters)
}

func (s *AllocationState) checkIndex(student, class int) error {
	if student < 0 || student >= len(s.profiles) {
		return fmt.Errorf("学生下标越界: %d", student)
	}
	if class < 0 || class >= len(s.rosters) {
		return fmt.Errorf("班级下标越界: %d", class)
	}
	return nil
}

func (s *AllocationState) position(student, class int) int {
	for i, idx := range s.rosters[class] {
		if idx == student {
			return i
		}
	}
	return -1
}

func (s *AllocationState) remove(student, class int) {
	roster := s.rosters[class]
	if i := s.position(student, class); i >= 0 {
		s.rosters[class] = append(roster[:i], roster[i+1:]...)
	}
}

func (s *AllocationState) count(student, class, delta int) {
	p := s.profiles[student]
	for _, tag := range p.Tags() {
		s.tagCounts[class][tag] += delta
	}
	if p.Female {
		s.females[class] += delta
	}
}
