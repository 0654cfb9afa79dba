package model

import (
	"fmt"
	"math"
	"strings"
)

const (
	DefaultScore = 2.5 // 缺失评分默认值
	MinScore     = 0.0
	MaxScore     = 5.0

	headScoreThreshold   = 4.0 // 单项达到即为“头部”
	headAverageThreshold = 3.5 // 三项均分达到即为“头部”
	niv1ScoreThreshold   = 1.0 // 单项不高于即为“一级困难”
)

// Scores 三项学业评分（0-5）
type Scores struct {
	Communication float64 `json:"com"`
	Work          float64 `json:"tra"`
	Participation float64 `json:"part"`
}

// Average 三项均分
func (s Scores) Average() float64 {
	return (s.Communication + s.Work + s.Participation) / 3
}

// Student 学生
// 评分只能通过 SetScores 修改，派生标记随之重新计算
type Student struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Sex        Sex      `json:"sex"`
	Absence    float64  `json:"absence"`
	Language   string   `json:"language_tag,omitempty"` // 稀缺语言标签
	Option     string   `json:"option_tag,omitempty"`   // 稀缺选修标签
	AssocCode  string   `json:"assoc_code,omitempty"`   // 必须同班
	DissocCode string   `json:"dissoc_code,omitempty"`  // 必须分班
	Mobility   Mobility `json:"mobility"`

	scores Scores
	isHead bool
	isNiv1 bool
}

// NewStudent 创建学生，评分经过校验
func NewStudent(id string, sex Sex, scores Scores) *Student {
	s := &Student{ID: id, Sex: sex, Mobility: MobilityMobile}
	s.SetScores(scores)
	return s
}

// Scores 返回评分
func (s *Student) Scores() Scores {
	return s.scores
}

// SetScores 设置评分并重新计算派生标记
func (s *Student) SetScores(scores Scores) {
	s.scores = Scores{
		Communication: ClampScore(scores.Communication),
		Work:          ClampScore(scores.Work),
		Participation: ClampScore(scores.Participation),
	}
	s.isHead = s.scores.Communication >= headScoreThreshold ||
		s.scores.Work >= headScoreThreshold ||
		s.scores.Average() >= headAverageThreshold
	s.isNiv1 = s.scores.Communication <= niv1ScoreThreshold ||
		s.scores.Work <= niv1ScoreThreshold
}

// IsHead 是否为头部学生
func (s *Student) IsHead() bool { return s.isHead }

// IsNiv1 是否为一级困难学生
func (s *Student) IsNiv1() bool { return s.isNiv1 }

// IsFixed 是否固定
func (s *Student) IsFixed() bool { return s.Mobility == MobilityFixed }

// IsFemale 是否为女生
func (s *Student) IsFemale() bool { return s.Sex == SexFemale }

// ClampScore 校验评分：非有限值取默认值，越界截断到 [0,5]
func ClampScore(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return DefaultScore
	}
	return math.Max(MinScore, math.Min(MaxScore, v))
}

// StudentRecord 原始学生记录（外部数据源输入）
type StudentRecord struct {
	ID         string   `json:"id" validate:"required"`
	Name       string   `json:"name,omitempty"`
	Sex        string   `json:"sex"`
	Com        *float64 `json:"com,omitempty"`
	Tra        *float64 `json:"tra,omitempty"`
	Part       *float64 `json:"part,omitempty"`
	Absence    *float64 `json:"absence,omitempty"`
	Language   string   `json:"language_tag,omitempty"`
	Option     string   `json:"option_tag,omitempty"`
	AssocCode  string   `json:"assoc_code,omitempty"`
	DissocCode string   `json:"dissoc_code,omitempty"`
	Mobility   string   `json:"mobility,omitempty"`
}

// NormalizeStudent 规范化原始记录，默认值只在此处填充
func NormalizeStudent(rec StudentRecord) (*Student, error) {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return nil, fmt.Errorf("学生编号为空")
	}

	s := &Student{
		ID:         id,
		Name:       strings.TrimSpace(rec.Name),
		Sex:        ParseSex(rec.Sex),
		Language:   NormalizeTag(rec.Language),
		Option:     NormalizeTag(rec.Option),
		AssocCode:  NormalizeTag(rec.AssocCode),
		DissocCode: NormalizeTag(rec.DissocCode),
		Mobility:   ParseMobility(rec.Mobility),
	}
	if rec.Absence != nil && *rec.Absence > 0 && !math.IsInf(*rec.Absence, 0) {
		s.Absence = *rec.Absence
	}
	s.SetScores(Scores{
		Communication: scoreOrDefault(rec.Com),
		Work:          scoreOrDefault(rec.Tra),
		Participation: scoreOrDefault(rec.Part),
	})
	return s, nil
}

// NormalizeStudents 批量规范化
func NormalizeStudents(records []StudentRecord) ([]*Student, error) {
	students := make([]*Student, 0, len(records))
	for i, rec := range records {
		s, err := NormalizeStudent(rec)
		if err != nil {
			return nil, fmt.Errorf("第 %d 条记录: %w", i+1, err)
		}
		students = append(students, s)
	}
	return students, nil
}

func scoreOrDefault(v *float64) float64 {
	if v == nil {
		return DefaultScore
	}
	return *v
}
