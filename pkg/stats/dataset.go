package stats

import (
	"github.com/paiban/fenban/pkg/model"
)

// DatasetSummary 学生数据集概况
type DatasetSummary struct {
	Total          int            `json:"total"`
	Female         int            `json:"female"`
	Male           int            `json:"male"`
	Fixed          int            `json:"fixed"`
	Mobile         int            `json:"mobile"`
	Heads          int            `json:"heads"`
	Niv1           int            `json:"niv1"`
	ByLanguage     map[string]int `json:"by_language"`
	ByOption       map[string]int `json:"by_option"`
	AssocGroups    int            `json:"assoc_groups"`   // 同班组数量（成员大于 1）
	AssocStudents  int            `json:"assoc_students"` // 同班组成员数
	DissocGroups   int            `json:"dissoc_groups"`
	DissocStudents int            `json:"dissoc_students"`
	AvgCom         float64        `json:"avg_com"`
	AvgTra         float64        `json:"avg_tra"`
	AvgPart        float64        `json:"avg_part"`
	AvgAbsence     float64        `json:"avg_absence"`
}

// SummarizeDataset 统计学生数据集
func SummarizeDataset(students []*model.Student) *DatasetSummary {
	summary := &DatasetSummary{
		ByLanguage: make(map[string]int),
		ByOption:   make(map[string]int),
	}
	assoc := make(map[string]int)
	dissoc := make(map[string]int)

	var com, tra, part, absence float64
	for _, s := range students {
		summary.Total++
		if s.IsFemale() {
			summary.Female++
		} else {
			summary.Male++
		}
		if s.IsFixed() {
			summary.Fixed++
		} else {
			summary.Mobile++
		}
		if s.IsHead() {
			summary.Heads++
		}
		if s.IsNiv1() {
			summary.Niv1++
		}
		if tag := model.NormalizeTag(s.Language); tag != "" {
			summary.ByLanguage[tag]++
		}
		if tag := model.NormalizeTag(s.Option); tag != "" {
			summary.ByOption[tag]++
		}
		if code := model.NormalizeTag(s.AssocCode); code != "" {
			assoc[code]++
		}
		if code := model.NormalizeTag(s.DissocCode); code != "" {
			dissoc[code]++
		}
		scores := s.Scores()
		com += scores.Communication
		tra += scores.Work
		part += scores.Participation
		absence += s.Absence
	}

	summary.AssocGroups, summary.AssocStudents = countGroups(assoc)
	summary.DissocGroups, summary.DissocStudents = countGroups(dissoc)

	if summary.Total > 0 {
		n := float64(summary.Total)
		summary.AvgCom = com / n
		summary.AvgTra = tra / n
		summary.AvgPart = part / n
		summary.AvgAbsence = absence / n
	}
	return summary
}

// countGroups 只统计成员大于 1 的分组
func countGroups(codes map[string]int) (groups, members int) {
	for _, n := range codes {
		if n > 1 {
			groups++
			members += n
		}
	}
	return
}
