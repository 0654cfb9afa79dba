package stats

import (
	"math"
	"testing"

	"github.com/paiban/fenban/pkg/allocator/constraint"
	"github.com/paiban/fenban/pkg/model"
)

func newStudent(id string, sex model.Sex, com, tra float64) *model.Student {
	return model.NewStudent(id, sex, model.Scores{Communication: com, Work: tra, Participation: 2.5})
}

func TestBalanceAnalyzer_ClassStats(t *testing.T) {
	students := []*model.Student{
		newStudent("s1", model.SexFemale, 5, 5),
		newStudent("s2", model.SexMale, 1, 3),
		newStudent("s3", model.SexFemale, 3, 3),
	}
	students[1].Option = "LATIN"
	students[2].Mobility = model.MobilityFixed
	classes := []model.ClassConfig{
		{ID: "A", CapacityTarget: 1, Quotas: map[string]int{"LATIN": 1}},
		{ID: "B", CapacityTarget: 5},
	}
	ctx, err := constraint.NewContext(students, classes)
	if err != nil {
		t.Fatal(err)
	}
	_ = ctx.Assign(0, 0, "test")
	_ = ctx.Assign(1, 0, "test")
	_ = ctx.Assign(2, 1, "test")

	got := NewBalanceAnalyzer().ClassStats(ctx)
	if len(got) != 2 {
		t.Fatalf("ClassStats() len = %d, expected 2", len(got))
	}

	a := got[0]
	if a.Count != 2 || a.CountF != 1 || a.CountM != 1 {
		t.Errorf("A counts = %d/%d/%d, expected 2/1/1", a.Count, a.CountF, a.CountM)
	}
	if a.CountHead != 1 || a.CountNiv1 != 1 {
		t.Errorf("A head/niv1 = %d/%d, expected 1/1", a.CountHead, a.CountNiv1)
	}
	if a.Overflow != 1 {
		t.Errorf("A overflow = %d, expected 1", a.Overflow)
	}
	if a.Tags["LATIN"] != 1 {
		t.Errorf("A LATIN = %d, expected 1", a.Tags["LATIN"])
	}
	if math.Abs(a.AvgCom-3) > 1e-9 || math.Abs(a.AvgTra-4) > 1e-9 {
		t.Errorf("A averages = %.2f/%.2f, expected 3/4", a.AvgCom, a.AvgTra)
	}

	b := got[1]
	if b.CountFixed != 1 || b.RatioF != 1 || b.Overflow != 0 {
		t.Errorf("B = %+v", b)
	}
}

func TestBalanceAnalyzer_Analyze(t *testing.T) {
	var students []*model.Student
	for i := 0; i < 4; i++ {
		sex := model.SexMale
		if i%2 == 0 {
			sex = model.SexFemale
		}
		students = append(students, newStudent(string(rune('a'+i)), sex, 2.5, 2.5))
	}
	classes := []model.ClassConfig{{ID: "A", CapacityTarget: 2}, {ID: "B", CapacityTarget: 2}}
	ctx, err := constraint.NewContext(students, classes)
	if err != nil {
		t.Fatal(err)
	}
	for i := range students {
		_ = ctx.Assign(i, i/2, "test")
	}

	m := NewBalanceAnalyzer().Analyze(ctx)
	if m.SizeStdDev != 0 || m.SizeRange != 0 {
		t.Errorf("size spread = %.2f/%d, expected 0", m.SizeStdDev, m.SizeRange)
	}
	if m.RatioFRange != 0 {
		t.Errorf("RatioFRange = %.2f, expected 0", m.RatioFRange)
	}
	if m.OverallBalanceScore != 100 {
		t.Errorf("OverallBalanceScore = %.2f, expected 100", m.OverallBalanceScore)
	}
}

func TestGini(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		expected float64
	}{
		{name: "空", values: nil, expected: 0},
		{name: "全零", values: []float64{0, 0, 0}, expected: 0},
		{name: "均匀", values: []float64{3, 3, 3}, expected: 0},
		{name: "集中", values: []float64{0, 0, 6}, expected: 2.0 / 3.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gini(tt.values); math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("gini() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestSummarizeDataset(t *testing.T) {
	students := []*model.Student{
		newStudent("s1", model.SexFemale, 5, 5),
		newStudent("s2", model.SexMale, 1, 1),
		newStudent("s3", model.SexMale, 3, 3),
	}
	students[0].Language = "ita"
	students[0].AssocCode = "G1"
	students[1].AssocCode = "g1"
	students[1].Option = "LATIN"
	students[2].DissocCode = "D1"
	students[2].Mobility = model.MobilityFixed
	students[2].Absence = 3

	s := SummarizeDataset(students)
	if s.Total != 3 || s.Female != 1 || s.Male != 2 {
		t.Errorf("totals = %d/%d/%d", s.Total, s.Female, s.Male)
	}
	if s.Fixed != 1 || s.Mobile != 2 {
		t.Errorf("mobility = %d/%d", s.Fixed, s.Mobile)
	}
	if s.ByLanguage["ITA"] != 1 || s.ByOption["LATIN"] != 1 {
		t.Errorf("tags = %v %v", s.ByLanguage, s.ByOption)
	}
	if s.AssocGroups != 1 || s.AssocStudents != 2 {
		t.Errorf("assoc = %d/%d, expected 1/2", s.AssocGroups, s.AssocStudents)
	}
	// 单人分班组不计入
	if s.DissocGroups != 0 {
		t.Errorf("DissocGroups = %d, expected 0", s.DissocGroups)
	}
	if math.Abs(s.AvgCom-3) > 1e-9 || math.Abs(s.AvgAbsence-1) > 1e-9 {
		t.Errorf("averages = %.2f/%.2f", s.AvgCom, s.AvgAbsence)
	}
}

func TestSummarizeDataset_Empty(t *testing.T) {
	s := SummarizeDataset(nil)
	if s.Total != 0 || s.AvgCom != 0 {
		t.Errorf("SummarizeDataset(nil) = %+v", s)
	}
}
