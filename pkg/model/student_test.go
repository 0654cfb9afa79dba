package model

import (
	"math"
	"testing"
)

func ptr(v float64) *float64 { return &v }

func TestClampScore(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		expected float64
	}{
		{"正常值", 3.2, 3.2},
		{"负数截断", -1, 0},
		{"超上限截断", 7, 5},
		{"NaN取默认", math.NaN(), DefaultScore},
		{"无穷取默认", math.Inf(1), DefaultScore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := ClampScore(tt.value); result != tt.expected {
				t.Errorf("ClampScore(%v) = %v, expected %v", tt.value, result, tt.expected)
			}
		})
	}
}

func TestStudent_DerivedFlags(t *testing.T) {
	tests := []struct {
		name     string
		scores   Scores
		wantHead bool
		wantNiv1 bool
	}{
		{"沟通高分为头部", Scores{4, 2, 2}, true, false},
		{"均分达标为头部", Scores{3.5, 3.5, 3.5}, true, false},
		{"作业低分为困难", Scores{3, 1, 3}, false, true},
		{"既头部又困难", Scores{4.5, 0.5, 2}, true, true},
		{"普通学生", Scores{2.5, 2.5, 2.5}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStudent("s1", SexFemale, tt.scores)
			if s.IsHead() != tt.wantHead {
				t.Errorf("IsHead() = %v, expected %v", s.IsHead(), tt.wantHead)
			}
			if s.IsNiv1() != tt.wantNiv1 {
				t.Errorf("IsNiv1() = %v, expected %v", s.IsNiv1(), tt.wantNiv1)
			}
		})
	}
}

func TestStudent_SetScoresRecomputesFlags(t *testing.T) {
	s := NewStudent("s1", SexMale, Scores{1, 1, 1})
	if !s.IsNiv1() || s.IsHead() {
		t.Fatalf("初始标记错误: head=%v niv1=%v", s.IsHead(), s.IsNiv1())
	}

	s.SetScores(Scores{5, 5, 5})
	if s.IsNiv1() || !s.IsHead() {
		t.Errorf("SetScores 后标记未更新: head=%v niv1=%v", s.IsHead(), s.IsNiv1())
	}
}

func TestNormalizeStudent(t *testing.T) {
	rec := StudentRecord{
		ID:         " E001 ",
		Sex:        "f",
		Com:        ptr(9),
		Tra:        nil,
		Part:       ptr(math.NaN()),
		Absence:    ptr(-3),
		Language:   " ita ",
		Option:     "latin",
		AssocCode:  " a1",
		DissocCode: "d1 ",
		Mobility:   "Fixe",
	}

	s, err := NormalizeStudent(rec)
	if err != nil {
		t.Fatalf("NormalizeStudent() error = %v", err)
	}

	if s.ID != "E001" {
		t.Errorf("ID = %q, expected E001", s.ID)
	}
	if s.Sex != SexFemale {
		t.Errorf("Sex = %v, expected F", s.Sex)
	}
	want := Scores{Communication: 5, Work: DefaultScore, Participation: DefaultScore}
	if s.Scores() != want {
		t.Errorf("Scores() = %+v, expected %+v", s.Scores(), want)
	}
	if s.Absence != 0 {
		t.Errorf("Absence = %v, expected 0", s.Absence)
	}
	if s.Language != "ITA" || s.Option != "LATIN" || s.AssocCode != "A1" || s.DissocCode != "D1" {
		t.Errorf("标签未规范化: %+v", s)
	}
	if !s.IsFixed() {
		t.Error("Mobility should be FIXED")
	}
}

func TestNormalizeStudents_EmptyID(t *testing.T) {
	_, err := NormalizeStudents([]StudentRecord{{ID: "a"}, {ID: "  "}})
	if err == nil {
		t.Error("Expected error for empty id")
	}
}

func TestClassConfig_QuotaTags(t *testing.T) {
	c := ClassConfig{ID: "6A", CapacityTarget: 25, Quotas: map[string]int{"LATIN": 3, "ESP": 10, "ITA": 0}}

	tags := c.QuotaTags()
	expected := []string{"ESP", "ITA", "LATIN"}
	if len(tags) != len(expected) {
		t.Fatalf("QuotaTags() len = %d, expected %d", len(tags), len(expected))
	}
	for i := range expected {
		if tags[i] != expected[i] {
			t.Errorf("QuotaTags()[%d] = %s, expected %s", i, tags[i], expected[i])
		}
	}
	if c.Quota("GREC") != 0 {
		t.Error("Quota of unknown tag should be 0")
	}
}
