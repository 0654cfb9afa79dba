package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/fenban/pkg/allocator/optimizer"
	"github.com/paiban/fenban/pkg/errors"
	"github.com/paiban/fenban/pkg/model"
	"github.com/paiban/fenban/pkg/validator"
)

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl, timeout time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, errors.AlreadyRunning(key)
	}
	l.held[key] = true
	l.acquired++
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, nil
}

type fakeWriter struct {
	saved []*Report
	err   error
}

func (w *fakeWriter) Save(ctx context.Context, report *Report) error {
	w.saved = append(w.saved, report)
	return w.err
}

func plain(id string, sex model.Sex) *model.Student {
	return model.NewStudent(id, sex, model.Scores{Communication: 2.5, Work: 2.5, Participation: 2.5})
}

func seededPipeline(seed int64, opts ...Option) *Pipeline {
	opts = append(opts, WithRand(rand.New(rand.NewSource(seed))))
	return New(DefaultOptions(), opts...)
}

// randomInput 生成带稀缺标签、同班组、分班组与固定学生的数据集
func randomInput(seed int64) *Input {
	r := rand.New(rand.NewSource(seed))
	classes := []model.ClassConfig{
		{ID: "A", CapacityTarget: 20, Quotas: map[string]int{"ITA": 5, "ESP": 20, "LATIN": 4}},
		{ID: "B", CapacityTarget: 20, Quotas: map[string]int{"ITA": 5, "ESP": 20}},
		{ID: "C", CapacityTarget: 20, Quotas: map[string]int{"ESP": 20, "LATIN": 4}},
	}

	var students []*model.Student
	for i := 0; i < 60; i++ {
		sex := model.SexMale
		if r.Intn(2) == 0 {
			sex = model.SexFemale
		}
		s := model.NewStudent(fmt.Sprintf("s%02d", i), sex, model.Scores{
			Communication: float64(r.Intn(6)),
			Work:          float64(r.Intn(6)),
			Participation: float64(r.Intn(6)),
		})
		switch n := r.Intn(10); {
		case n < 2:
			s.Language = "ITA"
		case n < 7:
			s.Language = "ESP"
		}
		if s.Language != "ITA" && r.Intn(8) == 0 {
			s.Option = "LATIN"
		}
		students = append(students, s)
	}

	// 同班组只包含无稀缺标签的学生
	grouped := 0
	for _, s := range students {
		if grouped >= 6 || s.Language == "ITA" || s.Option != "" {
			continue
		}
		s.AssocCode = fmt.Sprintf("G%d", grouped/2)
		grouped++
	}
	dissoc := 0
	for i, s := range students {
		if s.AssocCode != "" {
			continue
		}
		if i%7 == 3 {
			s.DissocCode = fmt.Sprintf("D%d", dissoc%3)
			dissoc++
		}
		if i%17 == 5 {
			s.Mobility = model.MobilityFixed
		}
	}
	return &Input{Students: students, Classes: classes}
}

func TestRun_ScenarioA(t *testing.T) {
	var students []*model.Student
	for i := 0; i < 5; i++ {
		s := plain(fmt.Sprintf("ita%d", i), model.SexFemale)
		s.Language = "ITA"
		students = append(students, s)
	}
	in := &Input{
		Students: students,
		Classes: []model.ClassConfig{
			{ID: "A", CapacityTarget: 10, Quotas: map[string]int{"ITA": 3}},
			{ID: "B", CapacityTarget: 10, Quotas: map[string]int{"ITA": 0}},
		},
	}

	report, err := seededPipeline(1).Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Phases[0].Placed)
	assert.Len(t, report.Assignment["A"], 3)
	assert.Len(t, report.Assignment["B"], 2)
	assert.Equal(t, 0, report.SwapsApplied)

	found := false
	for _, w := range report.Warnings {
		if strings.HasPrefix(w, "P1: ") && strings.Contains(w, "ITA") {
			found = true
		}
	}
	assert.True(t, found, "expected a P1 warning about ITA, got %v", report.Warnings)
}

func TestRun_ScenarioB(t *testing.T) {
	var students []*model.Student
	for i := 0; i < 10; i++ {
		s := plain(fmt.Sprintf("f%d", i), model.SexFemale)
		if i < 5 {
			s.Language = "ITA"
		} else {
			s.Language = "ESP"
		}
		students = append(students, s)
	}
	in := &Input{
		Students: students,
		Classes: []model.ClassConfig{
			{ID: "A", CapacityTarget: 5, Quotas: map[string]int{"ITA": 5}},
			{ID: "B", CapacityTarget: 5, Quotas: map[string]int{"ESP": 5}},
		},
	}

	report, err := seededPipeline(2).Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 0, report.ParitySwaps)
	assert.Equal(t, 5, report.PerClassStats["A"].CountF)
	assert.Equal(t, 5, report.PerClassStats["B"].CountF)
}

func TestRun_ScenarioC(t *testing.T) {
	a := plain("d1a", model.SexMale)
	b := plain("d1b", model.SexMale)
	for _, s := range []*model.Student{a, b} {
		s.Option = "LATIN"
		s.DissocCode = "D1"
	}
	in := &Input{
		Students: []*model.Student{a, b},
		Classes: []model.ClassConfig{
			{ID: "A", CapacityTarget: 5, Quotas: map[string]int{"LATIN": 2}},
			{ID: "B", CapacityTarget: 5, Quotas: map[string]int{"LATIN": 1}},
			{ID: "C", CapacityTarget: 5},
		},
	}

	report, err := seededPipeline(3).Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Phases[1].Moved)
	assert.Equal(t, []string{"d1a"}, report.Assignment["A"])
	assert.Equal(t, []string{"d1b"}, report.Assignment["B"])
}

func TestRun_ScenarioD(t *testing.T) {
	in := &Input{
		Students: []*model.Student{plain("s1", model.SexMale), plain("s2", model.SexFemale)},
		Classes:  []model.ClassConfig{{ID: "A", CapacityTarget: 2}},
	}

	report, err := seededPipeline(4).Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 0, report.SwapsApplied)
	assert.Equal(t, optimizer.StopSingleClass, report.Score.StopReason)
	assert.Len(t, report.Phases, 4)
}

func TestRun_Properties(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			in := randomInput(seed)
			report, err := seededPipeline(seed).Run(context.Background(), in)
			require.NoError(t, err)

			// 每名学生恰好分配一次
			seen := make(map[string]string)
			for classID, ids := range report.Assignment {
				for _, id := range ids {
					prev, dup := seen[id]
					assert.False(t, dup, "student %s in %s and %s", id, prev, classID)
					seen[id] = classID
				}
			}
			assert.Len(t, seen, len(in.Students))
			assert.Empty(t, report.Unassigned())

			counts := validator.CountByType(report.Conflicts)
			assert.Zero(t, counts[validator.ConflictQuotaOverflow], "quota bound")
			assert.Zero(t, counts[validator.ConflictAssocSplit], "association groups")
			assert.Zero(t, counts[validator.ConflictOrphan])
			assert.Zero(t, counts[validator.ConflictDuplicate])

			assert.LessOrEqual(t, report.Score.Final, report.Score.Initial+1e-9)
			assert.Equal(t, len(report.Moves), report.SwapsApplied)
			assert.Equal(t, StatusCompleted, report.Status)

			// 固定学生不被第二至四阶段移动
			for _, p := range report.Placements {
				if strings.HasPrefix(p.Reason, "P4:") || strings.HasPrefix(p.Reason, "P3:PARITY") ||
					strings.HasPrefix(p.Reason, "P2:DISSO") {
					for _, s := range in.Students {
						if s.ID == p.StudentID {
							assert.False(t, s.IsFixed(), "fixed student %s moved (%s)", s.ID, p.Reason)
						}
					}
				}
			}
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	first, err := seededPipeline(9).Run(context.Background(), randomInput(9))
	require.NoError(t, err)
	second, err := seededPipeline(9).Run(context.Background(), randomInput(9))
	require.NoError(t, err)

	assert.Equal(t, first.Assignment, second.Assignment)
	assert.Equal(t, first.Moves, second.Moves)
	assert.Equal(t, first.Warnings, second.Warnings)
}

func TestRun_FatalErrors(t *testing.T) {
	classes := []model.ClassConfig{{ID: "A", CapacityTarget: 5}}

	tests := []struct {
		name     string
		in       *Input
		expected errors.Code
	}{
		{
			name:     "无学生",
			in:       &Input{Classes: classes},
			expected: errors.CodeEmptyInput,
		},
		{
			name:     "无班级",
			in:       &Input{Students: []*model.Student{plain("s1", model.SexMale)}},
			expected: errors.CodeEmptyInput,
		},
		{
			name: "配额引用不存在的班级",
			in: &Input{
				Students: []*model.Student{plain("s1", model.SexMale)},
				Classes:  classes,
				Quotas:   map[string]map[string]int{"Z": {"ITA": 2}},
			},
			expected: errors.CodeConfiguration,
		},
		{
			name: "目标人数无效",
			in: &Input{
				Students: []*model.Student{plain("s1", model.SexMale)},
				Classes:  []model.ClassConfig{{ID: "A", CapacityTarget: 0}},
			},
			expected: errors.CodeConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer := &fakeWriter{}
			report, err := seededPipeline(1, WithResultWriter(writer)).Run(context.Background(), tt.in)
			require.Error(t, err)
			assert.Nil(t, report)
			assert.Equal(t, tt.expected, errors.GetCode(err))
			assert.Empty(t, writer.saved)
		})
	}
}

func TestRun_Lock(t *testing.T) {
	locker := newFakeLocker()
	p := seededPipeline(1, WithLocker(locker))

	locker.held["grade5"] = true
	in := randomInput(1)
	in.Dataset = "grade5"
	_, err := p.Run(context.Background(), in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeAlreadyRunning))

	delete(locker.held, "grade5")
	report, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "grade5", report.Dataset)
	assert.Empty(t, locker.held, "lock should be released")
	assert.Equal(t, 1, locker.acquired)
}

func TestRun_Timeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := seededPipeline(1).Run(ctx, randomInput(1))
	require.Error(t, err)
	assert.Equal(t, errors.CodeTimeout, errors.GetCode(err))
	require.NotNil(t, report)
	assert.Equal(t, StatusPartial, report.Status)
	assert.Empty(t, report.Phases)
	assert.Len(t, report.Unassigned(), 60)
}

func TestRun_ResultWriter(t *testing.T) {
	writer := &fakeWriter{}
	report, err := seededPipeline(1, WithResultWriter(writer)).Run(context.Background(), randomInput(1))
	require.NoError(t, err)
	require.Len(t, writer.saved, 1)
	assert.Same(t, report, writer.saved[0])

	failing := &fakeWriter{err: stderrors.New("connection refused")}
	report, err = seededPipeline(1, WithResultWriter(failing)).Run(context.Background(), randomInput(1))
	require.Error(t, err)
	assert.Equal(t, errors.CodeDatabaseError, errors.GetCode(err))
	assert.NotNil(t, report)
}

func TestRun_SkipOptimize(t *testing.T) {
	opts := DefaultOptions()
	opts.SkipOptimize = true
	report, err := New(opts).Run(context.Background(), randomInput(2))
	require.NoError(t, err)
	assert.Len(t, report.Phases, 3)
	assert.Equal(t, 0, report.SwapsApplied)
	assert.Equal(t, report.Score.Initial, report.Score.Final)
	assert.Greater(t, report.Score.Final, 0.0)
}

func TestEvaluate(t *testing.T) {
	in := &Input{
		Students: []*model.Student{
			plain("s1", model.SexFemale), plain("s2", model.SexMale),
			plain("s3", model.SexFemale), plain("s4", model.SexMale),
		},
		Classes: []model.ClassConfig{{ID: "A", CapacityTarget: 2}, {ID: "B", CapacityTarget: 2}},
	}
	p := New(DefaultOptions())

	eval, err := p.Evaluate(in, map[string][]string{"A": {"s1", "s2"}, "B": {"s3", "s4"}})
	require.NoError(t, err)
	assert.True(t, eval.Valid)
	require.Len(t, eval.Classes, 2)
	assert.InDelta(t, eval.Classes[0].Score+eval.Classes[1].Score, eval.Total, 1e-9)
	// 两班完全对称，只剩优等生不足的惩罚
	assert.InDelta(t, 2000.0, eval.Classes[0].Breakdown.HeadDeficit, 1e-9)
	assert.Equal(t, 1, eval.PerClassStats["A"].CountF)

	eval, err = p.Evaluate(in, map[string][]string{"A": {"s1", "s2", "ghost"}, "B": {"s3"}})
	require.NoError(t, err)
	assert.False(t, eval.Valid)
	counts := validator.CountByType(eval.Conflicts)
	assert.Equal(t, 1, counts[validator.ConflictUnknownStudent])
	assert.Equal(t, 1, counts[validator.ConflictOrphan])
}

func TestInspect(t *testing.T) {
	summary, err := New(DefaultOptions()).Inspect(randomInput(1))
	require.NoError(t, err)
	assert.Equal(t, 60, summary.Students)
	assert.Equal(t, 60, summary.TotalCapacity)
	assert.Equal(t, []string{"ESP"}, summary.UniversalTags)
	assert.ElementsMatch(t, []string{"ITA", "LATIN"}, summary.ScarceTags)
	assert.Equal(t, 3, summary.AssocGroups)
	assert.Equal(t, 60, summary.Dataset.Total)
}
