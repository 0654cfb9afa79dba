package solver

import (
	"fmt"
	"testing"

	"github.com/paiban/fenban/pkg/model"
)

func TestParityBalancer_ScenarioB(t *testing.T) {
	classes := []model.ClassConfig{
		{ID: "A", CapacityTarget: 5, Quotas: map[string]int{"ITA": 5}},
		{ID: "B", CapacityTarget: 5, Quotas: map[string]int{"ESP": 5}},
	}
	var fixtures []studentFixture
	for i := 0; i < 5; i++ {
		fixtures = append(fixtures, studentFixture{id: fmt.Sprintf("ita%d", i), sex: model.SexFemale, lang: "ITA"})
		fixtures = append(fixtures, studentFixture{id: fmt.Sprintf("esp%d", i), sex: model.SexFemale, lang: "ESP"})
	}
	ctx := newContext(t, fixtures, classes)
	_, _ = NewQuotaDispatcher(nil, nil).Run(ctx)
	if ctx.State.Size(0) != 5 || ctx.State.Size(1) != 5 {
		t.Fatalf("phase 1 sizes = %d/%d", ctx.State.Size(0), ctx.State.Size(1))
	}

	result, err := NewParityBalancer(DefaultParityConfig(), nil, nil).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Swaps != 0 {
		t.Errorf("Swaps = %d, expected 0", result.Swaps)
	}
}

func TestParityBalancer_Completion(t *testing.T) {
	classes := []model.ClassConfig{
		{ID: "A", CapacityTarget: 3},
		{ID: "B", CapacityTarget: 3},
		{ID: "C", CapacityTarget: 3},
	}
	var fixtures []studentFixture
	for i := 0; i < 7; i++ {
		fixtures = append(fixtures, studentFixture{id: fmt.Sprintf("s%d", i)})
	}
	ctx := newContext(t, fixtures, classes)

	result, _ := NewParityBalancer(DefaultParityConfig(), nil, nil).Run(ctx)
	if result.Placed != 7 {
		t.Errorf("Placed = %d, expected 7", result.Placed)
	}
	// 并列时按配置顺序：A B C A B C A
	expected := []int{3, 2, 2}
	for c, n := range expected {
		if ctx.State.Size(c) != n {
			t.Errorf("size(%s) = %d, expected %d", classes[c].ID, ctx.State.Size(c), n)
		}
	}
	if len(ctx.State.Unassigned()) != 0 {
		t.Error("every student should be assigned")
	}
}

func TestParityBalancer_CompletionRespectsQuota(t *testing.T) {
	classes := []model.ClassConfig{
		{ID: "A", CapacityTarget: 10, Quotas: map[string]int{"ITA": 1}},
		{ID: "B", CapacityTarget: 10, Quotas: map[string]int{"ITA": 2}},
		{ID: "C", CapacityTarget: 10},
	}
	fixtures := []studentFixture{{id: "i1", lang: "ITA"}, {id: "i2", lang: "ITA"}, {id: "f1"}, {id: "f2"}}
	ctx := newContext(t, fixtures, classes)
	_ = ctx.Assign(0, 0, "test")

	_, _ = NewParityBalancer(DefaultParityConfig(), nil, nil).Run(ctx)
	if classOf(t, ctx, "i2") != "B" {
		t.Errorf("i2 should go to B where ITA has room, got %s", classOf(t, ctx, "i2"))
	}
	assertQuotaBound(t, ctx)
}

func TestParityBalancer_Swaps(t *testing.T) {
	classes := []model.ClassConfig{
		{ID: "A", CapacityTarget: 6},
		{ID: "B", CapacityTarget: 6},
	}
	var fixtures []studentFixture
	for i := 0; i < 6; i++ {
		fixtures = append(fixtures, studentFixture{id: fmt.Sprintf("f%d", i), sex: model.SexFemale})
	}
	for i := 0; i < 6; i++ {
		fixtures = append(fixtures, studentFixture{id: fmt.Sprintf("m%d", i), sex: model.SexMale})
	}
	ctx := newContext(t, fixtures, classes)
	for i := 0; i < 6; i++ {
		_ = ctx.Assign(i, 0, "test")
		_ = ctx.Assign(6+i, 1, "test")
	}

	result, err := NewParityBalancer(ParityConfig{Tolerance: 2, MaxRounds: 100}, nil, nil).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for c := range classes {
		gap := ctx.State.Females(c) - ctx.State.Males(c)
		if gap > 2 || gap < -2 {
			t.Errorf("class %s gap = %d beyond tolerance", classes[c].ID, gap)
		}
		if ctx.State.Size(c) != 6 {
			t.Errorf("swaps must keep sizes, got %d", ctx.State.Size(c))
		}
	}
	if result.Swaps != 2 {
		t.Errorf("Swaps = %d, expected 2", result.Swaps)
	}
	if result.Warnings != 0 {
		t.Errorf("Warnings = %d, expected 0", result.Warnings)
	}
}

func TestParityBalancer_SkipsFixed(t *testing.T) {
	classes := []model.ClassConfig{
		{ID: "A", CapacityTarget: 4},
		{ID: "B", CapacityTarget: 4},
	}
	var fixtures []studentFixture
	for i := 0; i < 4; i++ {
		fixtures = append(fixtures, studentFixture{id: fmt.Sprintf("f%d", i), sex: model.SexFemale, fixed: true})
	}
	for i := 0; i < 4; i++ {
		fixtures = append(fixtures, studentFixture{id: fmt.Sprintf("m%d", i), sex: model.SexMale})
	}
	ctx := newContext(t, fixtures, classes)
	for i := 0; i < 4; i++ {
		_ = ctx.Assign(i, 0, "test")
		_ = ctx.Assign(4+i, 1, "test")
	}

	result, _ := NewParityBalancer(DefaultParityConfig(), nil, nil).Run(ctx)
	if result.Swaps != 0 {
		t.Errorf("fixed students must not be swapped, got %d swaps", result.Swaps)
	}
	if result.Warnings != 2 {
		t.Errorf("Warnings = %d, expected 2 residual imbalance warnings", result.Warnings)
	}
}
