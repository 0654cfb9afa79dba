package pipeline

import (
	"github.com/paiban/fenban/pkg/allocator/constraint"
	"github.com/paiban/fenban/pkg/allocator/optimizer"
	"github.com/paiban/fenban/pkg/stats"
	"github.com/paiban/fenban/pkg/validator"
)

// ClassScore 班级评分与明细
type ClassScore struct {
	ClassID   string              `json:"class_id"`
	Score     float64             `json:"score"`
	Breakdown optimizer.Breakdown `json:"breakdown"`
}

// Evaluation 对给定分配的评估
type Evaluation struct {
	Valid         bool                        `json:"valid"` // 无 error 级冲突
	Total         float64                     `json:"total"`
	Global        optimizer.GlobalStats       `json:"global"`
	Classes       []ClassScore                `json:"classes"`
	PerClassStats map[string]stats.ClassStats `json:"perClassStats"`
	Conflicts     []validator.Conflict        `json:"conflicts"`
}

// Evaluate 按第四阶段评分函数评估外部给定的分配，不修改任何分配
func (p *Pipeline) Evaluate(in *Input, assignment map[string][]string) (*Evaluation, error) {
	actx, err := p.prepare(in)
	if err != nil {
		return nil, err
	}

	detector := validator.NewConflictDetector(nil)
	conflicts := detector.CheckAssignment(actx, assignment)
	conflicts = append(conflicts, detector.DetectAll(actx)...)

	cfg := optimizer.NewUltimateOptimizer(p.options.Optimizer).Config()
	scorer := optimizer.NewScorer(actx, *cfg.Weights, *cfg.Targets, cfg.EmptyClassPenalty)

	eval := &Evaluation{
		Valid:         !validator.HasErrors(conflicts),
		Global:        scorer.Global(),
		Classes:       make([]ClassScore, len(actx.Classes)),
		PerClassStats: make(map[string]stats.ClassStats, len(actx.Classes)),
		Conflicts:     conflicts,
	}
	for c, cls := range actx.Classes {
		bd := scorer.Explain(optimizer.AggregateOf(actx, c), cls.CapacityTarget)
		eval.Classes[c] = ClassScore{ClassID: cls.ID, Score: bd.Total, Breakdown: bd}
		eval.Total += bd.Total
	}
	for _, cs := range stats.NewBalanceAnalyzer().ClassStats(actx) {
		eval.PerClassStats[cs.ClassID] = cs
	}
	return eval, nil
}

// InputSummary 输入校验结果
type InputSummary struct {
	Students      int                   `json:"students"`
	Classes       int                   `json:"classes"`
	TotalCapacity int                   `json:"total_capacity"`
	UniversalTags []string              `json:"universal_tags"`
	ScarceTags    []string              `json:"scarce_tags"`
	AssocGroups   int                   `json:"assoc_groups"`
	DissocGroups  int                   `json:"dissoc_groups"`
	Dataset       *stats.DatasetSummary `json:"dataset"`
}

// Inspect 校验输入并返回标签与分组概况，不执行任何阶段
func (p *Pipeline) Inspect(in *Input) (*InputSummary, error) {
	actx, err := p.prepare(in)
	if err != nil {
		return nil, err
	}

	summary := &InputSummary{
		Students:      len(actx.Students),
		Classes:       len(actx.Classes),
		UniversalTags: actx.Tags.Universal(),
		ScarceTags:    []string{},
		Dataset:       stats.SummarizeDataset(actx.Students),
	}
	for _, c := range actx.Classes {
		summary.TotalCapacity += c.CapacityTarget
	}
	for tag := constraint.TagID(1); int(tag) < actx.Tags.Len(); tag++ {
		if actx.Tags.IsScarce(tag) {
			summary.ScarceTags = append(summary.ScarceTags, actx.Tags.Name(tag))
		}
	}
	for _, g := range actx.AssocGroups {
		if len(g.Members) > 1 {
			summary.AssocGroups++
		}
	}
	for _, g := range actx.DissocGroups {
		if len(g.Members) > 1 {
			summary.DissocGroups++
		}
	}
	return summary, nil
}
