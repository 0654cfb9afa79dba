// Package optimizer 提供第四阶段的局部搜索优化
package optimizer

import (
	"math"

	"github.com/paiban/fenban/pkg/allocator/constraint"
)

// Weights 评分权重
type Weights struct {
	Size        float64 `json:"size"`
	HeadDeficit float64 `json:"head_deficit"`
	HeadExcess  float64 `json:"head_excess"`
	Niv1        float64 `json:"niv1"`
	Parity      float64 `json:"parity"`
	Distrib     float64 `json:"distrib"`
}

// DefaultWeights 默认权重
func DefaultWeights() Weights {
	return Weights{
		Size:        800,
		HeadDeficit: 500,
		HeadExcess:  200,
		Niv1:        100,
		Parity:      4000,
		Distrib:     500,
	}
}

// Targets 学生画像目标
type Targets struct {
	HeadMin int `json:"head_min"` // 每班最少优等生
	HeadMax int `json:"head_max"` // 每班最多优等生
	Niv1Max int `json:"niv1_max"` // 每班最多学困生
}

// DefaultTargets 默认目标
func DefaultTargets() Targets {
	return Targets{HeadMin: 2, HeadMax: 5, Niv1Max: 4}
}

// GlobalStats 全体已分配学生的参照值
type GlobalStats struct {
	RatioF float64 `json:"ratio_f"`
	AvgCom float64 `json:"avg_com"`
	AvgTra float64 `json:"avg_tra"`
}

// Aggregate 班级聚合量，交换模拟只需增减两名学生
type Aggregate struct {
	Count  int
	Female int
	Heads  int
	Niv1   int
	SumCom float64
	SumTra float64
}

// Add 返回加入学生后的聚合量
func (a Aggregate) Add(ctx *constraint.Context, student int) Aggregate {
	return a.apply(ctx, student, 1)
}

// Remove 返回移出学生后的聚合量
func (a Aggregate) Remove(ctx *constraint.Context, student int) Aggregate {
	return a.apply(ctx, student, -1)
}

func (a Aggregate) apply(ctx *constraint.Context, student, delta int) Aggregate {
	p := ctx.Profiles[student]
	scores := ctx.Students[student].Scores()
	a.Count += delta
	if p.Female {
		a.Female += delta
	}
	if p.Head {
		a.Heads += delta
	}
	if p.Niv1 {
		a.Niv1 += delta
	}
	a.SumCom += float64(delta) * scores.Communication
	a.SumTra += float64(delta) * scores.Work
	return a
}

// Breakdown 班级评分明细
type Breakdown struct {
	Size        float64 `json:"size"`
	HeadDeficit float64 `json:"head_deficit"`
	HeadExcess  float64 `json:"head_excess"`
	Niv1        float64 `json:"niv1"`
	Parity      float64 `json:"parity"`
	Distrib     float64 `json:"distrib"`
	Total       float64 `json:"total"`
}

// Scorer 班级综合惩罚评分，分数越高越差
type Scorer struct {
	weights      Weights
	targets      Targets
	emptyPenalty float64
	global       GlobalStats
}

// NewScorer 以当前分配计算全局参照值并创建评分器
func NewScorer(ctx *constraint.Context, weights Weights, targets Targets, emptyPenalty float64) *Scorer {
	return &Scorer{
		weights:      weights,
		targets:      targets,
		emptyPenalty: emptyPenalty,
		global:       ComputeGlobalStats(ctx),
	}
}

// ComputeGlobalStats 计算全体已分配学生的女生比例与平均分
// 无已分配学生时返回 0.5/2.5/2.5
func ComputeGlobalStats(ctx *constraint.Context) GlobalStats {
	var total Aggregate
	for c := range ctx.Classes {
		for _, i := range ctx.State.Roster(c) {
			total = total.Add(ctx, i)
		}
	}
	if total.Count == 0 {
		return GlobalStats{RatioF: 0.5, AvgCom: 2.5, AvgTra: 2.5}
	}
	n := float64(total.Count)
	return GlobalStats{
		RatioF: float64(total.Female) / n,
		AvgCom: total.SumCom / n,
		AvgTra: total.SumTra / n,
	}
}

// Global 返回全局参照值
func (s *Scorer) Global() GlobalStats {
	return s.global
}

// AggregateOf 根据名单计算班级聚合量
func AggregateOf(ctx *constraint.Context, class int) Aggregate {
	var a Aggregate
	for _, i := range ctx.State.Roster(class) {
		a = a.Add(ctx, i)
	}
	return a
}

// ClassScore 计算班级当前评分
func (s *Scorer) ClassScore(ctx *constraint.Context, class int) float64 {
	return s.Score(AggregateOf(ctx, class), ctx.Capacity(class))
}

// Score 根据聚合量计算评分
func (s *Scorer) Score(a Aggregate, capacity int) float64 {
	return s.Explain(a, capacity).Total
}

// Explain 返回各项惩罚
// 优等生不足按平方、过多按线性，学困生过多按立方
func (s *Scorer) Explain(a Aggregate, capacity int) Breakdown {
	if a.Count == 0 {
		return Breakdown{Total: s.emptyPenalty}
	}

	var b Breakdown
	diff := float64(a.Count - capacity)
	b.Size = diff * diff * s.weights.Size

	if a.Heads < s.targets.HeadMin {
		d := float64(s.targets.HeadMin - a.Heads)
		b.HeadDeficit = d * d * s.weights.HeadDeficit
	}
	if a.Heads > s.targets.HeadMax {
		b.HeadExcess = float64(a.Heads-s.targets.HeadMax) * s.weights.HeadExcess
	}
	if a.Niv1 > s.targets.Niv1Max {
		d := float64(a.Niv1 - s.targets.Niv1Max)
		b.Niv1 = d * d * d * s.weights.Niv1
	}

	n := float64(a.Count)
	b.Parity = math.Abs(float64(a.Female)/n-s.global.RatioF) * s.weights.Parity
	b.Distrib = math.Abs(a.SumCom/n-s.global.AvgCom)*s.weights.Distrib +
		math.Abs(a.SumTra/n-s.global.AvgTra)*s.weights.Distrib

	b.Total = b.Size + b.HeadDeficit + b.HeadExcess + b.Niv1 + b.Parity + b.Distrib
	return b
}

// Scores 返回所有班级的评分（按配置顺序）
func (s *Scorer) Scores(ctx *constraint.Context) []float64 {
	out := make([]float64, len(ctx.Classes))
	for c := range ctx.Classes {
		out[c] = s.ClassScore(ctx, c)
	}
	return out
}

// Total 所有班级评分之和
func (s *Scorer) Total(ctx *constraint.Context) float64 {
	var sum float64
	for _, v := range s.Scores(ctx) {
		sum += v
	}
	return sum
}
