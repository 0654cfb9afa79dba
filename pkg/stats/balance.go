// Package stats 提供分班统计分析功能
package stats

import (
	"math"
	"sort"

	"github.com/paiban/fenban/pkg/allocator/constraint"
)

// ClassStats 班级统计
type ClassStats struct {
	ClassID        string         `json:"class_id"`
	Count          int            `json:"count"`
	CountF         int            `json:"countF"`
	CountM         int            `json:"countM"`
	CountHead      int            `json:"countHead"`
	CountNiv1      int            `json:"countNiv1"`
	CountFixed     int            `json:"countFixed"`
	CapacityTarget int            `json:"capacityTarget"`
	Overflow       int            `json:"overflow"` // 超出目标人数，可能来自同班组合并
	RatioF         float64        `json:"ratioF"`
	AvgCom         float64        `json:"avgCom"`
	AvgTra         float64        `json:"avgTra"`
	AvgPart        float64        `json:"avgPart"`
	Tags           map[string]int `json:"tags,omitempty"` // 稀缺标签人数
}

// BalanceMetrics 班级间均衡指标
type BalanceMetrics struct {
	Classes     []ClassStats `json:"classes"`
	SizeStdDev  float64      `json:"size_std_dev"`  // 人数标准差
	SizeRange   int          `json:"size_range"`    // 人数极差
	RatioFRange float64      `json:"ratio_f_range"` // 女生比例极差
	HeadGini    float64      `json:"head_gini"`     // 优等生分布基尼系数
	Niv1Gini    float64      `json:"niv1_gini"`     // 学困生分布基尼系数
	ComStdDev   float64      `json:"com_std_dev"`   // 班级沟通均分标准差
	TraStdDev   float64      `json:"tra_std_dev"`   // 班级作业均分标准差

	// 综合评分 (0-100)
	OverallBalanceScore float64 `json:"overall_balance_score"`
}

// BalanceAnalyzer 均衡性分析器
type BalanceAnalyzer struct{}

// NewBalanceAnalyzer 创建均衡性分析器
func NewBalanceAnalyzer() *BalanceAnalyzer {
	return &BalanceAnalyzer{}
}

// ClassStats 计算每个班级的统计（按配置顺序）
func (b *BalanceAnalyzer) ClassStats(ctx *constraint.Context) []ClassStats {
	out := make([]ClassStats, len(ctx.Classes))
	for c, cls := range ctx.Classes {
		st := ClassStats{
			ClassID:        cls.ID,
			CapacityTarget: cls.CapacityTarget,
			Tags:           make(map[string]int),
		}
		var com, tra, part float64
		for _, i := range ctx.State.Roster(c) {
			p := ctx.Profiles[i]
			st.Count++
			if p.Female {
				st.CountF++
			} else {
				st.CountM++
			}
			if p.Head {
				st.CountHead++
			}
			if p.Niv1 {
				st.CountNiv1++
			}
			if p.Fixed {
				st.CountFixed++
			}
			for _, tag := range p.Tags() {
				if ctx.Tags.IsScarce(tag) {
					st.Tags[ctx.Tags.Name(tag)]++
				}
			}
			s := ctx.Students[i].Scores()
			com += s.Communication
			tra += s.Work
			part += s.Participation
		}
		if st.Count > 0 {
			n := float64(st.Count)
			st.RatioF = float64(st.CountF) / n
			st.AvgCom = com / n
			st.AvgTra = tra / n
			st.AvgPart = part / n
		}
		if st.Count > st.CapacityTarget {
			st.Overflow = st.Count - st.CapacityTarget
		}
		out[c] = st
	}
	return out
}

// Analyze 分析班级间均衡性
func (b *BalanceAnalyzer) Analyze(ctx *constraint.Context) *BalanceMetrics {
	classes := b.ClassStats(ctx)
	metrics := &BalanceMetrics{Classes: classes}
	if len(classes) == 0 {
		metrics.OverallBalanceScore = 100
		return metrics
	}

	sizes := make([]float64, len(classes))
	ratios := make([]float64, len(classes))
	heads := make([]float64, len(classes))
	niv1 := make([]float64, len(classes))
	coms := make([]float64, 0, len(classes))
	tras := make([]float64, 0, len(classes))
	for i, c := range classes {
		sizes[i] = float64(c.Count)
		ratios[i] = c.RatioF
		heads[i] = float64(c.CountHead)
		niv1[i] = float64(c.CountNiv1)
		if c.Count > 0 {
			coms = append(coms, c.AvgCom)
			tras = append(tras, c.AvgTra)
		}
	}

	metrics.SizeStdDev = math.Sqrt(variance(sizes, mean(sizes)))
	maxSize, minSize := valueRange(sizes)
	metrics.SizeRange = int(maxSize - minSize)
	maxRatio, minRatio := valueRange(ratios)
	metrics.RatioFRange = maxRatio - minRatio
	metrics.HeadGini = gini(heads)
	metrics.Niv1Gini = gini(niv1)
	metrics.ComStdDev = math.Sqrt(variance(coms, mean(coms)))
	metrics.TraStdDev = math.Sqrt(variance(tras, mean(tras)))
	metrics.OverallBalanceScore = b.overallScore(metrics, mean(sizes))

	return metrics
}

// overallScore 综合评分
// 权重: 人数变异系数 30%, 女生比例极差 30%, 优等生基尼 20%, 学困生基尼 20%
func (b *BalanceAnalyzer) overallScore(m *BalanceMetrics, avgSize float64) float64 {
	cvScore := 100.0
	if avgSize > 0 {
		cvScore = math.Max(0, 100-(m.SizeStdDev/avgSize)*200)
	}
	ratioScore := math.Max(0, 100-m.RatioFRange*200)
	headScore := (1 - m.HeadGini) * 100
	niv1Score := (1 - m.Niv1Gini) * 100

	score := cvScore*0.3 + ratioScore*0.3 + headScore*0.2 + niv1Score*0.2
	return math.Max(0, math.Min(100, score))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func variance(values []float64, m float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sumSquares := 0.0
	for _, v := range values {
		diff := v - m
		sumSquares += diff * diff
	}
	return sumSquares / float64(len(values))
}

func valueRange(values []float64) (max, min float64) {
	if len(values) == 0 {
		return 0, 0
	}
	max, min = values[0], values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	return
}

// gini 基尼系数 (0=均匀, 1=集中于一个班)
func gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	if sum == 0 {
		return 0
	}

	g := 0.0
	for i, v := range sorted {
		g += (2*float64(i+1) - float64(n) - 1) * v
	}
	g = g / (float64(n) * sum)
	return math.Max(0, math.Min(1, g))
}
