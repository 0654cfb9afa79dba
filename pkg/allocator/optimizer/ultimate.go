package optimizer

import (
	"math/rand"
	"time"

	"github.com/paiban/fenban/pkg/allocator/constraint"
	"github.com/paiban/fenban/pkg/logger"
	"github.com/paiban/fenban/pkg/swap"
)

// 停止原因
const (
	StopMaxSwaps     = "max_swaps"
	StopStagnation   = "stagnation"
	StopSingleClass  = "single_class"
	StopFewOccupied  = "few_occupied_classes"
	StopLockedWorst  = "locked_worst_class"
	StopNoAssignment = "no_assignment"
)

// Config 局部搜索配置
type Config struct {
	MaxSwaps          int     `json:"max_swaps"`           // 最大迭代次数
	StagnationLimit   int     `json:"stagnation_limit"`    // 连续无改进迭代上限
	ProbeSamples      int     `json:"probe_samples"`       // 每侧采样人数
	Epsilon           float64 `json:"epsilon"`             // 最小有效增益
	EmptyClassPenalty float64 `json:"empty_class_penalty"` // 空班评分
	Seed              int64   `json:"seed"`                // 0 表示按时间
	Weights           *Weights `json:"weights,omitempty"` // nil 表示默认权重，显式零值按原样使用
	Targets           *Targets `json:"targets,omitempty"` // nil 表示默认目标
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	weights, targets := DefaultWeights(), DefaultTargets()
	return Config{
		MaxSwaps:          2000,
		StagnationLimit:   50,
		ProbeSamples:      15,
		Epsilon:           1e-4,
		EmptyClassPenalty: 10000,
		Weights:           &weights,
		Targets:           &targets,
	}
}

// Move 一次已应用的交换
type Move struct {
	Iteration int     `json:"iteration"`
	StudentA  string  `json:"student_a"`
	StudentB  string  `json:"student_b"`
	ClassA    string  `json:"class_a"` // StudentA 原班级
	ClassB    string  `json:"class_b"` // StudentB 原班级
	Gain      float64 `json:"gain"`
}

// Result 优化结果
type Result struct {
	SwapsApplied      int                `json:"swaps_applied"`
	Iterations        int                `json:"iterations"`
	IllegalProbes     int                `json:"illegal_probes"`
	IllegalByIssue    map[swap.Issue]int `json:"illegal_by_issue,omitempty"`
	Moves             []Move             `json:"moves"`
	InitialScore      float64            `json:"initial_score"`
	FinalScore        float64            `json:"final_score"`
	ClassScoresBefore map[string]float64 `json:"class_scores_before"`
	ClassScoresAfter  map[string]float64 `json:"class_scores_after"`
	StopReason        string             `json:"stop_reason"`
	Duration          time.Duration      `json:"duration"`
}

// Option 优化器选项
type Option func(*UltimateOptimizer)

// WithRand 注入随机源，用于可复现的测试
func WithRand(rng *rand.Rand) Option {
	return func(o *UltimateOptimizer) {
		o.rng = rng
	}
}

// WithLogger 设置日志器
func WithLogger(l *logger.AllocationLogger) Option {
	return func(o *UltimateOptimizer) {
		o.logger = l
	}
}

// WithEvaluator 设置交换合法性评估器
func WithEvaluator(e *swap.SwapEvaluator) Option {
	return func(o *UltimateOptimizer) {
		o.evaluator = e
	}
}

// UltimateOptimizer 爬山交换优化器
// 每次迭代选出评分最差的班级，随机选择伙伴班级，随机采样学生对并应用增益最大的合法交换
type UltimateOptimizer struct {
	config    Config
	evaluator *swap.SwapEvaluator
	logger    *logger.AllocationLogger
	rng       *rand.Rand
}

// NewUltimateOptimizer 创建优化器
func NewUltimateOptimizer(config Config, opts ...Option) *UltimateOptimizer {
	def := DefaultConfig()
	if config.MaxSwaps <= 0 {
		config.MaxSwaps = def.MaxSwaps
	}
	if config.StagnationLimit <= 0 {
		config.StagnationLimit = def.StagnationLimit
	}
	if config.ProbeSamples <= 0 {
		config.ProbeSamples = def.ProbeSamples
	}
	if config.Epsilon <= 0 {
		config.Epsilon = def.Epsilon
	}
	if config.EmptyClassPenalty <= 0 {
		config.EmptyClassPenalty = def.EmptyClassPenalty
	}
	if config.Weights == nil {
		config.Weights = def.Weights
	}
	if config.Targets == nil {
		config.Targets = def.Targets
	}

	o := &UltimateOptimizer{config: config}
	for _, opt := range opts {
		opt(o)
	}
	if o.rng == nil {
		seed := config.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		o.rng = rand.New(rand.NewSource(seed))
	}
	if o.evaluator == nil {
		o.evaluator = swap.NewSwapEvaluator()
	}
	if o.logger == nil {
		o.logger = logger.NewNopAllocationLogger()
	}
	return o
}

// Config 返回生效配置
func (o *UltimateOptimizer) Config() Config {
	return o.config
}

// candidate 采样得到的最佳交换
type candidate struct {
	a, b int
	gain float64
}

// Optimize 原地优化分配，永不失败；最坏情况下不应用任何交换
func (o *UltimateOptimizer) Optimize(ctx *constraint.Context) *Result {
	start := time.Now()
	scorer := NewScorer(ctx, *o.config.Weights, *o.config.Targets, o.config.EmptyClassPenalty)

	aggs := make([]Aggregate, len(ctx.Classes))
	scores := make([]float64, len(ctx.Classes))
	for c := range ctx.Classes {
		aggs[c] = AggregateOf(ctx, c)
		scores[c] = scorer.Score(aggs[c], ctx.Capacity(c))
	}

	result := &Result{
		IllegalByIssue:    make(map[swap.Issue]int),
		Moves:             []Move{},
		InitialScore:      sum(scores),
		ClassScoresBefore: o.byClass(ctx, scores),
	}

	// 交换不改变班级人数，空班既不参与最差班选择也不作为交换对象
	occupied := make([]int, 0, len(ctx.Classes))
	for c := range ctx.Classes {
		if aggs[c].Count > 0 {
			occupied = append(occupied, c)
		}
	}

	stagnation := 0
	switch {
	case len(ctx.Classes) < 2:
		result.StopReason = StopSingleClass
	case ctx.State.AssignedCount() == 0:
		result.StopReason = StopNoAssignment
	case len(occupied) < 2:
		result.StopReason = StopFewOccupied
	}

	for iter := 0; result.StopReason == "" && iter < o.config.MaxSwaps; iter++ {
		result.Iterations = iter + 1

		pos := argmaxOf(scores, occupied)
		worst := occupied[pos]
		pool := o.movable(ctx, worst)
		if len(pool) == 0 {
			result.StopReason = StopLockedWorst
			break
		}

		next := o.rng.Intn(len(occupied) - 1)
		if next >= pos {
			next++
		}
		partner := occupied[next]

		best, ok := o.probe(ctx, scorer, aggs, scores, worst, partner, pool, result)
		if !ok || best.gain <= o.config.Epsilon {
			stagnation++
			if stagnation >= o.config.StagnationLimit {
				result.StopReason = StopStagnation
			}
			continue
		}

		if err := ctx.Swap(best.a, best.b, "P4:SWAP"); err != nil {
			// 候选已通过合法性检查，不应出现
			stagnation++
			continue
		}
		stagnation = 0
		for _, c := range []int{worst, partner} {
			aggs[c] = AggregateOf(ctx, c)
			scores[c] = scorer.Score(aggs[c], ctx.Capacity(c))
		}

		move := Move{
			Iteration: iter,
			StudentA:  ctx.Students[best.a].ID,
			StudentB:  ctx.Students[best.b].ID,
			ClassA:    ctx.Classes[worst].ID,
			ClassB:    ctx.Classes[partner].ID,
			Gain:      best.gain,
		}
		result.Moves = append(result.Moves, move)
		result.SwapsApplied++
		o.logger.SwapApplied(iter, move.StudentA, move.StudentB, move.Gain)
	}
	if result.StopReason == "" {
		result.StopReason = StopMaxSwaps
	}

	result.FinalScore = sum(scores)
	result.ClassScoresAfter = o.byClass(ctx, scores)
	result.Duration = time.Since(start)
	o.logger.OptimizeComplete(result.Iterations, result.SwapsApplied, result.IllegalProbes,
		result.InitialScore, result.FinalScore)
	return result
}

// probe 在两个班级间随机采样学生对，返回增益最大的合法交换
// 非法候选只计数，不单独记录日志
func (o *UltimateOptimizer) probe(ctx *constraint.Context, scorer *Scorer, aggs []Aggregate, scores []float64,
	worst, partner int, pool []int, result *Result) (candidate, bool) {
	partners := o.movable(ctx, partner)
	if len(partners) == 0 {
		return candidate{}, false
	}

	before := scores[worst] + scores[partner]
	capW, capP := ctx.Capacity(worst), ctx.Capacity(partner)
	best := candidate{a: -1, b: -1}

	for i := 0; i < o.config.ProbeSamples; i++ {
		a := pool[o.rng.Intn(len(pool))]
		for j := 0; j < o.config.ProbeSamples; j++ {
			b := partners[o.rng.Intn(len(partners))]
			if issue := o.evaluator.CheckSwap(ctx, a, b); issue != swap.IssueNone {
				result.IllegalProbes++
				result.IllegalByIssue[issue]++
				continue
			}

			after := scorer.Score(aggs[worst].Remove(ctx, a).Add(ctx, b), capW) +
				scorer.Score(aggs[partner].Remove(ctx, b).Add(ctx, a), capP)
			if gain := before - after; gain > best.gain {
				best = candidate{a: a, b: b, gain: gain}
			}
		}
	}
	return best, best.a >= 0
}

// movable 班级中可参与交换的学生
func (o *UltimateOptimizer) movable(ctx *constraint.Context, class int) []int {
	var out []int
	for _, i := range ctx.State.Roster(class) {
		if ctx.Movable(i) {
			out = append(out, i)
		}
	}
	return out
}

func (o *UltimateOptimizer) byClass(ctx *constraint.Context, scores []float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	for c, cls := range ctx.Classes {
		out[cls.ID] = scores[c]
	}
	return out
}

// argmaxOf 在候选班级中返回评分最高者的位置，并列取配置顺序靠前者
func argmaxOf(scores []float64, classes []int) int {
	best := 0
	for i := 1; i < len(classes); i++ {
		if scores[classes[i]] > scores[classes[best]] {
			best = i
		}
	}
	return best
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}
