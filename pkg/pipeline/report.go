package pipeline

import (
	"time"

	"github.com/paiban/fenban/pkg/allocator/constraint"
	"github.com/paiban/fenban/pkg/allocator/optimizer"
	"github.com/paiban/fenban/pkg/allocator/solver"
	"github.com/paiban/fenban/pkg/stats"
	"github.com/paiban/fenban/pkg/validator"
)

// 运行状态
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
)

// Placement 学生最终班级与放置原因
type Placement struct {
	StudentID string `json:"student_id"`
	ClassID   string `json:"class_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ScoreSummary 第四阶段评分汇总
type ScoreSummary struct {
	Initial       float64            `json:"initial"`
	Final         float64            `json:"final"`
	Before        map[string]float64 `json:"before"`
	After         map[string]float64 `json:"after"`
	Iterations    int                `json:"iterations"`
	IllegalProbes int                `json:"illegal_probes"`
	StopReason    string             `json:"stop_reason"`
}

// Report 分班运行报告
type Report struct {
	RunID         string                      `json:"run_id"`
	Dataset       string                      `json:"dataset,omitempty"`
	Status        string                      `json:"status"`
	Assignment    map[string][]string         `json:"assignment"`
	ClassOrder    []string                    `json:"class_order"`
	SwapsApplied  int                         `json:"swapsApplied"`
	ParitySwaps   int                         `json:"parity_swaps"`
	Moves         []optimizer.Move            `json:"moves"`
	Warnings      []string                    `json:"warnings"`
	PerClassStats map[string]stats.ClassStats `json:"perClassStats"`
	Balance       *stats.BalanceMetrics       `json:"balance,omitempty"`
	Phases        []*solver.Result            `json:"phases"`
	Score         ScoreSummary                `json:"score"`
	Conflicts     []validator.Conflict        `json:"conflicts"`
	Placements    []Placement                 `json:"placements"`
	StartedAt     time.Time                   `json:"started_at"`
	Duration      time.Duration               `json:"duration"`
}

// Unassigned 返回未分配学生
func (r *Report) Unassigned() []string {
	var out []string
	for _, p := range r.Placements {
		if p.ClassID == "" {
			out = append(out, p.StudentID)
		}
	}
	return out
}

type reportBuilder struct {
	report *Report
}

func newReportBuilder(runID, dataset string, start time.Time) *reportBuilder {
	return &reportBuilder{report: &Report{
		RunID:     runID,
		Dataset:   dataset,
		Moves:     []optimizer.Move{},
		StartedAt: start,
	}}
}

func (b *reportBuilder) addPhase(result *solver.Result) {
	b.report.Phases = append(b.report.Phases, result)
	if result.Phase == solver.PhaseParity {
		b.report.ParitySwaps = result.Swaps
	}
}

func (b *reportBuilder) addOptimization(res *optimizer.Result) {
	r := b.report
	r.SwapsApplied = res.SwapsApplied
	r.Moves = res.Moves
	r.Score = ScoreSummary{
		Initial:       res.InitialScore,
		Final:         res.FinalScore,
		Before:        res.ClassScoresBefore,
		After:         res.ClassScoresAfter,
		Iterations:    res.Iterations,
		IllegalProbes: res.IllegalProbes,
		StopReason:    res.StopReason,
	}
	r.Phases = append(r.Phases, &solver.Result{
		Phase:    solver.PhaseOptimize,
		Name:     "optimize",
		Swaps:    res.SwapsApplied,
		Rounds:   res.Iterations,
		Duration: res.Duration,
	})
}

// partial 阶段中途停止时的报告
func (b *reportBuilder) partial(ctx *constraint.Context) *Report {
	b.fill(ctx)
	b.report.Status = StatusPartial
	return b.report
}

// complete 流程完成后的报告，附带结果审计
func (b *reportBuilder) complete(ctx *constraint.Context, options Options) *Report {
	b.fill(ctx)
	r := b.report
	r.Status = StatusCompleted
	r.Conflicts = validator.NewConflictDetector(nil).DetectAll(ctx)
	if options.SkipOptimize {
		cfg := optimizer.NewUltimateOptimizer(options.Optimizer).Config()
		scorer := optimizer.NewScorer(ctx, *cfg.Weights, *cfg.Targets, cfg.EmptyClassPenalty)
		total := scorer.Total(ctx)
		r.Score = ScoreSummary{Initial: total, Final: total}
	}
	return r
}

func (b *reportBuilder) fill(ctx *constraint.Context) {
	r := b.report
	r.Assignment = ctx.Assignment()
	r.ClassOrder = make([]string, len(ctx.Classes))
	for i, c := range ctx.Classes {
		r.ClassOrder[i] = c.ID
	}

	warnings := ctx.Warnings()
	r.Warnings = make([]string, len(warnings))
	for i, w := range warnings {
		r.Warnings[i] = w.String()
	}

	balance := stats.NewBalanceAnalyzer().Analyze(ctx)
	r.Balance = balance
	r.PerClassStats = make(map[string]stats.ClassStats, len(balance.Classes))
	for _, cs := range balance.Classes {
		r.PerClassStats[cs.ClassID] = cs
	}

	r.Placements = make([]Placement, len(ctx.Students))
	for i, s := range ctx.Students {
		p := Placement{StudentID: s.ID, Reason: ctx.Reason(i)}
		if c, ok := ctx.State.ClassOf(i); ok {
			p.ClassID = ctx.Classes[c].ID
		}
		r.Placements[i] = p
	}
	r.Duration = time.Since(r.StartedAt)
}
