// Package metrics 提供Prometheus监控指标
package metrics

import (
	"database/sql"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paiban/fenban/pkg/pipeline"
)

// Registry 分班服务的指标集合
type Registry struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	runTotal        *prometheus.CounterVec
	runDuration     prometheus.Histogram
	phaseDuration   *prometheus.HistogramVec
	phaseChanges    *prometheus.CounterVec
	swapsTotal      *prometheus.CounterVec
	illegalProbes   prometheus.Counter
	warningsTotal   prometheus.Counter
	score           *prometheus.GaugeVec
	balance         prometheus.Gauge
	activeRuns      prometheus.Gauge
}

var (
	registry *Registry
	once     sync.Once
)

// GetRegistry 获取全局注册表
func GetRegistry() *Registry {
	once.Do(func() {
		registry = NewRegistry()
	})
	return registry
}

// NewRegistry 创建独立注册表
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fenban_http_requests_total",
			Help: "HTTP请求总数",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fenban_http_request_duration_seconds",
			Help:    "HTTP请求延迟",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"method", "path"}),
		runTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fenban_allocation_runs_total",
			Help: "分班运行次数",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fenban_allocation_run_duration_seconds",
			Help:    "分班运行耗时",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 300.0},
		}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fenban_phase_duration_seconds",
			Help:    "各阶段耗时",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase"}),
		phaseChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fenban_phase_changes_total",
			Help: "各阶段放置、移动与交换的学生数",
		}, []string{"phase", "kind"}),
		swapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fenban_swaps_total",
			Help: "已执行的交换次数",
		}, []string{"phase"}),
		illegalProbes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fenban_optimizer_illegal_probes_total",
			Help: "优化器被拒绝的候选交换数",
		}),
		warningsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fenban_warnings_total",
			Help: "约束警告总数",
		}),
		score: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fenban_solution_score",
			Help: "最近一次运行的总惩罚分",
		}, []string{"dataset", "stage"}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fenban_overall_balance_score",
			Help: "最近一次运行的综合均衡分",
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fenban_active_runs",
			Help: "当前运行中的分班流程数",
		}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "fenban_goroutines",
		Help: "当前协程数",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	r.registry.MustRegister(
		r.requestTotal, r.requestDuration,
		r.runTotal, r.runDuration,
		r.phaseDuration, r.phaseChanges, r.swapsTotal,
		r.illegalProbes, r.warningsTotal,
		r.score, r.balance, r.activeRuns,
		goroutines,
	)
	r.handler = promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
	return r
}

// Handler 返回指标HTTP处理器
func (r *Registry) Handler() http.Handler {
	return r.handler
}

// Gatherer 返回底层采集器，供测试读取
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RegisterDatabase 导出连接池统计（go_sql_* 系列，db_name 标签）
func (r *Registry) RegisterDatabase(db *sql.DB, name string) error {
	return r.registry.Register(collectors.NewDBStatsCollector(db, name))
}

// ObserveRequest 记录请求指标
func (r *Registry) ObserveRequest(method, path string, status int, duration time.Duration) {
	r.requestTotal.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Inc()
	r.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RunStarted 运行开始，返回结束回调
func (r *Registry) RunStarted() func() {
	r.activeRuns.Inc()
	return r.activeRuns.Dec
}

// ObserveReport 记录一次分班运行
func (r *Registry) ObserveReport(report *pipeline.Report) {
	if report == nil {
		return
	}
	r.runTotal.WithLabelValues(report.Status).Inc()
	r.runDuration.Observe(report.Duration.Seconds())

	for _, p := range report.Phases {
		if p == nil {
			continue
		}
		r.phaseDuration.WithLabelValues(p.Name).Observe(p.Duration.Seconds())
		r.phaseChanges.WithLabelValues(p.Name, "placed").Add(float64(p.Placed))
		r.phaseChanges.WithLabelValues(p.Name, "moved").Add(float64(p.Moved))
		if p.Swaps > 0 {
			r.swapsTotal.WithLabelValues(p.Name).Add(float64(p.Swaps))
		}
	}

	r.illegalProbes.Add(float64(report.Score.IllegalProbes))
	r.warningsTotal.Add(float64(len(report.Warnings)))

	dataset := report.Dataset
	if dataset == "" {
		dataset = pipeline.DefaultDataset
	}
	r.score.WithLabelValues(dataset, "initial").Set(report.Score.Initial)
	r.score.WithLabelValues(dataset, "final").Set(report.Score.Final)
	if report.Balance != nil {
		r.balance.Set(report.Balance.OverallBalanceScore)
	}
}

// RecordRunFailure 记录被拒绝或失败的运行
func (r *Registry) RecordRunFailure(code string) {
	r.runTotal.WithLabelValues("failed_" + code).Inc()
}

// Handler 返回全局指标处理器
func Handler() http.Handler {
	return GetRegistry().Handler()
}

// RecordRequestMetrics 记录请求指标
func RecordRequestMetrics(method, path string, status int, duration time.Duration) {
	GetRegistry().ObserveRequest(method, path, status, duration)
}

// RecordAllocationRun 记录分班运行
func RecordAllocationRun(report *pipeline.Report) {
	GetRegistry().ObserveReport(report)
}
