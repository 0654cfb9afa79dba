// Package logger 提供分班服务统一的日志框架
package logger

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// Level 日志级别
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"` // json/console
	Output     string `yaml:"output" json:"output"` // stdout/stderr/file
	FilePath   string `yaml:"file_path,omitempty" json:"file_path,omitempty"`
	TimeFormat string `yaml:"time_format,omitempty" json:"time_format,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// Init 初始化日志器
func Init(cfg Config) {
	once.Do(func() {
		level := parseLevel(cfg.Level)
		zerolog.SetGlobalLevel(level)

		var output io.Writer
		switch cfg.Output {
		case "stderr":
			output = os.Stderr
		case "file":
			if cfg.FilePath != "" {
				f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
				if err == nil {
					output = f
				} else {
					output = os.Stdout
				}
			} else {
				output = os.Stdout
			}
		default:
			output = os.Stdout
		}

		if cfg.Format == "console" {
			output = zerolog.ConsoleWriter{
				Out:        output,
				TimeFormat: cfg.TimeFormat,
			}
		}

		logger = zerolog.New(output).With().Timestamp().Logger()
	})
}

// parseLevel 解析日志级别
func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get 获取日志器
func Get() *zerolog.Logger {
	if logger.GetLevel() == zerolog.Disabled {
		Init(DefaultConfig())
	}
	return &logger
}

// WithContext 从上下文创建日志器
func WithContext(ctx context.Context) *zerolog.Logger {
	l := Get().With().Logger()
	
	// 添加请求ID
	if reqID, ok := ctx.Value("request_id").(string); ok {
		l = l.With().Str("request_id", reqID).Logger()
	}
	
	// 添加运行ID
	if runID, ok := ctx.Value("run_id").(string); ok {
		l = l.With().Str("run_id", runID).Logger()
	}
	
	return &l
}

// Debug 记录调试日志
func Debug() *zerolog.Event {
	return Get().Debug()
}

// Info 记录信息日志
func Info() *zerolog.Event {
	return Get().Info()
}

// Warn 记录警告日志
func Warn() *zerolog.Event {
	return Get().Warn()
}

// Error 记录错误日志
func Error() *zerolog.Event {
	return Get().Error()
}

// Fatal 记录致命错误日志
func Fatal() *zerolog.Event {
	return Get().Fatal()
}

// WithError 添加错误信息
func WithError(err error) *zerolog.Event {
	return Get().Error().Err(err)
}

// WithField 添加字段
func WithField(key string, value interface{}) *zerolog.Logger {
	l := Get().With().Interface(key, value).Logger()
	return &l
}

// WithFields 添加多个字段
func WithFields(fields map[string]interface{}) *zerolog.Logger {
	ctx := Get().With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	l := ctx.Logger()
	return &l
}

// AllocationLogger 分班引擎专用日志器
type AllocationLogger struct {
	base *zerolog.Logger
}

// NewAllocationLogger 创建分班引擎日志器
func NewAllocationLogger() *AllocationLogger {
	l := Get().With().Str("component", "allocator").Logger()
	return &AllocationLogger{base: &l}
}

// NewNopAllocationLogger 创建不输出的日志器
func NewNopAllocationLogger() *AllocationLogger {
	l := zerolog.Nop()
	return &AllocationLogger{base: &l}
}

// With 返回带运行ID的日志器
func (l *AllocationLogger) With(runID string) *AllocationLogger {
	child := l.base.With().Str("run_id", runID).Logger()
	return &AllocationLogger{base: &child}
}

// StartRun 记录分班开始
func (l *AllocationLogger) StartRun(runID string, students, classes int) {
	l.base.Info().
		Str("run_id", runID).
		Int("students", students).
		Int("classes", classes).
		Msg("开始分班")
}

// PhaseStart 记录阶段开始
func (l *AllocationLogger) PhaseStart(phase int, name string) {
	l.base.Info().
		Int("phase", phase).
		Str("name", name).
		Msg("阶段开始")
}

// PhaseComplete 记录阶段完成
func (l *AllocationLogger) PhaseComplete(phase int, name string, duration time.Duration, changed, warnings int) {
	l.base.Info().
		Int("phase", phase).
		Str("name", name).
		Dur("duration", duration).
		Int("changed", changed).
		Int("warnings", warnings).
		Msg("阶段完成")
}

// ConstraintWarning 记录约束无法完全满足
func (l *AllocationLogger) ConstraintWarning(phase int, details string) {
	l.base.Warn().
		Int("phase", phase).
		Str("details", details).
		Msg("约束未完全满足")
}

// SwapApplied 记录一次优化交换
func (l *AllocationLogger) SwapApplied(iteration int, studentA, studentB string, gain float64) {
	l.base.Debug().
		Int("iteration", iteration).
		Str("student_a", studentA).
		Str("student_b", studentB).
		Float64("gain", gain).
		Msg("应用交换")
}

// OptimizeComplete 记录优化汇总
func (l *AllocationLogger) OptimizeComplete(iterations, swaps, illegal int, initial, final float64) {
	l.base.Info().
		Int("iterations", iterations).
		Int("swaps", swaps).
		Int("illegal_probes", illegal).
		Float64("initial_score", initial).
		Float64("final_score", final).
		Msg("局部搜索优化完成")
}

// RunComplete 记录分班完成
func (l *AllocationLogger) RunComplete(runID string, duration time.Duration, swaps int, score float64) {
	l.base.Info().
		Str("run_id", runID).
		Dur("duration", duration).
		Int("swaps", swaps).
		Float64("score", score).
		Msg("分班完成")
}
