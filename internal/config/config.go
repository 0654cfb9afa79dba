// Package config 提供配置管理
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/paiban/fenban/pkg/allocator/optimizer"
	"github.com/paiban/fenban/pkg/allocator/solver"
	"github.com/paiban/fenban/pkg/pipeline"
)

// 锁实现
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Config 应用配置
type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	API        APIConfig        `yaml:"api"`
	Allocation AllocationConfig `yaml:"allocation"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name      string `yaml:"name"`
	Env       string `yaml:"env"`
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"` // 关闭时不持久化分班结果
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN 返回数据库连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// Addr 返回Redis地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// APIConfig API配置
type APIConfig struct {
	RateLimit int           `yaml:"rate_limit"`
	Timeout   time.Duration `yaml:"timeout"`
	CORS      CORSConfig    `yaml:"cors"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
}

// AllocationConfig 分班引擎配置
type AllocationConfig struct {
	ParityTolerance   int               `yaml:"parity_tolerance"`
	ParityMaxRounds   int               `yaml:"parity_max_rounds"`
	MaxSwaps          int               `yaml:"max_swaps"`
	StagnationLimit   int               `yaml:"stagnation_limit"`
	ProbeSamples      int               `yaml:"probe_samples"`
	Epsilon           float64           `yaml:"epsilon"`
	EmptyClassPenalty float64           `yaml:"empty_class_penalty"`
	Seed              int64             `yaml:"seed"` // 0 表示按时间
	LockAssociations  bool              `yaml:"lock_associations"`
	MaxRuntime        time.Duration     `yaml:"max_runtime"`
	LockBackend       string            `yaml:"lock_backend"` // memory/redis
	LockTTL           time.Duration     `yaml:"lock_ttl"`
	LockTimeout       time.Duration     `yaml:"lock_timeout"`
	Weights           optimizer.Weights `yaml:"weights"`
	Targets           optimizer.Targets `yaml:"targets"`
}

// EngineOptions 转换为流程配置
func (c *AllocationConfig) EngineOptions() pipeline.Options {
	weights, targets := c.Weights, c.Targets
	return pipeline.Options{
		Parity: solver.ParityConfig{
			Tolerance: c.ParityTolerance,
			MaxRounds: c.ParityMaxRounds,
		},
		Optimizer: optimizer.Config{
			MaxSwaps:          c.MaxSwaps,
			StagnationLimit:   c.StagnationLimit,
			ProbeSamples:      c.ProbeSamples,
			Epsilon:           c.Epsilon,
			EmptyClassPenalty: c.EmptyClassPenalty,
			Seed:              c.Seed,
			Weights:           &weights,
			Targets:           &targets,
		},
		LockAssociations: c.LockAssociations,
		MaxRuntime:       c.MaxRuntime,
		LockTTL:          c.LockTTL,
		LockTimeout:      c.LockTimeout,
	}
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load 从 .env 文件与环境变量加载配置
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{
		App: AppConfig{
			Name:      v.GetString("APP_NAME"),
			Env:       v.GetString("APP_ENV"),
			Port:      v.GetInt("APP_PORT"),
			LogLevel:  v.GetString("APP_LOG_LEVEL"),
			LogFormat: v.GetString("APP_LOG_FORMAT"),
		},
		Database: DatabaseConfig{
			Enabled:         v.GetBool("DB_ENABLED"),
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			Name:            v.GetString("DB_NAME"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			SSLMode:         v.GetString("DB_SSL_MODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			PoolSize: v.GetInt("REDIS_POOL_SIZE"),
		},
		API: APIConfig{
			RateLimit: v.GetInt("API_RATE_LIMIT"),
			Timeout:   v.GetDuration("API_TIMEOUT"),
			CORS: CORSConfig{
				Enabled: v.GetBool("API_CORS_ENABLED"),
				Origins: splitAndTrim(v.GetString("API_CORS_ORIGINS")),
			},
		},
		Allocation: AllocationConfig{
			ParityTolerance:   v.GetInt("ALLOC_PARITY_TOLERANCE"),
			ParityMaxRounds:   v.GetInt("ALLOC_PARITY_MAX_ROUNDS"),
			MaxSwaps:          v.GetInt("ALLOC_MAX_SWAPS"),
			StagnationLimit:   v.GetInt("ALLOC_STAGNATION_LIMIT"),
			ProbeSamples:      v.GetInt("ALLOC_PROBE_SAMPLES"),
			Epsilon:           v.GetFloat64("ALLOC_EPSILON"),
			EmptyClassPenalty: v.GetFloat64("ALLOC_EMPTY_CLASS_PENALTY"),
			Seed:              v.GetInt64("ALLOC_SEED"),
			LockAssociations:  v.GetBool("ALLOC_LOCK_ASSOCIATIONS"),
			MaxRuntime:        v.GetDuration("ALLOC_MAX_RUNTIME"),
			LockBackend:       strings.ToLower(v.GetString("ALLOC_LOCK_BACKEND")),
			LockTTL:           v.GetDuration("ALLOC_LOCK_TTL"),
			LockTimeout:       v.GetDuration("ALLOC_LOCK_TIMEOUT"),
			Weights: optimizer.Weights{
				Size:        v.GetFloat64("ALLOC_WEIGHT_SIZE"),
				HeadDeficit: v.GetFloat64("ALLOC_WEIGHT_HEAD_DEFICIT"),
				HeadExcess:  v.GetFloat64("ALLOC_WEIGHT_HEAD_EXCESS"),
				Niv1:        v.GetFloat64("ALLOC_WEIGHT_NIV1"),
				Parity:      v.GetFloat64("ALLOC_WEIGHT_PARITY"),
				Distrib:     v.GetFloat64("ALLOC_WEIGHT_DISTRIB"),
			},
			Targets: optimizer.Targets{
				HeadMin: v.GetInt("ALLOC_TARGET_HEAD_MIN"),
				HeadMax: v.GetInt("ALLOC_TARGET_HEAD_MAX"),
				Niv1Max: v.GetInt("ALLOC_TARGET_NIV1_MAX"),
			},
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("METRICS_ENABLED"),
			Path:    v.GetString("METRICS_PATH"),
		},
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "fenban")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_PORT", 7012)
	v.SetDefault("APP_LOG_LEVEL", "info")
	v.SetDefault("APP_LOG_FORMAT", "console")

	v.SetDefault("DB_ENABLED", false)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_NAME", "fenban")
	v.SetDefault("DB_USER", "fenban")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "5m")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)

	v.SetDefault("API_RATE_LIMIT", 100)
	v.SetDefault("API_TIMEOUT", "30s")
	v.SetDefault("API_CORS_ENABLED", true)
	v.SetDefault("API_CORS_ORIGINS", "*")

	weights := optimizer.DefaultWeights()
	targets := optimizer.DefaultTargets()
	opt := optimizer.DefaultConfig()
	v.SetDefault("ALLOC_PARITY_TOLERANCE", solver.DefaultParityTolerance)
	v.SetDefault("ALLOC_PARITY_MAX_ROUNDS", solver.DefaultMaxParityRounds)
	v.SetDefault("ALLOC_MAX_SWAPS", opt.MaxSwaps)
	v.SetDefault("ALLOC_STAGNATION_LIMIT", opt.StagnationLimit)
	v.SetDefault("ALLOC_PROBE_SAMPLES", opt.ProbeSamples)
	v.SetDefault("ALLOC_EPSILON", opt.Epsilon)
	v.SetDefault("ALLOC_EMPTY_CLASS_PENALTY", opt.EmptyClassPenalty)
	v.SetDefault("ALLOC_SEED", 0)
	v.SetDefault("ALLOC_LOCK_ASSOCIATIONS", true)
	v.SetDefault("ALLOC_MAX_RUNTIME", "600s")
	v.SetDefault("ALLOC_LOCK_BACKEND", LockBackendMemory)
	v.SetDefault("ALLOC_LOCK_TTL", "30s")
	v.SetDefault("ALLOC_LOCK_TIMEOUT", "30s")
	v.SetDefault("ALLOC_WEIGHT_SIZE", weights.Size)
	v.SetDefault("ALLOC_WEIGHT_HEAD_DEFICIT", weights.HeadDeficit)
	v.SetDefault("ALLOC_WEIGHT_HEAD_EXCESS", weights.HeadExcess)
	v.SetDefault("ALLOC_WEIGHT_NIV1", weights.Niv1)
	v.SetDefault("ALLOC_WEIGHT_PARITY", weights.Parity)
	v.SetDefault("ALLOC_WEIGHT_DISTRIB", weights.Distrib)
	v.SetDefault("ALLOC_TARGET_HEAD_MIN", targets.HeadMin)
	v.SetDefault("ALLOC_TARGET_HEAD_MAX", targets.HeadMax)
	v.SetDefault("ALLOC_TARGET_NIV1_MAX", targets.Niv1Max)

	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("METRICS_PATH", "/metrics")
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	switch c.Allocation.LockBackend {
	case LockBackendMemory, LockBackendRedis:
	default:
		return fmt.Errorf("不支持的锁实现: %s", c.Allocation.LockBackend)
	}
	if c.Allocation.ParityTolerance < 0 {
		return fmt.Errorf("性别容差不能为负: %d", c.Allocation.ParityTolerance)
	}
	if c.Allocation.MaxSwaps <= 0 || c.Allocation.StagnationLimit <= 0 {
		return fmt.Errorf("交换上限与停滞上限必须大于 0")
	}
	if c.App.Port <= 0 {
		return fmt.Errorf("端口无效: %d", c.App.Port)
	}
	return nil
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// IsTest 检查是否为测试环境
func (c *Config) IsTest() bool {
	return c.App.Env == "test"
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
