// FenBan 分班引擎服务
// 主程序入口

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paiban/fenban/internal/config"
	"github.com/paiban/fenban/internal/database"
	"github.com/paiban/fenban/internal/handler"
	"github.com/paiban/fenban/internal/lock"
	"github.com/paiban/fenban/internal/metrics"
	"github.com/paiban/fenban/internal/middleware"
	"github.com/paiban/fenban/internal/repository"
	"github.com/paiban/fenban/pkg/logger"
	"github.com/paiban/fenban/pkg/pipeline"
)

// 构建信息（通过 ldflags 注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// healthChecker 依赖健康检查
type healthChecker func(ctx context.Context) error

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Format: cfg.App.LogFormat,
	})

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("配置无效")
	}

	fmt.Printf("FenBan 分班引擎 v%s\n", Version)
	fmt.Printf("Build: %s (%s)\n", BuildTime, GitCommit)
	fmt.Println()

	reg := metrics.GetRegistry()
	checks := map[string]healthChecker{}
	deps := []pipeline.Option{pipeline.WithLogger(logger.NewAllocationLogger())}

	// 流程锁
	switch cfg.Allocation.LockBackend {
	case config.LockBackendRedis:
		client, err := lock.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr()).Msg("连接Redis失败")
		}
		defer client.Close()
		deps = append(deps, pipeline.WithLocker(lock.NewRedisLocker(client)))
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	default:
		deps = append(deps, pipeline.WithLocker(lock.NewMemoryLocker()))
	}

	// 结果持久化
	var store handler.RunStore
	if cfg.Database.Enabled {
		db, err := database.New(&cfg.Database)
		if err != nil {
			logger.Fatal().Err(err).Msg("连接数据库失败")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = db.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("数据库迁移失败")
		}

		if err := reg.RegisterDatabase(db.DB, db.Name()); err != nil {
			logger.Warn().Err(err).Msg("注册连接池指标失败")
		}

		repo := repository.NewAllocationRepository(db)
		store = repo
		deps = append(deps, pipeline.WithResultWriter(repo))
		checks["database"] = db.Health
	}

	allocationHandler := handler.NewAllocationHandler(cfg.Allocation.EngineOptions(), store, reg, deps...)
	statsHandler := handler.NewStatsHandler()

	mux := http.NewServeMux()

	// ========================================
	// 系统端点
	// ========================================

	mux.HandleFunc("/health", healthHandler(checks))

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version":    Version,
			"build_time": BuildTime,
			"git_commit": GitCommit,
		})
	})

	// ========================================
	// API v1 端点
	// ========================================

	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.Timeout(routeTimeout(cfg, pattern))(h))
	}
	handle(allocationRoute, allocationHandler.Run)
	handle("/api/v1/allocations/validate", allocationHandler.Validate)
	handle("/api/v1/allocations/score", allocationHandler.Score)
	handle("/api/v1/allocations/runs", allocationHandler.ListRuns)
	handle("/api/v1/allocations/runs/{id}", allocationHandler.GetRun)
	handle("/api/v1/stats/dataset", statsHandler.Dataset)

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, reg.Handler())
	}

	// 中间件执行顺序：requestID -> recovery -> rateLimit -> cors -> logging -> handler
	h := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Recovery,
		middleware.RateLimit(middleware.NewRateLimiter(float64(cfg.API.RateLimit))),
		middleware.CORS(cfg.API.CORS),
		middleware.SecurityHeaders,
		middleware.Logging(reg),
	)

	// 分班可能运行到 MaxRuntime，写超时需覆盖
	writeTimeout := routeTimeout(cfg, allocationRoute) + 30*time.Second
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      h,
		ReadTimeout:  cfg.API.Timeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().
			Int("port", cfg.App.Port).
			Str("version", Version).
			Str("env", cfg.App.Env).
			Str("lock_backend", cfg.Allocation.LockBackend).
			Bool("persistence", cfg.Database.Enabled).
			Msg("服务器启动")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("服务器启动失败")
			os.Exit(1)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("服务器关闭失败")
		return
	}

	logger.Info().Msg("服务器已关闭")
}

const allocationRoute = "/api/v1/allocations"

// routeTimeout 请求上下文超时；分班运行需覆盖锁等待与最长运行时间
func routeTimeout(cfg *config.Config, pattern string) time.Duration {
	if pattern == allocationRoute {
		return cfg.Allocation.LockTimeout + cfg.Allocation.MaxRuntime
	}
	return cfg.API.Timeout
}

// healthHandler 汇总依赖状态
func healthHandler(checks map[string]healthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				deps[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":       http.StatusText(status),
			"service":      "fenban",
			"dependencies": deps,
		})
	}
}
