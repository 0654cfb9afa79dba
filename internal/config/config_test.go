package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/paiban/fenban/pkg/allocator/optimizer"
)

func defaultViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func TestFromViper_Defaults(t *testing.T) {
	cfg := fromViper(defaultViper())

	if cfg.App.Port != 7012 {
		t.Errorf("App.Port = %d, expected 7012", cfg.App.Port)
	}
	if cfg.Allocation.LockBackend != LockBackendMemory {
		t.Errorf("LockBackend = %s, expected %s", cfg.Allocation.LockBackend, LockBackendMemory)
	}
	if cfg.Allocation.MaxRuntime != 600*time.Second {
		t.Errorf("MaxRuntime = %v, expected 600s", cfg.Allocation.MaxRuntime)
	}
	if !cfg.Allocation.LockAssociations {
		t.Error("LockAssociations 默认应为 true")
	}
	if cfg.Allocation.Weights != optimizer.DefaultWeights() {
		t.Errorf("Weights = %+v, expected %+v", cfg.Allocation.Weights, optimizer.DefaultWeights())
	}
	if cfg.Allocation.Targets != optimizer.DefaultTargets() {
		t.Errorf("Targets = %+v, expected %+v", cfg.Allocation.Targets, optimizer.DefaultTargets())
	}
	if len(cfg.API.CORS.Origins) != 1 || cfg.API.CORS.Origins[0] != "*" {
		t.Errorf("CORS.Origins = %v, expected [*]", cfg.API.CORS.Origins)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, expected nil", err)
	}
}

func TestFromViper_EnvOverride(t *testing.T) {
	t.Setenv("ALLOC_MAX_SWAPS", "50")
	t.Setenv("ALLOC_LOCK_BACKEND", "REDIS")
	t.Setenv("ALLOC_WEIGHT_PARITY", "1234.5")
	t.Setenv("API_CORS_ORIGINS", "http://a.test, http://b.test,")

	v := defaultViper()
	v.AutomaticEnv()
	cfg := fromViper(v)

	if cfg.Allocation.MaxSwaps != 50 {
		t.Errorf("MaxSwaps = %d, expected 50", cfg.Allocation.MaxSwaps)
	}
	if cfg.Allocation.LockBackend != LockBackendRedis {
		t.Errorf("LockBackend = %s, expected redis", cfg.Allocation.LockBackend)
	}
	if cfg.Allocation.Weights.Parity != 1234.5 {
		t.Errorf("Weights.Parity = %v, expected 1234.5", cfg.Allocation.Weights.Parity)
	}
	if len(cfg.API.CORS.Origins) != 2 {
		t.Errorf("CORS.Origins = %v, expected 2 entries", cfg.API.CORS.Origins)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"默认配置", func(*Config) {}, false},
		{"未知锁实现", func(c *Config) { c.Allocation.LockBackend = "etcd" }, true},
		{"负容差", func(c *Config) { c.Allocation.ParityTolerance = -1 }, true},
		{"交换上限为零", func(c *Config) { c.Allocation.MaxSwaps = 0 }, true},
		{"端口无效", func(c *Config) { c.App.Port = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fromViper(defaultViper())
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAllocationConfig_EngineOptions(t *testing.T) {
	cfg := fromViper(defaultViper())
	cfg.Allocation.ParityTolerance = 3
	cfg.Allocation.Seed = 42

	opts := cfg.Allocation.EngineOptions()

	if opts.Parity.Tolerance != 3 {
		t.Errorf("Parity.Tolerance = %d, expected 3", opts.Parity.Tolerance)
	}
	if opts.Optimizer.Seed != 42 {
		t.Errorf("Optimizer.Seed = %d, expected 42", opts.Optimizer.Seed)
	}
	if opts.Optimizer.MaxSwaps != optimizer.DefaultConfig().MaxSwaps {
		t.Errorf("Optimizer.MaxSwaps = %d, expected %d", opts.Optimizer.MaxSwaps, optimizer.DefaultConfig().MaxSwaps)
	}
	if opts.LockTTL != 30*time.Second {
		t.Errorf("LockTTL = %v, expected 30s", opts.LockTTL)
	}
}

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a, b ,c", 3},
		{" , ,", 0},
	}
	for _, tt := range tests {
		if got := splitAndTrim(tt.in); len(got) != tt.want {
			t.Errorf("splitAndTrim(%q) = %v, expected %d entries", tt.in, got, tt.want)
		}
	}
}
