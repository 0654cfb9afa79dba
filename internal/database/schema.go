package database

import (
	"context"
	"fmt"

	"github.com/paiban/fenban/pkg/logger"
)

// schema 分班结果表结构，按顺序执行且可重复执行
var schema = []string{
	`CREATE TABLE IF NOT EXISTS allocation_runs (
		id            UUID PRIMARY KEY,
		dataset       TEXT NOT NULL,
		status        TEXT NOT NULL,
		students      INTEGER NOT NULL,
		classes       INTEGER NOT NULL,
		swaps_applied INTEGER NOT NULL DEFAULT 0,
		parity_swaps  INTEGER NOT NULL DEFAULT 0,
		initial_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		final_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
		stop_reason   TEXT NOT NULL DEFAULT '',
		warnings      TEXT[] NOT NULL DEFAULT '{}',
		report        JSONB,
		started_at    TIMESTAMPTZ NOT NULL,
		duration_ms   BIGINT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_allocation_runs_dataset ON allocation_runs (dataset, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS allocation_assignments (
		run_id     UUID NOT NULL REFERENCES allocation_runs (id) ON DELETE CASCADE,
		student_id TEXT NOT NULL,
		class_id   TEXT NOT NULL DEFAULT '',
		reason     TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, student_id)
	)`,
	`CREATE TABLE IF NOT EXISTS allocation_moves (
		run_id    UUID NOT NULL REFERENCES allocation_runs (id) ON DELETE CASCADE,
		seq       INTEGER NOT NULL,
		iteration INTEGER NOT NULL,
		student_a TEXT NOT NULL,
		student_b TEXT NOT NULL,
		class_a   TEXT NOT NULL,
		class_b   TEXT NOT NULL,
		gain      DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
}

// Migrate 创建分班结果表
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("执行迁移语句 %d 失败: %w", i+1, err)
		}
	}
	logger.Info().Int("statements", len(schema)).Msg("数据库迁移完成")
	return nil
}
