// Package database 管理分班结果库的 PostgreSQL 连接
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/paiban/fenban/internal/config"
	"github.com/paiban/fenban/pkg/errors"
	"github.com/paiban/fenban/pkg/logger"

	_ "github.com/lib/pq" // PostgreSQL 驱动
)

// slowQuery 慢查询阈值
const slowQuery = 100 * time.Millisecond

// pingTimeout 建连探测超时
const pingTimeout = 5 * time.Second

// TxFunc 事务内执行的写入
type TxFunc func(tx *sql.Tx) error

// DB 结果库连接
type DB struct {
	*sql.DB
	name string
}

// Wrap 包装已有连接，测试中配合 sqlmock 使用
func Wrap(db *sql.DB) *DB {
	return &DB{DB: db, name: "fenban"}
}

// New 按配置建立连接池并探测连通性
func New(cfg *config.DatabaseConfig) (*DB, error) {
	conn, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "打开结果库失败")
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "结果库不可达").
			WithField("host", cfg.Host)
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Name).
		Int("max_open", cfg.MaxOpenConns).
		Msg("结果库已连接")

	return &DB{DB: conn, name: cfg.Name}, nil
}

// Name 库名，用作连接池指标标签
func (db *DB) Name() string {
	return db.name
}

// Close 关闭连接池
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	logger.Info().Str("database", db.name).Msg("关闭结果库连接")
	return db.DB.Close()
}

// Health 供 /health 调用
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Transaction 在一个事务中执行 fn；fn 出错或 panic 时回滚
// fn 返回的错误原样透传，开启与提交失败包装为 DATABASE_ERROR
func (db *DB) Transaction(ctx context.Context, fn TxFunc) (err error) {
	start := time.Now()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "开启事务失败")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		db.observe("TRANSACTION", start, err)
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error().Err(rbErr).AnErr("cause", err).Msg("事务回滚失败")
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "提交事务失败")
	}
	return nil
}

// ExecContext 执行写入并记录慢查询
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := db.DB.ExecContext(ctx, query, args...)
	db.observe(query, start, err)
	return result, err
}

// QueryContext 执行查询并记录慢查询
func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	start := time.Now()
	rows, err := db.DB.QueryContext(ctx, query, args...)
	db.observe(query, start, err)
	return rows, err
}

// QueryRowContext 执行单行查询，错误延迟到 Scan
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	start := time.Now()
	row := db.DB.QueryRowContext(ctx, query, args...)
	db.observe(query, start, nil)
	return row
}

func (db *DB) observe(query string, start time.Time, err error) {
	duration := time.Since(start)
	if duration <= slowQuery {
		return
	}
	ev := logger.Warn()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Str("database", db.name).
		Str("query", truncateQuery(query)).
		Dur("duration", duration).
		Msg("慢SQL")
}

// truncateQuery 截断长查询
func truncateQuery(query string) string {
	if len(query) > 200 {
		return fmt.Sprintf("%s...", query[:200])
	}
	return query
}
