// Package repository 提供数据访问层
package repository

import (
	"context"
	"database/sql"

	"github.com/paiban/fenban/internal/database"
)

// ListFilter 列表查询过滤器
type ListFilter struct {
	Dataset  string `json:"dataset,omitempty"`
	Status   string `json:"status,omitempty"`
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
	OrderBy  string `json:"order_by,omitempty"`
	OrderDir string `json:"order_dir,omitempty"` // asc/desc
}

// DefaultListFilter 返回默认过滤器
func DefaultListFilter() ListFilter {
	return ListFilter{
		Offset:   0,
		Limit:    20,
		OrderBy:  "created_at",
		OrderDir: "desc",
	}
}

// WithLimit 设置限制
func (f ListFilter) WithLimit(limit int) ListFilter {
	f.Limit = limit
	return f
}

// WithOffset 设置偏移
func (f ListFilter) WithOffset(offset int) ListFilter {
	f.Offset = offset
	return f
}

// WithDataset 设置数据集过滤
func (f ListFilter) WithDataset(dataset string) ListFilter {
	f.Dataset = dataset
	return f
}

// WithStatus 设置状态过滤
func (f ListFilter) WithStatus(status string) ListFilter {
	f.Status = status
	return f
}

// orderable 允许排序的列
var orderable = map[string]bool{
	"created_at":  true,
	"started_at":  true,
	"final_score": true,
	"duration_ms": true,
}

// normalize 修正非法取值，排序列只接受白名单
func (f ListFilter) normalize() ListFilter {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if !orderable[f.OrderBy] {
		f.OrderBy = "created_at"
	}
	if f.OrderDir != "asc" {
		f.OrderDir = "desc"
	}
	return f
}

// DB 数据库接口
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TxDB 支持事务的数据库，由 database.DB 实现
type TxDB interface {
	DB
	Transaction(ctx context.Context, fn database.TxFunc) error
}

// Scanner 行扫描接口
type Scanner interface {
	Scan(dest ...interface{}) error
}
