package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/paiban/fenban/pkg/errors"
	"github.com/paiban/fenban/pkg/pipeline"
)

// Run 分班运行记录
type Run struct {
	ID           uuid.UUID     `json:"id"`
	Dataset      string        `json:"dataset"`
	Status       string        `json:"status"`
	Students     int           `json:"students"`
	Classes      int           `json:"classes"`
	SwapsApplied int           `json:"swaps_applied"`
	ParitySwaps  int           `json:"parity_swaps"`
	InitialScore float64       `json:"initial_score"`
	FinalScore   float64       `json:"final_score"`
	StopReason   string        `json:"stop_reason"`
	Warnings     []string      `json:"warnings"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	CreatedAt    time.Time     `json:"created_at"`
}

// AllocationRepository 分班结果仓储，实现 pipeline.ResultWriter
type AllocationRepository struct {
	db  TxDB
	now func() time.Time
}

// NewAllocationRepository 创建分班结果仓储
func NewAllocationRepository(db TxDB) *AllocationRepository {
	return &AllocationRepository{db: db, now: time.Now}
}

const runColumns = `id, dataset, status, students, classes, swaps_applied, parity_swaps,
	initial_score, final_score, stop_reason, warnings, started_at, duration_ms, created_at`

// Save 在一个事务中写入运行记录、最终分配与交换轨迹
func (r *AllocationRepository) Save(ctx context.Context, report *pipeline.Report) error {
	id, err := uuid.Parse(report.RunID)
	if err != nil {
		return fmt.Errorf("运行ID无效 %q: %w", report.RunID, err)
	}
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("序列化报告失败: %w", err)
	}
	dataset := report.Dataset
	if dataset == "" {
		dataset = pipeline.DefaultDataset
	}

	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO allocation_runs (`+runColumns+`, report)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`,
			id, dataset, report.Status, len(report.Placements), len(report.ClassOrder),
			report.SwapsApplied, report.ParitySwaps, report.Score.Initial, report.Score.Final,
			report.Score.StopReason, pq.Array(report.Warnings), report.StartedAt,
			report.Duration.Milliseconds(), r.now(), body,
		)
		if err != nil {
			return fmt.Errorf("写入运行记录失败: %w", err)
		}

		for _, p := range report.Placements {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO allocation_assignments (run_id, student_id, class_id, reason)
				VALUES ($1, $2, $3, $4)
			`, id, p.StudentID, p.ClassID, p.Reason); err != nil {
				return fmt.Errorf("写入学生 %s 的分配失败: %w", p.StudentID, err)
			}
		}

		for seq, m := range report.Moves {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO allocation_moves (run_id, seq, iteration, student_a, student_b, class_a, class_b, gain)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, id, seq, m.Iteration, m.StudentA, m.StudentB, m.ClassA, m.ClassB, m.Gain); err != nil {
				return fmt.Errorf("写入交换轨迹失败: %w", err)
			}
		}
		return nil
	})
}

// GetRun 根据ID获取运行记录
func (r *AllocationRepository) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM allocation_runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("运行记录", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	return run, nil
}

// GetReport 获取完整运行报告
func (r *AllocationRepository) GetReport(ctx context.Context, id uuid.UUID) (*pipeline.Report, error) {
	var body []byte
	err := r.db.QueryRowContext(ctx, `SELECT report FROM allocation_runs WHERE id = $1`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("运行记录", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("查询运行报告失败: %w", err)
	}

	var report pipeline.Report
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("解析运行报告失败: %w", err)
	}
	return &report, nil
}

// ListRuns 列出运行记录
func (r *AllocationRepository) ListRuns(ctx context.Context, filter ListFilter) ([]*Run, int, error) {
	filter = filter.normalize()

	var conditions []string
	var args []interface{}
	argNum := 1

	if filter.Dataset != "" {
		conditions = append(conditions, fmt.Sprintf("dataset = $%d", argNum))
		args = append(args, filter.Dataset)
		argNum++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, filter.Status)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM allocation_runs %s", whereClause)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("统计运行记录失败: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM allocation_runs %s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
	`, runColumns, whereClause, filter.OrderBy, filter.OrderDir, argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("查询运行列表失败: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("扫描运行记录失败: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// GetAssignments 获取运行的最终分配
func (r *AllocationRepository) GetAssignments(ctx context.Context, runID uuid.UUID) ([]pipeline.Placement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id, class_id, reason
		FROM allocation_assignments
		WHERE run_id = $1
		ORDER BY class_id, student_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("查询分配失败: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Placement
	for rows.Next() {
		var p pipeline.Placement
		if err := rows.Scan(&p.StudentID, &p.ClassID, &p.Reason); err != nil {
			return nil, fmt.Errorf("扫描分配失败: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteRun 删除运行记录，分配与轨迹级联删除
func (r *AllocationRepository) DeleteRun(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM allocation_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("删除运行记录失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("运行记录", id.String())
	}
	return nil
}

func scanRun(row Scanner) (*Run, error) {
	var run Run
	var durationMS int64
	err := row.Scan(
		&run.ID, &run.Dataset, &run.Status, &run.Students, &run.Classes,
		&run.SwapsApplied, &run.ParitySwaps, &run.InitialScore, &run.FinalScore,
		&run.StopReason, pq.Array(&run.Warnings), &run.StartedAt, &durationMS, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return &run, nil
}
