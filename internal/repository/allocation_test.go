package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/fenban/internal/database"
	"github.com/paiban/fenban/pkg/allocator/optimizer"
	apperrors "github.com/paiban/fenban/pkg/errors"
	"github.com/paiban/fenban/pkg/pipeline"
)

func newMockRepo(t *testing.T) (*AllocationRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewAllocationRepository(database.Wrap(db))
	repo.now = func() time.Time { return time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC) }
	return repo, mock
}

func sampleReport() *pipeline.Report {
	return &pipeline.Report{
		RunID:        uuid.NewString(),
		Dataset:      "lycee",
		Status:       pipeline.StatusCompleted,
		ClassOrder:   []string{"A", "B"},
		SwapsApplied: 1,
		Warnings:     []string{"P1:NO_CLASS s3"},
		Moves: []optimizer.Move{
			{Iteration: 1, StudentA: "s1", StudentB: "s2", ClassA: "A", ClassB: "B", Gain: 12.5},
		},
		Placements: []pipeline.Placement{
			{StudentID: "s1", ClassID: "B", Reason: "P4:SWAP"},
			{StudentID: "s2", ClassID: "A", Reason: "P4:SWAP"},
		},
		Score:     pipeline.ScoreSummary{Initial: 100, Final: 87.5, StopReason: "stagnation"},
		StartedAt: time.Date(2024, 9, 1, 7, 59, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
	}
}

func TestAllocationRepository_Save(t *testing.T) {
	repo, mock := newMockRepo(t)
	report := sampleReport()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO allocation_runs")).
		WithArgs(sqlmock.AnyArg(), "lycee", pipeline.StatusCompleted, 2, 2, 1, 0, 100.0, 87.5,
			"stagnation", sqlmock.AnyArg(), report.StartedAt, int64(1500), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO allocation_assignments")).
		WithArgs(sqlmock.AnyArg(), "s1", "B", "P4:SWAP").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO allocation_assignments")).
		WithArgs(sqlmock.AnyArg(), "s2", "A", "P4:SWAP").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO allocation_moves")).
		WithArgs(sqlmock.AnyArg(), 0, 1, "s1", "s2", "A", "B", 12.5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), report))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocationRepository_SaveRollback(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO allocation_runs")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO allocation_assignments")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), sampleReport())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocationRepository_SaveInvalidRunID(t *testing.T) {
	repo, mock := newMockRepo(t)
	report := sampleReport()
	report.RunID = "not-a-uuid"

	require.Error(t, repo.Save(context.Background(), report))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func runRow(id uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "dataset", "status", "students", "classes", "swaps_applied", "parity_swaps",
		"initial_score", "final_score", "stop_reason", "warnings", "started_at", "duration_ms", "created_at",
	}).AddRow(id.String(), "lycee", "completed", 60, 3, 12, 2, 300.0, 120.0, "stagnation",
		"{w1,w2}", time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC), int64(2500), time.Date(2024, 9, 1, 8, 0, 3, 0, time.UTC))
}

func TestAllocationRepository_GetRun(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM allocation_runs WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(runRow(id))

	run, err := repo.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, 12, run.SwapsApplied)
	assert.Equal(t, []string{"w1", "w2"}, run.Warnings)
	assert.Equal(t, 2500*time.Millisecond, run.Duration)
}

func TestAllocationRepository_GetRunNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM allocation_runs WHERE id = $1")).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetRun(context.Background(), id)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}

func TestAllocationRepository_ListRuns(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM allocation_runs WHERE dataset = $1")).
		WithArgs("lycee").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at desc")).
		WithArgs("lycee", 20, 0).
		WillReturnRows(runRow(id))

	filter := DefaultListFilter().WithDataset("lycee").WithLimit(0)
	runs, total, err := repo.ListRuns(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, runs, 1)
	assert.Equal(t, "lycee", runs[0].Dataset)
}

func TestAllocationRepository_GetAssignments(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM allocation_assignments")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "class_id", "reason"}).
			AddRow("s1", "A", "P1:QUOTA").
			AddRow("s2", "B", "P3:COMPLETION"))

	got, err := repo.GetAssignments(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, pipeline.Placement{StudentID: "s2", ClassID: "B", Reason: "P3:COMPLETION"}, got[1])
}

func TestAllocationRepository_GetReport(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT report FROM allocation_runs")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"report"}).
			AddRow([]byte(`{"run_id":"` + id.String() + `","status":"partial","swapsApplied":3}`)))

	report, err := repo.GetReport(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusPartial, report.Status)
	assert.Equal(t, 3, report.SwapsApplied)
}

func TestAllocationRepository_DeleteRun(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantCode apperrors.Code
	}{
		{"删除成功", 1, ""},
		{"记录不存在", 0, apperrors.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			id := uuid.New()
			mock.ExpectExec(regexp.QuoteMeta("DELETE FROM allocation_runs")).
				WithArgs(id).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := repo.DeleteRun(context.Background(), id)
			if tt.wantCode == "" {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tt.wantCode, apperrors.GetCode(err))
			}
		})
	}
}

func TestListFilter_Normalize(t *testing.T) {
	tests := []struct {
		name   string
		filter ListFilter
		want   ListFilter
	}{
		{"默认", DefaultListFilter(), DefaultListFilter()},
		{"非法排序列", ListFilter{OrderBy: "1; DROP TABLE", Limit: 10}, ListFilter{OrderBy: "created_at", OrderDir: "desc", Limit: 10}},
		{"升序", ListFilter{OrderBy: "final_score", OrderDir: "asc", Limit: 500, Offset: -3}, ListFilter{OrderBy: "final_score", OrderDir: "asc", Limit: 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.normalize(); got != tt.want {
				t.Errorf("normalize() = %+v, expected %+v", got, tt.want)
			}
		})
	}
}
