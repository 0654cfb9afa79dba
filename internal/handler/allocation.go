package handler

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/paiban/fenban/internal/metrics"
	"github.com/paiban/fenban/internal/repository"
	"github.com/paiban/fenban/pkg/errors"
	"github.com/paiban/fenban/pkg/logger"
	"github.com/paiban/fenban/pkg/model"
	"github.com/paiban/fenban/pkg/pipeline"
)

// RunStore 运行记录查询
type RunStore interface {
	GetReport(ctx context.Context, id uuid.UUID) (*pipeline.Report, error)
	ListRuns(ctx context.Context, filter repository.ListFilter) ([]*repository.Run, int, error)
}

// AllocationHandler 分班处理器
type AllocationHandler struct {
	options  pipeline.Options
	deps     []pipeline.Option
	store    RunStore
	metrics  *metrics.Registry
	validate *validator.Validate
}

// NewAllocationHandler 创建分班处理器，store 为空时不提供历史查询
func NewAllocationHandler(options pipeline.Options, store RunStore, reg *metrics.Registry, deps ...pipeline.Option) *AllocationHandler {
	if reg == nil {
		reg = metrics.GetRegistry()
	}
	return &AllocationHandler{
		options:  options,
		deps:     deps,
		store:    store,
		metrics:  reg,
		validate: validator.New(),
	}
}

// AllocationRequest 分班请求
type AllocationRequest struct {
	Dataset  string                    `json:"dataset,omitempty" validate:"omitempty,max=64"`
	Students []model.StudentRecord     `json:"students" validate:"dive"`
	Classes  []model.ClassConfig       `json:"classes"`
	Quotas   map[string]map[string]int `json:"quotas,omitempty"`
	Options  *RunOptions               `json:"options,omitempty"`
}

// RunOptions 单次运行的可选覆盖
type RunOptions struct {
	ParityTolerance  *int   `json:"parity_tolerance,omitempty" validate:"omitempty,gte=0"`
	MaxSwaps         *int   `json:"max_swaps,omitempty" validate:"omitempty,gt=0"`
	StagnationLimit  *int   `json:"stagnation_limit,omitempty" validate:"omitempty,gt=0"`
	Seed             *int64 `json:"seed,omitempty"`
	LockAssociations *bool  `json:"lock_associations,omitempty"`
	SkipOptimize     bool   `json:"skip_optimize,omitempty"`
}

// ScoreRequest 评分请求
type ScoreRequest struct {
	AllocationRequest
	Assignment map[string][]string `json:"assignment" validate:"required"`
}

// RunResponse 运行响应
type RunResponse struct {
	Success bool             `json:"success"`
	Partial bool             `json:"partial,omitempty"`
	Message string           `json:"message,omitempty"`
	Report  *pipeline.Report `json:"report"`
}

// Run 执行分班
func (h *AllocationHandler) Run(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req AllocationRequest
	if appErr := decodeRequest(w, r, h.validate, &req); appErr != nil {
		h.metrics.RecordRunFailure(string(appErr.Code))
		respondError(w, appErr)
		return
	}

	in, appErr := toInput(&req)
	if appErr != nil {
		h.metrics.RecordRunFailure(string(appErr.Code))
		respondError(w, appErr)
		return
	}

	done := h.metrics.RunStarted()
	report, err := h.pipeline(req.Options).Run(r.Context(), in)
	done()

	if err != nil {
		appErr := toAppError(err)
		h.metrics.RecordRunFailure(string(appErr.Code))
		if report == nil {
			respondError(w, appErr)
			return
		}
		// 超时或持久化失败，附带已有结果
		h.metrics.ObserveReport(report)
		logger.WithContext(r.Context()).Warn().Err(err).Str("run_id", report.RunID).Msg("分班未完整结束")
		respondJSON(w, appErr.HTTPStatus, RunResponse{
			Success: false,
			Partial: report.Status == pipeline.StatusPartial,
			Message: appErr.Message,
			Report:  report,
		})
		return
	}

	h.metrics.ObserveReport(report)
	respondJSON(w, http.StatusOK, RunResponse{Success: true, Report: report})
}

// Validate 校验输入并返回分班前摘要
func (h *AllocationHandler) Validate(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req AllocationRequest
	if appErr := decodeRequest(w, r, h.validate, &req); appErr != nil {
		respondError(w, appErr)
		return
	}
	in, appErr := toInput(&req)
	if appErr != nil {
		respondError(w, appErr)
		return
	}

	summary, err := h.pipeline(req.Options).Inspect(in)
	if err != nil {
		respondError(w, toAppError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"summary": summary,
	})
}

// Score 按优化器评分函数评估给定分配
func (h *AllocationHandler) Score(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req ScoreRequest
	if appErr := decodeRequest(w, r, h.validate, &req); appErr != nil {
		respondError(w, appErr)
		return
	}
	in, appErr := toInput(&req.AllocationRequest)
	if appErr != nil {
		respondError(w, appErr)
		return
	}

	eval, err := h.pipeline(req.Options).Evaluate(in, req.Assignment)
	if err != nil {
		respondError(w, toAppError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    eval.Valid,
		"evaluation": eval,
	})
}

// ListRuns 列出历史运行
func (h *AllocationHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if h.store == nil {
		respondError(w, errors.New(errors.CodeNotFound, "未启用结果持久化"))
		return
	}

	q := r.URL.Query()
	filter := repository.DefaultListFilter().
		WithDataset(q.Get("dataset")).
		WithStatus(q.Get("status")).
		WithLimit(atoiOr(q.Get("limit"), 20)).
		WithOffset(atoiOr(q.Get("offset"), 0))

	runs, total, err := h.store.ListRuns(r.Context(), filter)
	if err != nil {
		respondError(w, errors.Wrap(err, errors.CodeDatabaseError, "查询运行记录失败"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"total": total,
	})
}

// GetRun 获取一次运行的完整报告
func (h *AllocationHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if h.store == nil {
		respondError(w, errors.New(errors.CodeNotFound, "未启用结果持久化"))
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, errors.Wrap(err, errors.CodeInvalidInput, "无效的运行ID格式"))
		return
	}

	report, err := h.store.GetReport(r.Context(), id)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			respondError(w, toAppError(err))
			return
		}
		respondError(w, errors.Wrap(err, errors.CodeDatabaseError, "查询运行报告失败"))
		return
	}
	respondJSON(w, http.StatusOK, RunResponse{Success: report.Status == pipeline.StatusCompleted, Report: report})
}

// pipeline 按请求覆盖项构建流程
func (h *AllocationHandler) pipeline(o *RunOptions) *pipeline.Pipeline {
	options := h.options
	if o != nil {
		if o.ParityTolerance != nil {
			options.Parity.Tolerance = *o.ParityTolerance
		}
		if o.MaxSwaps != nil {
			options.Optimizer.MaxSwaps = *o.MaxSwaps
		}
		if o.StagnationLimit != nil {
			options.Optimizer.StagnationLimit = *o.StagnationLimit
		}
		if o.Seed != nil {
			options.Optimizer.Seed = *o.Seed
		}
		if o.LockAssociations != nil {
			options.LockAssociations = *o.LockAssociations
		}
		options.SkipOptimize = options.SkipOptimize || o.SkipOptimize
	}
	return pipeline.New(options, h.deps...)
}

// toInput 规范化原始学生记录
func toInput(req *AllocationRequest) (*pipeline.Input, *errors.AppError) {
	students, err := model.NormalizeStudents(req.Students)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "学生记录无效")
	}
	return &pipeline.Input{
		Dataset:  req.Dataset,
		Students: students,
		Classes:  req.Classes,
		Quotas:   req.Quotas,
	}, nil
}
