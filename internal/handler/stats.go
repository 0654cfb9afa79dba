package handler

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/paiban/fenban/pkg/errors"
	"github.com/paiban/fenban/pkg/model"
	"github.com/paiban/fenban/pkg/stats"
)

// DatasetRequest 数据集统计请求
type DatasetRequest struct {
	Students []model.StudentRecord `json:"students" validate:"required,min=1,dive"`
}

// DatasetResponse 数据集统计响应
type DatasetResponse struct {
	Success bool                  `json:"success"`
	Data    *stats.DatasetSummary `json:"data,omitempty"`
}

// StatsHandler 统计处理器
type StatsHandler struct {
	validate *validator.Validate
}

// NewStatsHandler 创建统计处理器
func NewStatsHandler() *StatsHandler {
	return &StatsHandler{validate: validator.New()}
}

// Dataset 分班前的数据集概况
func (h *StatsHandler) Dataset(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req DatasetRequest
	if appErr := decodeRequest(w, r, h.validate, &req); appErr != nil {
		respondError(w, appErr)
		return
	}

	students, err := model.NormalizeStudents(req.Students)
	if err != nil {
		respondError(w, errors.Wrap(err, errors.CodeInvalidInput, "学生记录无效"))
		return
	}
	respondJSON(w, http.StatusOK, DatasetResponse{
		Success: true,
		Data:    stats.SummarizeDataset(students),
	})
}

func atoiOr(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
