package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"配置错误", ConfigurationError("classes[0]", "目标人数为 0"), http.StatusBadRequest},
		{"空输入", EmptyInput("学生名单"), http.StatusBadRequest},
		{"重复运行", AlreadyRunning("default"), http.StatusConflict},
		{"超时", Wrap(fmt.Errorf("deadline"), CodeTimeout, "超时"), http.StatusGatewayTimeout},
		{"锁失败", New(CodeLockFailed, "锁"), http.StatusServiceUnavailable},
		{"普通错误", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetHTTPStatus(tt.err); got != tt.expected {
				t.Errorf("GetHTTPStatus() = %d, expected %d", got, tt.expected)
			}
		})
	}
}

func TestIsAndAs(t *testing.T) {
	wrapped := fmt.Errorf("外层: %w", AlreadyRunning("lycee"))

	if !Is(wrapped, CodeAlreadyRunning) {
		t.Error("Is() = false, expected true")
	}
	if GetCode(wrapped) != CodeAlreadyRunning {
		t.Errorf("GetCode() = %s, expected %s", GetCode(wrapped), CodeAlreadyRunning)
	}

	var appErr *AppError
	if !As(wrapped, &appErr) || appErr.Details == "" {
		t.Errorf("As() did not unwrap AppError: %v", appErr)
	}
}

func TestValidationErrors_ToAppErrorWithCode(t *testing.T) {
	ve := &ValidationErrors{}
	if ve.HasErrors() {
		t.Fatal("HasErrors() = true, expected false")
	}
	ve.Add("classes[0].capacity_target", "目标人数必须大于 0")
	ve.Add("students[3].id", "学生ID重复: s3")

	err := ve.ToAppErrorWithCode(CodeConfiguration)
	if err.Code != CodeConfiguration {
		t.Errorf("Code = %s, expected %s", err.Code, CodeConfiguration)
	}
	if len(err.Fields) != 2 {
		t.Errorf("len(Fields) = %d, expected 2", len(err.Fields))
	}
	if err.HTTPStatus != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, expected %d", err.HTTPStatus, http.StatusBadRequest)
	}
}
