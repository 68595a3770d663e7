// internal/api/error_codes_test.go
package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Corphon/ChapterForge/internal/apperrors"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "验证错误映射400",
			err:        apperrors.NewValidationError("标题不能为空", nil),
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorBadRequest,
		},
		{
			name:       "未找到映射404",
			err:        apperrors.NewNotFoundError("小说不存在", nil),
			wantStatus: http.StatusNotFound,
			wantCode:   ErrorNotFound,
		},
		{
			name:       "冲突映射409",
			err:        apperrors.NewConflictError("生成任务进行中", nil),
			wantStatus: http.StatusConflict,
			wantCode:   ErrorConflict,
		},
		{
			name:       "超时映射504",
			err:        apperrors.NewAppError(apperrors.ErrorTypeTimeout, "上游超时", nil),
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   ErrorTimeout,
		},
		{
			name:       "模型错误映射502",
			err:        apperrors.NewLLMError("模型服务不可用", nil),
			wantStatus: http.StatusBadGateway,
			wantCode:   ErrorLLMServiceError,
		},
		{
			name:       "规划耗尽映射422",
			err:        apperrors.NewPlanningExhaustedError("扩展后仍无目标章节", nil),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   ErrorPlanningExhausted,
		},
		{
			name:       "处理错误映射500",
			err:        apperrors.NewProcessingError("内部处理失败", nil),
			wantStatus: http.StatusInternalServerError,
			wantCode:   ErrorInternalError,
		},
		{
			name:       "普通错误映射500",
			err:        errors.New("原始错误"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   ErrorInternalError,
		},
		{
			name:       "包装后的AppError仍可识别",
			err:        wrapErr(apperrors.NewNotFoundError("章节不存在", nil)),
			wantStatus: http.StatusNotFound,
			wantCode:   ErrorNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code := statusForError(tc.err)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantCode, code)
		})
	}
}

type wrappedErr struct{ inner error }

func (w wrappedErr) Error() string { return "外层: " + w.inner.Error() }
func (w wrappedErr) Unwrap() error { return w.inner }

func wrapErr(err error) error { return wrappedErr{inner: err} }

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "普通错误详情", sanitizeErrorMessage("普通错误详情"))
	assert.Equal(t, "内部错误，详情已省略", sanitizeErrorMessage("invalid api_key provided"))
	assert.Equal(t, "内部错误，详情已省略", sanitizeErrorMessage("Bearer TOKEN expired"))
	assert.Equal(t, "内部错误，详情已省略", sanitizeErrorMessage("secret mismatch"))
}
