// internal/api/error_codes.go
package api

import (
	"errors"
	"net/http"

	"github.com/Corphon/ChapterForge/internal/apperrors"
)

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorTimeout       = "TIMEOUT"

	// 小说与章节相关错误
	ErrorNovelNotFound   = "NOVEL_NOT_FOUND"
	ErrorChapterNotFound = "CHAPTER_NOT_FOUND"
	ErrorTaskNotFound    = "TASK_NOT_FOUND"

	// 生成流水线相关错误
	ErrorGenerationConflict = "GENERATION_IN_PROGRESS"
	ErrorPlanningExhausted  = "PLANNING_EXHAUSTED"

	// LLM服务相关错误
	ErrorLLMServiceError       = "LLM_SERVICE_ERROR"
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"

	// 导出相关错误
	ErrorExportFailed        = "EXPORT_FAILED"
	ErrorExportFormatInvalid = "EXPORT_FORMAT_INVALID"

	// 限流
	ErrorRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

// statusForError 把服务层错误翻译为HTTP状态码与API错误代码。
// 非AppError一律按内部错误处理
func statusForError(err error) (int, string) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, ErrorInternalError
	}

	switch appErr.Type {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest, ErrorBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound, ErrorNotFound
	case apperrors.ErrorTypeConflict:
		return http.StatusConflict, ErrorConflict
	case apperrors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout, ErrorTimeout
	case apperrors.ErrorTypeLLM:
		return http.StatusBadGateway, ErrorLLMServiceError
	case apperrors.ErrorTypePlanningExhausted:
		return http.StatusUnprocessableEntity, ErrorPlanningExhausted
	default:
		return http.StatusInternalServerError, ErrorInternalError
	}
}
