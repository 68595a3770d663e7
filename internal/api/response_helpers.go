// internal/api/response_helpers.go
package api

import (
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/Corphon/ChapterForge/internal/apperrors"
	"github.com/Corphon/ChapterForge/internal/models"
	"github.com/gin-gonic/gin"
)

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct{}

// NewResponseHelper 创建响应助手
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success 成功响应
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	}

	c.JSON(http.StatusOK, response)
}

// Created 创建成功响应
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	} else {
		response.Message = "资源创建成功"
	}

	c.JSON(http.StatusCreated, response)
}

// Accepted 异步任务已受理响应
func (rh *ResponseHelper) Accepted(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	} else {
		response.Message = "任务已受理"
	}

	c.JSON(http.StatusAccepted, response)
}

// sanitizeErrorMessage 清理错误详情中可能泄露的敏感信息
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range []string{"api_key", "apikey", "secret", "token", "password"} {
		if strings.Contains(lower, pattern) {
			return "内部错误，详情已省略"
		}
	}
	return message
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}

	if len(details) > 0 {
		apiError.Details = sanitizeErrorMessage(details[0])
	}

	response := &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	c.JSON(statusCode, response)
}

// FromAppError 按服务层错误类型选择HTTP状态码后返回错误响应
func (rh *ResponseHelper) FromAppError(c *gin.Context, err error) {
	status, code := statusForError(err)

	message := "内部错误"
	if appErr, ok := err.(*apperrors.AppError); ok {
		message = appErr.Message
		if appErr.Err != nil {
			rh.Error(c, status, code, message, appErr.Err.Error())
			return
		}
	} else if err != nil {
		message = err.Error()
	}
	rh.Error(c, status, code, message)
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// NotFound 404错误响应
func (rh *ResponseHelper) NotFound(c *gin.Context, resource string, details ...string) {
	message := resource + "不存在"
	code := ErrorNotFound
	switch resource {
	case "小说":
		code = ErrorNovelNotFound
	case "章节":
		code = ErrorChapterNotFound
	case "任务":
		code = ErrorTaskNotFound
	}
	rh.Error(c, http.StatusNotFound, code, message, details...)
}

// InternalError 500错误响应
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// Conflict 409错误响应
func (rh *ResponseHelper) Conflict(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusConflict, ErrorConflict, message, details...)
}

// FileResponse 文件下载响应
func (rh *ResponseHelper) FileResponse(c *gin.Context, content string, filename string, contentType string) {
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.String(http.StatusOK, content)
}

// ExportResponse 导出响应：下载请求按格式返回文件，否则返回JSON包裹的导出结果
func (rh *ResponseHelper) ExportResponse(c *gin.Context, result *models.ExportResult, download bool) {
	if !download {
		rh.Success(c, result, "导出成功")
		return
	}

	filename := filepath.Base(result.FilePath)
	if filename == "." || filename == "/" {
		filename = result.Title + extensionFor(result.Format)
	}

	switch result.Format {
	case models.ExportFormatHTML:
		rh.FileResponse(c, result.Content, filename, "text/html; charset=utf-8")
	default:
		rh.FileResponse(c, result.Content, filename, "text/plain; charset=utf-8")
	}
}

// extensionFor 导出格式对应的文件扩展名
func extensionFor(format models.ExportFormat) string {
	switch format {
	case models.ExportFormatHTML:
		return ".html"
	case models.ExportFormatTXT:
		return ".txt"
	default:
		return ".md"
	}
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	if requestID := c.GetString("request_id"); requestID != "" {
		return requestID
	}
	return ""
}
