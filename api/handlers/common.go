package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariya/phantomjs-sub019/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 Wire 响应结构
// =============================================================================

// ErrorValue 是错误响应中 value 字段的内容
type ErrorValue struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Method  string `json:"method,omitempty"`
	Path    string `json:"path,omitempty"`
}

// ErrorResponse 是 JSON wire protocol 的失败响应
type ErrorResponse struct {
	SessionID string     `json:"sessionId,omitempty"`
	Status    int        `json:"status"`
	Value     ErrorValue `json:"value"`
}

// Wire protocol 数字状态码
const (
	StatusSuccess           = 0
	StatusNoSuchElement     = 7
	StatusUnknownCommand    = 9
	StatusJavaScriptError   = 17
	StatusTimeout           = 21
	StatusNoSuchWindow      = 23
	StatusUnknownError      = 13
	StatusSessionNotCreated = 33
	StatusResourceNotFound  = 6
)

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)

	// 头已写出，编码失败无法再改响应
	_ = json.NewEncoder(w).Encode(data)
}

// WriteResponse 写入命令成功响应
func WriteResponse(w http.ResponseWriter, resp *types.Response) {
	if resp == nil {
		resp = &types.Response{}
	}
	status := resp.HTTPStatus
	if status == 0 {
		status = http.StatusOK
	}
	WriteJSON(w, status, resp)
}

// WriteError 把任意错误渲染为 wire 错误响应；非 *types.Error 视为 unknown-error
func WriteError(w http.ResponseWriter, err error, sessionID string, logger *zap.Logger) {
	e, ok := types.AsError(err)
	if !ok {
		e = types.NewError(types.ErrUnknownError, "internal server error").WithCause(err)
	}

	status := e.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(e.Code)
	}

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(e.Code)),
			zap.String("method", e.Method),
			zap.String("path", e.Path),
			zap.Int("status", status),
		}
		if e.Cause != nil {
			fields = append(fields, zap.Error(e.Cause))
		}
		if status >= http.StatusInternalServerError {
			logger.Error("command failed", fields...)
		} else {
			logger.Debug("command rejected", fields...)
		}
	}

	WriteJSON(w, status, ErrorResponse{
		SessionID: sessionID,
		Status:    mapErrorCodeToWireStatus(e.Code),
		Value: ErrorValue{
			Error:   string(e.Code),
			Message: messageOf(e),
			Method:  e.Method,
			Path:    e.Path,
		},
	})
}

func messageOf(e *types.Error) string {
	if e.Cause == nil {
		return e.Message
	}
	var inner *types.Error
	if errors.As(e.Cause, &inner) {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

// =============================================================================
// 🔄 错误码映射
// =============================================================================

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	// 4xx 客户端错误
	case types.ErrMissingCommandParameter:
		return http.StatusBadRequest
	case types.ErrResourceNotFound, types.ErrUnknownCommand:
		return http.StatusNotFound
	case types.ErrInvalidCommandMethod:
		return http.StatusMethodNotAllowed

	// 5xx 命令执行失败
	default:
		return http.StatusInternalServerError
	}
}

func mapErrorCodeToWireStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrResourceNotFound:
		return StatusResourceNotFound
	case types.ErrNoSuchElement:
		return StatusNoSuchElement
	case types.ErrUnknownCommand, types.ErrInvalidCommandMethod:
		return StatusUnknownCommand
	case types.ErrJavaScriptError:
		return StatusJavaScriptError
	case types.ErrTimeout:
		return StatusTimeout
	case types.ErrNoSuchWindow:
		return StatusNoSuchWindow
	case types.ErrSessionNotCreated:
		return StatusSessionNotCreated
	default:
		return StatusUnknownError
	}
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码与写出字节数
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode   int
	BytesWritten int
	Written      bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 只记录第一次写入的状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.BytesWritten += n
	return n, err
}

// Flush 透传 http.Flusher
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
