package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ariya/phantomjs-sub019/internal/ctxkeys"
	"github.com/ariya/phantomjs-sub019/types"
	"go.uber.org/zap"
)

// DefaultMaxBodyBytes 限制单个命令请求体大小（1 MB）
const DefaultMaxBodyBytes int64 = 1 << 20

// =============================================================================
// 🚦 WebDriver Handler
// =============================================================================

// WebDriverHandler 是 HTTP 与命令路由器之间的边界：剥离 base path，
// 读取请求体，调用路由器并把结果或错误渲染为 wire 响应。
type WebDriverHandler struct {
	router   types.CommandHandler
	basePath string
	maxBody  int64
	logger   *zap.Logger
}

// NewWebDriverHandler 创建 WebDriver 处理器。basePath 形如 "/wd/hub"，可为空。
func NewWebDriverHandler(router types.CommandHandler, basePath string, logger *zap.Logger) *WebDriverHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebDriverHandler{
		router:   router,
		basePath: strings.TrimRight(basePath, "/"),
		maxBody:  DefaultMaxBodyBytes,
		logger:   logger.With(zap.String("component", "webdriver_handler")),
	}
}

// WithMaxBodyBytes 设置请求体上限
func (h *WebDriverHandler) WithMaxBodyBytes(n int64) *WebDriverHandler {
	if n > 0 {
		h.maxBody = n
	}
	return h
}

// ServeHTTP 实现 http.Handler
func (h *WebDriverHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger
	if id, ok := ctxkeys.RequestID(r.Context()); ok {
		logger = logger.With(zap.String("request_id", id))
	}

	path := r.URL.Path
	if h.basePath != "" {
		rest, ok := strings.CutPrefix(path, h.basePath)
		if !ok || (rest != "" && !strings.HasPrefix(rest, "/")) {
			WriteError(w, types.NewUnknownCommand(types.NewRequest(r.Method, path, nil)), "", logger)
			return
		}
		path = rest
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
		if err != nil {
			req := types.NewRequest(r.Method, path, nil)
			apiErr := types.NewMissingCommandParameter(req, "unreadable request body").WithCause(err)
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				apiErr = apiErr.WithHTTPStatus(http.StatusRequestEntityTooLarge)
			}
			WriteError(w, apiErr, req.SessionID(), logger)
			return
		}
	}

	req := types.NewRequest(r.Method, path, body)
	resp, err := h.router.Handle(r.Context(), req)
	if err != nil {
		WriteError(w, err, req.SessionID(), logger)
		return
	}
	WriteResponse(w, resp)
}
