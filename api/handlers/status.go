package handlers

import (
	"net/http"
	"runtime"
)

// BuildInfo 描述构建信息
type BuildInfo struct {
	Version  string `json:"version"`
	Revision string `json:"revision,omitempty"`
	Time     string `json:"time,omitempty"`
}

// OSInfo 描述运行平台
type OSInfo struct {
	Name string `json:"name"`
	Arch string `json:"arch"`
}

// ServerStatus 是 GET /status 的 value
type ServerStatus struct {
	Build    BuildInfo `json:"build"`
	OS       OSInfo    `json:"os"`
	Sessions int       `json:"sessions"`
}

// SessionCounter 报告当前存活会话数
type SessionCounter interface {
	Len() int
}

// StatusHandler 处理 GET /status
type StatusHandler struct {
	build    BuildInfo
	sessions SessionCounter
}

// NewStatusHandler 创建状态处理器
func NewStatusHandler(build BuildInfo, sessions SessionCounter) *StatusHandler {
	return &StatusHandler{build: build, sessions: sessions}
}

// ServeHTTP 实现 http.Handler
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, invalidMethod(r), "", nil)
		return
	}
	status := ServerStatus{
		Build: h.build,
		OS:    OSInfo{Name: runtime.GOOS, Arch: runtime.GOARCH},
	}
	if h.sessions != nil {
		status.Sessions = h.sessions.Len()
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": StatusSuccess,
		"value":  status,
	})
}
