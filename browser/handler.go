package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/ariya/phantomjs-sub019/internal/ctxkeys"
	"github.com/ariya/phantomjs-sub019/session"
	"github.com/ariya/phantomjs-sub019/types"
	"go.uber.org/zap"
)

type command func(h *CommandHandler, inst *Instance, req *types.Request) (any, error)

// commands maps "METHOD resource" to its implementation.
var commands = map[string]command{
	http.MethodGet + " url":            getURL,
	http.MethodPost + " url":           postURL,
	http.MethodGet + " title":          getTitle,
	http.MethodGet + " source":         getSource,
	http.MethodPost + " execute":       execute,
	http.MethodGet + " window_handle":  getWindowHandle,
	http.MethodGet + " window_handles": getWindowHandles,
	http.MethodPost + " window":        switchWindow,
	http.MethodDelete + " window":      closeWindow,
	http.MethodPost + " back":          navigate((Window).Back),
	http.MethodPost + " forward":       navigate((Window).Forward),
	http.MethodPost + " refresh":       navigate((Window).Reload),
	http.MethodGet + " screenshot":     screenshot,
}

// CommandHandler executes commands addressed to one session's browser.
type CommandHandler struct {
	session *session.Session
	logger  *zap.Logger
}

// NewCommandHandler creates the handler for s. It matches
// session.HandlerFactory.
func NewCommandHandler(s *session.Session) types.CommandHandler {
	return &CommandHandler{
		session: s,
		logger:  zap.L().With(zap.String("component", "command_handler"), zap.String("session_id", s.ID())),
	}
}

// Handle runs one command. req carries the path below /session/{id}.
func (h *CommandHandler) Handle(ctx context.Context, req *types.Request) (*types.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.ErrTimeout, "request cancelled").WithRequest(req).WithCause(err)
	}
	if req.Len() != 1 {
		return nil, types.NewUnknownCommand(req)
	}
	cmd, ok := commands[req.Method+" "+req.FirstSegment()]
	if !ok {
		return nil, types.NewUnknownCommand(req)
	}
	inst, ok := h.session.Backend().(*Instance)
	if !ok {
		return nil, types.NewError(types.ErrUnknownError, "no browser attached to session").WithRequest(req)
	}

	value, err := cmd(h, inst, req)
	if err != nil {
		werr := h.wireError(req, err)
		fields := []zap.Field{
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.String("code", string(werr.Code)),
			zap.Error(err),
		}
		if id, ok := ctxkeys.RequestID(ctx); ok {
			fields = append(fields, zap.String("request_id", id))
		}
		h.logger.Debug("command failed", fields...)
		return nil, werr
	}
	return &types.Response{SessionID: h.session.ID(), Value: value}, nil
}

func (h *CommandHandler) wireError(req *types.Request, err error) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}
	var code types.ErrorCode
	switch {
	case errors.Is(err, ErrWindowClosed):
		code = types.ErrNoSuchWindow
	case errors.Is(err, ErrTimeout):
		code = types.ErrTimeout
	case errors.Is(err, ErrScript):
		code = types.ErrJavaScriptError
	default:
		code = types.ErrUnknownError
	}
	return types.NewError(code, err.Error()).WithRequest(req).WithCause(err)
}

// =============================================================================
// Commands
// =============================================================================

func current(inst *Instance) (Window, error) {
	_, w, err := inst.Current()
	return w, err
}

func getURL(_ *CommandHandler, inst *Instance, _ *types.Request) (any, error) {
	w, err := current(inst)
	if err != nil {
		return nil, err
	}
	return w.URL(), nil
}

func postURL(_ *CommandHandler, inst *Instance, req *types.Request) (any, error) {
	var body struct {
		URL string `json:"url"`
	}
	if err := req.DecodeBody(&body); err != nil {
		return nil, err
	}
	if body.URL == "" {
		return nil, types.NewMissingCommandParameter(req, "url")
	}
	w, err := current(inst)
	if err != nil {
		return nil, err
	}
	return nil, w.Goto(body.URL)
}

func getTitle(_ *CommandHandler, inst *Instance, _ *types.Request) (any, error) {
	w, err := current(inst)
	if err != nil {
		return nil, err
	}
	return w.Title()
}

func getSource(_ *CommandHandler, inst *Instance, _ *types.Request) (any, error) {
	w, err := current(inst)
	if err != nil {
		return nil, err
	}
	return w.Content()
}

func execute(_ *CommandHandler, inst *Instance, req *types.Request) (any, error) {
	var body struct {
		Script *string `json:"script"`
		Args   []any   `json:"args"`
	}
	if err := req.DecodeBody(&body); err != nil {
		return nil, err
	}
	if body.Script == nil {
		return nil, types.NewMissingCommandParameter(req, "script")
	}
	w, err := current(inst)
	if err != nil {
		return nil, err
	}
	return w.Evaluate(*body.Script, body.Args)
}

func getWindowHandle(_ *CommandHandler, inst *Instance, _ *types.Request) (any, error) {
	handle, _, err := inst.Current()
	if err != nil {
		return nil, err
	}
	return handle, nil
}

func getWindowHandles(_ *CommandHandler, inst *Instance, _ *types.Request) (any, error) {
	return inst.Handles(), nil
}

func switchWindow(_ *CommandHandler, inst *Instance, req *types.Request) (any, error) {
	var body struct {
		Name string `json:"name"`
	}
	if err := req.DecodeBody(&body); err != nil {
		return nil, err
	}
	if body.Name == "" {
		return nil, types.NewMissingCommandParameter(req, "name")
	}
	return nil, inst.Switch(body.Name)
}

func closeWindow(h *CommandHandler, inst *Instance, _ *types.Request) (any, error) {
	if err := inst.CloseCurrent(); err != nil {
		return nil, err
	}
	h.logger.Debug("window closed by client", zap.Int("windows", h.session.WindowCount()))
	return nil, nil
}

func navigate(step func(Window) error) command {
	return func(_ *CommandHandler, inst *Instance, _ *types.Request) (any, error) {
		w, err := current(inst)
		if err != nil {
			return nil, err
		}
		return nil, step(w)
	}
}

func screenshot(_ *CommandHandler, inst *Instance, _ *types.Request) (any, error) {
	w, err := current(inst)
	if err != nil {
		return nil, err
	}
	png, err := w.Screenshot()
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
