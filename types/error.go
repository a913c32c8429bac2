package types

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a failure kind across the router, the session
// lifecycle operations and the per-session command handlers.
type ErrorCode string

// Routing and lifecycle error codes
const (
	ErrInvalidCommandMethod    ErrorCode = "INVALID_COMMAND_METHOD"
	ErrMissingCommandParameter ErrorCode = "MISSING_COMMAND_PARAMETER"
	ErrResourceNotFound        ErrorCode = "RESOURCE_NOT_FOUND"
	ErrUnknownCommand          ErrorCode = "UNKNOWN_COMMAND"
	ErrSessionNotCreated       ErrorCode = "SESSION_NOT_CREATED"
)

// Command handler error codes
const (
	ErrNoSuchWindow    ErrorCode = "NO_SUCH_WINDOW"
	ErrNoSuchElement   ErrorCode = "NO_SUCH_ELEMENT"
	ErrJavaScriptError ErrorCode = "JAVASCRIPT_ERROR"
	ErrTimeout         ErrorCode = "TIMEOUT"
	ErrUnknownError    ErrorCode = "UNKNOWN_ERROR"
)

// Error is a typed failure raised while routing or executing a command.
// Method and Path describe the request that caused it.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Method     string    `json:"method,omitempty"`
	Path       string    `json:"path,omitempty"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Method != "" || e.Path != "" {
		msg = fmt.Sprintf("[%s] %s %s: %s", e.Code, e.Method, e.Path, e.Message)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus overrides the HTTP status derived from the code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRequest records the offending request's method and path.
func (e *Error) WithRequest(req *Request) *Error {
	if req != nil {
		e.Method = req.Method
		e.Path = req.Path
	}
	return e
}

// NewInvalidCommandMethod reports a method/path combination no route accepts.
func NewInvalidCommandMethod(req *Request) *Error {
	return NewError(ErrInvalidCommandMethod, "invalid command method").WithRequest(req)
}

// NewMissingCommandParameter reports an absent or unparsable path segment or body field.
func NewMissingCommandParameter(req *Request, detail string) *Error {
	if detail == "" {
		detail = "missing command parameter"
	}
	return NewError(ErrMissingCommandParameter, detail).WithRequest(req)
}

// NewResourceNotFound reports a well-formed request addressing a resource that does not exist.
func NewResourceNotFound(req *Request, detail string) *Error {
	if detail == "" {
		detail = "variable resource not found"
	}
	return NewError(ErrResourceNotFound, detail).WithRequest(req)
}

// NewUnknownCommand reports a session-scoped command no handler implements.
func NewUnknownCommand(req *Request) *Error {
	return NewError(ErrUnknownCommand, "unknown command").WithRequest(req)
}

// NewSessionNotCreated reports a well-formed create request the server could not satisfy.
func NewSessionNotCreated(req *Request, detail string) *Error {
	return NewError(ErrSessionNotCreated, detail).WithRequest(req)
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
