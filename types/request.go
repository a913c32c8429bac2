package types

import (
	"context"
	"encoding/json"
	"strings"
)

// Path roots of the session collection.
const (
	SessionDir  = "session"
	SessionsDir = "sessions"
)

// Request describes one automation-protocol command after the transport
// layer has stripped the base path.
type Request struct {
	Method   string
	Path     string
	Segments []string
	Body     []byte
}

// NewRequest splits path into segments. Only the leading slash is removed,
// so "/session/" yields an empty id segment rather than a bare root.
func NewRequest(method, path string, body []byte) *Request {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	var segments []string
	if trimmed := strings.TrimPrefix(path, "/"); trimmed != "" {
		segments = strings.Split(trimmed, "/")
	}
	return &Request{
		Method:   method,
		Path:     path,
		Segments: segments,
		Body:     body,
	}
}

// FirstSegment returns the first path segment or "".
func (r *Request) FirstSegment() string {
	return r.Segment(0)
}

// Segment returns the i-th path segment or "" when out of range.
func (r *Request) Segment(i int) string {
	if i < 0 || i >= len(r.Segments) {
		return ""
	}
	return r.Segments[i]
}

// Len returns the number of path segments.
func (r *Request) Len() int {
	return len(r.Segments)
}

// IsRoot reports whether the path is a bare resource root (one segment).
func (r *Request) IsRoot() bool {
	return len(r.Segments) == 1
}

// Sub returns the request with the first n segments removed. Method and
// body are shared with the parent.
func (r *Request) Sub(n int) *Request {
	if n > len(r.Segments) {
		n = len(r.Segments)
	}
	rest := r.Segments[n:]
	return &Request{
		Method:   r.Method,
		Path:     "/" + strings.Join(rest, "/"),
		Segments: rest,
		Body:     r.Body,
	}
}

// SessionID returns the id segment of a /session/{id}/... path.
func (r *Request) SessionID() string {
	if r.FirstSegment() != SessionDir {
		return ""
	}
	return r.Segment(1)
}

// DecodeBody unmarshals the body into dst. An empty body is an error.
func (r *Request) DecodeBody(dst any) error {
	if len(r.Body) == 0 {
		return NewMissingCommandParameter(r, "request body is empty")
	}
	if err := json.Unmarshal(r.Body, dst); err != nil {
		return NewMissingCommandParameter(r, "request body is not valid JSON").WithCause(err)
	}
	return nil
}

// Response is the result of a successfully executed command. Status zero
// means success on the wire and is omitted from the encoded body.
type Response struct {
	SessionID  string `json:"sessionId,omitempty"`
	Status     int    `json:"status,omitempty"`
	Value      any    `json:"value"`
	HTTPStatus int    `json:"-"`
}

// CommandHandler executes a command and produces a response or a typed error.
type CommandHandler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc func(ctx context.Context, req *Request) (*Response, error)

// Handle calls f(ctx, req).
func (f CommandHandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
