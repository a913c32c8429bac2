package types

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest_Segments(t *testing.T) {
	tests := []struct {
		path     string
		segments []string
		root     bool
	}{
		{"/session", []string{"session"}, true},
		{"session", []string{"session"}, true},
		{"/session/", []string{"session", ""}, false},
		{"/session/abc/url", []string{"session", "abc", "url"}, false},
		{"/", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := NewRequest(http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.segments, req.Segments)
			assert.Equal(t, tt.root, req.IsRoot())
		})
	}
}

func TestRequest_Accessors(t *testing.T) {
	req := NewRequest(http.MethodPost, "/session/abc/window/size", []byte(`{}`))

	assert.Equal(t, "session", req.FirstSegment())
	assert.Equal(t, "abc", req.SessionID())
	assert.Equal(t, "", req.Segment(10))
	assert.Equal(t, 4, req.Len())

	sub := req.Sub(2)
	assert.Equal(t, "/window/size", sub.Path)
	assert.Equal(t, []string{"window", "size"}, sub.Segments)
	assert.Equal(t, http.MethodPost, sub.Method)
	assert.Equal(t, req.Body, sub.Body)

	assert.Equal(t, "/", req.Sub(99).Path)
	assert.Equal(t, "", NewRequest(http.MethodGet, "/status", nil).SessionID())
}

func TestRequest_DecodeBody(t *testing.T) {
	var dst map[string]any

	err := NewRequest(http.MethodPost, "/x", nil).DecodeBody(&dst)
	assert.True(t, IsCode(err, ErrMissingCommandParameter))

	err = NewRequest(http.MethodPost, "/x", []byte("{nope")).DecodeBody(&dst)
	assert.True(t, IsCode(err, ErrMissingCommandParameter))

	require.NoError(t, NewRequest(http.MethodPost, "/x", []byte(`{"a":1}`)).DecodeBody(&dst))
	assert.Equal(t, float64(1), dst["a"])
}

func TestCommandHandlerFunc(t *testing.T) {
	h := CommandHandlerFunc(func(_ context.Context, req *Request) (*Response, error) {
		return &Response{Value: req.Path}, nil
	})
	resp, err := h.Handle(context.Background(), NewRequest(http.MethodGet, "/title", nil))
	require.NoError(t, err)
	assert.Equal(t, "/title", resp.Value)
}
