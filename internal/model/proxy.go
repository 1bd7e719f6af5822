// Package model defines shared types for the gateway.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest is an inbound request bound for the upstream.
// Path is the escaped inbound path; RawQuery is forwarded byte-for-byte.
type ProxyRequest struct {
	Ctx      context.Context
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     io.ReadCloser
	// ContentLength mirrors http.Request.ContentLength (-1 when unknown).
	ContentLength int64
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
