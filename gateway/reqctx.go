package gateway

import (
	"context"
	"net/http"
	"sync"
)

// Claims are the verified claims of an identity token.
type Claims map[string]any

// RequestContext is the per-request identity record. It is built once by the
// ContextBuilder and read-only afterwards.
type RequestContext struct {
	// Identity is nil for anonymous callers.
	Identity Claims
	// Session is the raw token, nil when the request carried none.
	Session *string
	// Cookies holds every request cookie, nil when there were none.
	Cookies map[string]string
	// Request is the inbound request.
	Request *http.Request
	// Response collects headers to write to the client.
	Response *ResponseHeaders
}

// Authenticated reports whether the caller presented a valid token.
func (rc *RequestContext) Authenticated() bool {
	return rc != nil && rc.Identity != nil
}

type requestContextKey struct{}

// WithRequestContext stores rc in ctx.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom returns the RequestContext stored in ctx.
func RequestContextFrom(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc, ok && rc != nil
}

// ResponseHeaders accumulates subgraph response headers for one client response.
// Sub-calls of a request finish concurrently; each Merge is atomic.
type ResponseHeaders struct {
	mu     sync.Mutex
	header http.Header
}

// NewResponseHeaders creates an empty sink.
func NewResponseHeaders() *ResponseHeaders {
	return &ResponseHeaders{header: make(http.Header)}
}

// Merge appends every value of src under one lock acquisition.
func (h *ResponseHeaders) Merge(src http.Header) {
	if len(src) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, vs := range src {
		for _, v := range vs {
			h.header.Add(k, v)
		}
	}
}

// Header returns a copy of the accumulated headers.
func (h *ResponseHeaders) Header() http.Header {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.header.Clone()
}

// CopyTo appends the accumulated headers onto dst.
func (h *ResponseHeaders) CopyTo(dst http.Header) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, vs := range h.header {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
