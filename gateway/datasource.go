package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/fedgateway/federation"
	"github.com/BaSui01/fedgateway/internal/metrics"
	"github.com/BaSui01/fedgateway/internal/telemetry"
	"github.com/BaSui01/fedgateway/types"
)

// Backend-facing identity headers.
const (
	HeaderUser    = "user"
	HeaderSession = "session"
	HeaderCookies = "cookies"
)

const maxUpstreamBody = 32 << 20

// UpstreamResult is one subgraph HTTP response.
type UpstreamResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// =============================================================================
// 🔀 DataSource
// =============================================================================

// DataSource proxies planned steps to one subgraph.
type DataSource struct {
	subgraph    *federation.Subgraph
	client      *http.Client
	timeout     time.Duration
	collector   *metrics.Collector
	otelMetrics *telemetry.SubgraphMetrics
	logger      *zap.Logger
}

// DataSourceOption configures a DataSource.
type DataSourceOption func(*DataSource)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) DataSourceOption {
	return func(d *DataSource) {
		if c != nil {
			d.client = c
		}
	}
}

// WithFetchTimeout bounds each subgraph call.
func WithFetchTimeout(t time.Duration) DataSourceOption {
	return func(d *DataSource) { d.timeout = t }
}

// WithMetrics records subgraph calls in c.
func WithMetrics(c *metrics.Collector) DataSourceOption {
	return func(d *DataSource) { d.collector = c }
}

// WithOTelMetrics records subgraph calls in OTel instruments as well.
func WithOTelMetrics(m *telemetry.SubgraphMetrics) DataSourceOption {
	return func(d *DataSource) { d.otelMetrics = m }
}

// WithDataSourceLogger sets the logger.
func WithDataSourceLogger(l *zap.Logger) DataSourceOption {
	return func(d *DataSource) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDataSource creates a proxy for sg.
func NewDataSource(sg *federation.Subgraph, opts ...DataSourceOption) *DataSource {
	d := &DataSource{
		subgraph: sg,
		client:   http.DefaultClient,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.String("subgraph", sg.Name))
	return d
}

// Subgraph returns the target subgraph.
func (d *DataSource) Subgraph() *federation.Subgraph {
	return d.subgraph
}

// BuildEnvelope creates the subgraph request for step. rc may be nil.
func (d *DataSource) BuildEnvelope(ctx context.Context, step *federation.Step, rc *RequestContext) (*http.Request, error) {
	body, err := json.Marshal(types.GraphQLRequest{
		Query:         step.Query,
		OperationName: step.OperationName,
		Variables:     step.Variables,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request for %s: %w", d.subgraph.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.subgraph.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", d.subgraph.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var (
		identity any
		session  any
		cookies  any
	)
	if rc != nil {
		if rc.Identity != nil {
			identity = rc.Identity
		}
		if rc.Session != nil {
			session = *rc.Session
		}
		if rc.Cookies != nil {
			cookies = rc.Cookies
		}
	}
	for name, v := range map[string]any{HeaderUser: identity, HeaderSession: session, HeaderCookies: cookies} {
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s header: %w", name, err)
		}
		req.Header.Set(name, string(encoded))
	}

	if id, ok := types.RequestID(ctx); ok {
		req.Header.Set("X-Request-ID", id)
	}
	return req, nil
}

// OnUpstreamResult copies the subgraph's response headers onto the client
// response. Each call merges under one lock.
func (d *DataSource) OnUpstreamResult(result *UpstreamResult, sink *ResponseHeaders) {
	if result == nil || sink == nil {
		return
	}
	sink.Merge(PassthroughHeaders(result.Header))
}

// Fetch sends step to the subgraph and decodes its GraphQL response.
func (d *DataSource) Fetch(ctx context.Context, step *federation.Step, rc *RequestContext) (*types.GraphQLResponse, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	record := func(status int) {
		elapsed := time.Since(start)
		d.collector.RecordSubgraphRequest(d.subgraph.Name, status, elapsed)
		d.otelMetrics.Record(ctx, d.subgraph.Name, status, elapsed)
	}

	req, err := d.BuildEnvelope(ctx, step, rc)
	if err != nil {
		record(0)
		return nil, types.NewError(types.ErrInternalError, err.Error()).WithCause(err).WithService(d.subgraph.Name)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		record(0)
		return nil, d.transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		record(resp.StatusCode)
		return nil, d.transportError(ctx, err)
	}

	result := &UpstreamResult{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
	if rc != nil {
		d.OnUpstreamResult(result, rc.Response)
	}

	out, err := d.decode(result)
	record(resp.StatusCode)
	if err != nil {
		d.logger.Warn("subgraph call failed",
			zap.Int("status", resp.StatusCode),
			zap.String("operation", step.OperationName),
			zap.Error(err))
		return nil, err
	}
	return out, nil
}

// Dispatch implements federation.Dispatcher using the RequestContext stored in ctx.
func (d *DataSource) Dispatch(ctx context.Context, step *federation.Step) (*types.GraphQLResponse, error) {
	rc, _ := RequestContextFrom(ctx)
	return d.Fetch(ctx, step, rc)
}

// decode accepts any status whose body is a GraphQL response; other bodies
// are failures.
func (d *DataSource) decode(result *UpstreamResult) (*types.GraphQLResponse, error) {
	var out types.GraphQLResponse
	decodeErr := json.Unmarshal(result.Body, &out)
	wellFormed := decodeErr == nil && (len(out.Data) > 0 || len(out.Errors) > 0)

	ok := result.StatusCode >= 200 && result.StatusCode < 300
	switch {
	case wellFormed:
		return &out, nil
	case !ok:
		return nil, types.NewError(types.ErrDownstreamService,
			fmt.Sprintf("subgraph %s responded with HTTP %d", d.subgraph.Name, result.StatusCode)).
			WithRetryable(retryableStatus(result.StatusCode)).
			WithService(d.subgraph.Name)
	case decodeErr != nil:
		return nil, types.NewError(types.ErrDownstreamService,
			fmt.Sprintf("subgraph %s returned an invalid GraphQL response", d.subgraph.Name)).
			WithCause(decodeErr).WithService(d.subgraph.Name)
	default:
		return nil, types.NewError(types.ErrDownstreamService,
			fmt.Sprintf("subgraph %s returned neither data nor errors", d.subgraph.Name)).
			WithService(d.subgraph.Name)
	}
}

func (d *DataSource) transportError(ctx context.Context, err error) error {
	code := types.ErrDownstreamService
	msg := fmt.Sprintf("subgraph %s unreachable", d.subgraph.Name)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		code = types.ErrUpstreamTimeout
		msg = fmt.Sprintf("subgraph %s timed out", d.subgraph.Name)
	}
	// 调用方自己取消的请求不值得重试
	retryable := !errors.Is(ctx.Err(), context.Canceled)
	return types.NewError(code, msg).WithCause(err).WithRetryable(retryable).WithService(d.subgraph.Name)
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return true
	}
	return false
}

// =============================================================================
// 📨 响应头透传
// =============================================================================

// excludedHeaders describe the subgraph's own byte stream or belong to the
// gateway's CORS policy.
var excludedHeaders = map[string]struct{}{
	"Content-Length":    {},
	"Content-Type":      {},
	"Content-Encoding":  {},
	"Transfer-Encoding": {},
	"Connection":        {},
	"Keep-Alive":        {},
	"Trailer":           {},
	"Upgrade":           {},
	"Te":                {},
}

// IsPassthroughHeader reports whether a subgraph response header is copied to
// the client.
func IsPassthroughHeader(name string) bool {
	canonical := textproto.CanonicalMIMEHeaderKey(name)
	if _, ok := excludedHeaders[canonical]; ok {
		return false
	}
	return !strings.HasPrefix(canonical, "Proxy-") && !strings.HasPrefix(canonical, "Access-Control-")
}

// PassthroughHeaders returns the subset of h copied to the client.
func PassthroughHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		if !IsPassthroughHeader(k) {
			continue
		}
		key := textproto.CanonicalMIMEHeaderKey(k)
		out[key] = append(out[key], vs...)
	}
	return out
}
