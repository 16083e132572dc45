package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"go.uber.org/zap"

	"github.com/BaSui01/fedgateway/federation"
	"github.com/BaSui01/fedgateway/internal/metrics"
	"github.com/BaSui01/fedgateway/schema"
	"github.com/BaSui01/fedgateway/types"
)

const maxRequestBody = 8 << 20

// =============================================================================
// 🌐 GraphQL HTTP 处理器
// =============================================================================

// Handler serves GraphQL over HTTP against the active supergraph.
type Handler struct {
	core      *schema.Core
	builder   *ContextBuilder
	executor  *federation.Executor
	apq       *PersistedQueries
	debug     bool
	dsOpts    []DataSourceOption
	collector *metrics.Collector
	logger    *zap.Logger

	playground http.HandlerFunc
	sources    atomic.Pointer[sourceSet]
}

// sourceSet holds the DataSources built for one snapshot.
type sourceSet struct {
	snapshot *schema.Snapshot
	byName   map[string]*DataSource
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithDebug enables introspection and the playground page.
func WithDebug(debug bool) HandlerOption {
	return func(h *Handler) { h.debug = debug }
}

// WithContextBuilder sets the identity builder.
func WithContextBuilder(b *ContextBuilder) HandlerOption {
	return func(h *Handler) {
		if b != nil {
			h.builder = b
		}
	}
}

// WithExecutor sets the step executor.
func WithExecutor(e *federation.Executor) HandlerOption {
	return func(h *Handler) {
		if e != nil {
			h.executor = e
		}
	}
}

// WithPersistedQueries enables APQ.
func WithPersistedQueries(p *PersistedQueries) HandlerOption {
	return func(h *Handler) { h.apq = p }
}

// WithDataSourceOptions applies opts to every DataSource the handler creates.
func WithDataSourceOptions(opts ...DataSourceOption) HandlerOption {
	return func(h *Handler) { h.dsOpts = append(h.dsOpts, opts...) }
}

// WithHandlerMetrics records operations in c.
func WithHandlerMetrics(c *metrics.Collector) HandlerOption {
	return func(h *Handler) { h.collector = c }
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(l *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler creates the GraphQL endpoint mounted at path.
func NewHandler(core *schema.Core, path string, opts ...HandlerOption) *Handler {
	h := &Handler{
		core:     core,
		builder:  NewContextBuilder(""),
		executor: federation.NewExecutor(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if path == "" {
		path = "/"
	}
	h.playground = playground.Handler("fedgateway", path)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := h.builder.Build(r)
	ctx := WithRequestContext(r.Context(), rc)

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		h.fail(w, rc, types.NewError(types.ErrMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method)))
		return
	}

	if r.Method == http.MethodGet && r.URL.Query().Get("query") == "" && acceptsHTML(r) {
		h.landingPage(w, r, rc)
		return
	}

	req, err := decodeRequest(r)
	if err != nil {
		h.fail(w, rc, err)
		return
	}
	if err := h.apq.Resolve(ctx, req); err != nil {
		h.fail(w, rc, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.fail(w, rc, types.NewError(types.ErrInvalidRequest, "GraphQL operations must contain a non-empty `query`"))
		return
	}

	// 整个请求只使用这一个快照
	snap := h.core.Current()
	if snap == nil {
		h.fail(w, rc, types.NewError(types.ErrSchemaUnavailable, "no supergraph has been loaded"))
		return
	}
	ctx = types.WithSchemaVersion(ctx, snap.Version())

	doc, errs := gqlparser.LoadQuery(snap.Supergraph.Schema, req.Query)
	if len(errs) > 0 {
		code := types.ErrValidationFailed
		if _, perr := parser.ParseQuery(&ast.Source{Input: req.Query}); perr != nil {
			code = types.ErrParseFailed
		}
		h.collector.RecordOperation("unknown", string(code))
		h.write(w, rc, http.StatusBadRequest, &types.GraphQLResponse{Errors: convertErrors(code, errs)})
		return
	}

	plan, err := snap.Supergraph.Plan(doc, req.OperationName, req.Variables)
	if err != nil {
		h.fail(w, rc, err)
		return
	}
	opType := string(plan.Operation.Operation)
	if opType == "" {
		opType = string(ast.Query)
	}

	if r.Method == http.MethodGet && plan.Operation.Operation == ast.Mutation {
		w.Header().Set("Allow", "POST")
		h.fail(w, rc, types.NewError(types.ErrMethodNotAllowed, "mutations are only allowed over POST"))
		return
	}
	if plan.HasIntrospection() {
		if !h.debug {
			h.collector.RecordOperation("introspection", string(types.ErrIntrospectionDisabled))
			h.fail(w, rc, types.NewError(types.ErrIntrospectionDisabled,
				"GraphQL introspection is not allowed, but the query contained __schema or __type"))
			return
		}
		opType = "introspection"
	}

	sources := h.sourcesFor(snap)
	dispatch := federation.DispatcherFunc(func(ctx context.Context, step *federation.Step) (*types.GraphQLResponse, error) {
		ds, ok := sources.byName[step.Subgraph.Name]
		if !ok {
			ds = NewDataSource(step.Subgraph, h.dsOpts...)
		}
		return ds.Fetch(ctx, step, rc)
	})

	resp := h.executor.Execute(ctx, doc, plan, dispatch)

	outcome := "ok"
	if len(resp.Errors) > 0 {
		outcome = "partial"
	}
	h.collector.RecordOperation(opType, outcome)
	h.logger.Debug("graphql operation executed",
		zap.String("operation", plan.Operation.Name),
		zap.String("type", opType),
		zap.Int("steps", len(plan.Steps)),
		zap.Uint64("schema_version", snap.Version()),
		zap.Bool("authenticated", rc.Authenticated()),
		zap.Int("errors", len(resp.Errors)))

	h.write(w, rc, http.StatusOK, resp)
}

// sourcesFor returns the DataSources of snap, building them on first use.
func (h *Handler) sourcesFor(snap *schema.Snapshot) *sourceSet {
	if cur := h.sources.Load(); cur != nil && cur.snapshot == snap {
		return cur
	}
	set := &sourceSet{snapshot: snap, byName: make(map[string]*DataSource)}
	for _, sg := range snap.Supergraph.Subgraphs() {
		set.byName[sg.Name] = NewDataSource(sg, h.dsOpts...)
	}
	h.sources.Store(set)
	return set
}

func (h *Handler) landingPage(w http.ResponseWriter, r *http.Request, rc *RequestContext) {
	if !h.debug {
		h.write(w, rc, http.StatusNotFound, types.ErrorResponse(
			types.NewError(types.ErrInvalidRequest, "GET query missing")))
		return
	}
	h.playground(w, r)
}

// fail writes err as a data-less GraphQL response.
func (h *Handler) fail(w http.ResponseWriter, rc *RequestContext, err error) {
	te, ok := types.AsError(err)
	if !ok {
		te = types.NewError(types.ErrInternalError, "internal error").WithCause(err)
	}
	if te.Code == types.ErrInternalError {
		h.logger.Error("graphql request failed", zap.Error(err))
	}
	h.write(w, rc, te.Status(), types.ErrorResponse(te))
}

func (h *Handler) write(w http.ResponseWriter, rc *RequestContext, status int, resp *types.GraphQLResponse) {
	// 子图响应头先于本地头写入，避免覆盖 Content-Type
	rc.Response.CopyTo(w.Header())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("failed to write graphql response", zap.Error(err))
	}
}

// =============================================================================
// 🔧 请求解码
// =============================================================================

func decodeRequest(r *http.Request) (*types.GraphQLRequest, error) {
	if r.Method == http.MethodGet {
		return decodeQueryParams(r)
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return nil, types.NewError(types.ErrInvalidRequest,
				"POST body must be application/json")
		}
	}

	var req types.GraphQLRequest
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid JSON body").WithCause(err)
	}
	normalizeNumbers(req.Variables)
	return &req, nil
}

func decodeQueryParams(r *http.Request) (*types.GraphQLRequest, error) {
	q := r.URL.Query()
	req := &types.GraphQLRequest{
		Query:         q.Get("query"),
		OperationName: q.Get("operationName"),
	}
	if v := q.Get("variables"); v != "" {
		dec := json.NewDecoder(strings.NewReader(v))
		dec.UseNumber()
		if err := dec.Decode(&req.Variables); err != nil {
			return nil, types.NewError(types.ErrInvalidRequest, "variables must be a JSON object").WithCause(err)
		}
		normalizeNumbers(req.Variables)
	}
	if v := q.Get("extensions"); v != "" {
		if err := json.Unmarshal([]byte(v), &req.Extensions); err != nil {
			return nil, types.NewError(types.ErrInvalidRequest, "extensions must be a JSON object").WithCause(err)
		}
	}
	return req, nil
}

// normalizeNumbers turns json.Number values into int64 or float64, the
// shapes variable coercion understands.
func normalizeNumbers(m map[string]any) {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		normalizeNumbers(t)
		return t
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	default:
		return v
	}
}

func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func convertErrors(code types.ErrorCode, list gqlerror.List) []types.GraphQLError {
	out := make([]types.GraphQLError, 0, len(list))
	for _, e := range list {
		if e == nil {
			continue
		}
		ge := types.GraphQLError{
			Message:    e.Message,
			Extensions: map[string]any{"code": string(code)},
		}
		for _, loc := range e.Locations {
			ge.Locations = append(ge.Locations, types.Location{Line: loc.Line, Column: loc.Column})
		}
		out = append(out, ge)
	}
	return out
}
