package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/fedgateway/schema"
	"github.com/BaSui01/fedgateway/types"
)

// =============================================================================
// 🛠️ Schema 管理接口
// =============================================================================

// SchemaAdminHandler 暴露活动 schema 的查询、重载与回滚
type SchemaAdminHandler struct {
	reconciler *schema.Reconciler
	logger     *zap.Logger
}

// SchemaView 是快照的对外表示
type SchemaView struct {
	Version     uint64         `json:"version"`
	Checksum    string         `json:"checksum"`
	Source      string         `json:"source"`
	LoadedAt    time.Time      `json:"loaded_at"`
	InstalledAt time.Time      `json:"installed_at"`
	Subgraphs   []SubgraphView `json:"subgraphs"`
	SDL         string         `json:"sdl,omitempty"`
}

// SubgraphView 子图名称与地址
type SubgraphView struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// RejectionView 一次被拒绝的候选
type RejectionView struct {
	Version  uint64 `json:"version"`
	Checksum string `json:"checksum"`
	Reason   string `json:"reason"`
}

// HistoryView 历史与拒绝记录
type HistoryView struct {
	Active     uint64          `json:"active"`
	Snapshots  []SchemaView    `json:"snapshots"`
	Rejections []RejectionView `json:"rejections"`
}

// NewSchemaAdminHandler 创建管理接口处理器
func NewSchemaAdminHandler(reconciler *schema.Reconciler, logger *zap.Logger) *SchemaAdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaAdminHandler{
		reconciler: reconciler,
		logger:     logger.With(zap.String("component", "schema_admin")),
	}
}

// RegisterRoutes 注册管理路由，wrap 用于套上鉴权中间件
func (h *SchemaAdminHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("/admin/schema", wrap(http.HandlerFunc(h.HandleSchema)))
	mux.Handle("/admin/schema/history", wrap(http.HandlerFunc(h.HandleHistory)))
	mux.Handle("/admin/schema/revisions", wrap(http.HandlerFunc(h.HandleRevisions)))
	mux.Handle("/admin/schema/reload", wrap(http.HandlerFunc(h.HandleReload)))
	mux.Handle("/admin/schema/rollback", wrap(http.HandlerFunc(h.HandleRollback)))
}

// HandleSchema GET /admin/schema，?sdl=true 时附带文档原文
func (h *SchemaAdminHandler) HandleSchema(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, http.MethodGet) {
		return
	}
	snap := h.reconciler.Core().Current()
	if snap == nil {
		WriteError(w, r, types.NewError(types.ErrSchemaUnavailable, "no active supergraph schema"), h.logger)
		return
	}
	WriteSuccess(w, r, viewOf(snap, r.URL.Query().Get("sdl") == "true"))
}

// HandleHistory GET /admin/schema/history
func (h *SchemaAdminHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, http.MethodGet) {
		return
	}
	history := h.reconciler.History()
	rejections := h.reconciler.Rejections()

	out := HistoryView{
		Active:     h.reconciler.Core().Current().Version(),
		Snapshots:  make([]SchemaView, 0, len(history)),
		Rejections: make([]RejectionView, 0, len(rejections)),
	}
	for _, s := range history {
		out.Snapshots = append(out.Snapshots, viewOf(s, false))
	}
	for _, rej := range rejections {
		out.Rejections = append(out.Rejections, RejectionView{
			Version:  rej.Version,
			Checksum: rej.Checksum,
			Reason:   rej.Reason,
		})
	}
	WriteSuccess(w, r, out)
}

// HandleRevisions GET /admin/schema/revisions?limit=N
func (h *SchemaAdminHandler) HandleRevisions(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, http.MethodGet) {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l <= 0 {
			WriteError(w, r, types.NewError(types.ErrInvalidRequest, "limit must be a positive integer"), h.logger)
			return
		}
		limit = l
	}

	revs, err := h.reconciler.Revisions(r.Context(), limit)
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrInternalError, "failed to list schema revisions").WithCause(err), h.logger)
		return
	}
	if revs == nil {
		revs = []schema.Revision{}
	}
	WriteSuccess(w, r, revs)
}

// HandleReload POST /admin/schema/reload
func (h *SchemaAdminHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, http.MethodPost) {
		return
	}
	snap, err := h.reconciler.Reload(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("schema reloaded via admin API", zap.Uint64("version", snap.Version()))
	WriteSuccess(w, r, viewOf(snap, false))
}

// HandleRollback POST /admin/schema/rollback?version=N
func (h *SchemaAdminHandler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, http.MethodPost) {
		return
	}
	version, err := strconv.ParseUint(r.URL.Query().Get("version"), 10, 64)
	if err != nil || version == 0 {
		WriteError(w, r, types.NewError(types.ErrInvalidRequest, "version must be a positive integer"), h.logger)
		return
	}

	snap, err := h.reconciler.Rollback(r.Context(), version)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("schema rolled back via admin API",
		zap.Uint64("target", version),
		zap.Uint64("version", snap.Version()))
	WriteSuccess(w, r, viewOf(snap, false))
}

// --- 辅助方法 ---

func (h *SchemaAdminHandler) allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	WriteError(w, r, types.NewError(types.ErrMethodNotAllowed,
		fmt.Sprintf("Method %s not allowed", r.Method)), h.logger)
	return false
}

// fail 将协调器错误映射为管理接口响应
func (h *SchemaAdminHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var rejected *schema.RejectedError
	switch {
	case errors.As(err, &rejected):
		WriteError(w, r, types.NewError(types.ErrSchemaInvalid, rejected.Reason).WithCause(err), h.logger)
	case errors.Is(err, schema.ErrVersionNotFound):
		WriteError(w, r, types.NewError(types.ErrInvalidRequest, err.Error()).WithHTTPStatus(http.StatusNotFound), h.logger)
	case errors.Is(err, schema.ErrNotRunning):
		WriteError(w, r, types.NewError(types.ErrSchemaUnavailable, err.Error()), h.logger)
	default:
		if te, ok := types.AsError(err); ok {
			WriteError(w, r, te, h.logger)
			return
		}
		WriteError(w, r, types.NewError(types.ErrInternalError, "schema reconcile failed").WithCause(err), h.logger)
	}
}

func viewOf(s *schema.Snapshot, withSDL bool) SchemaView {
	v := SchemaView{
		Version:     s.Version(),
		Checksum:    s.Document.Checksum,
		Source:      s.Document.Source,
		LoadedAt:    s.Document.LoadedAt,
		InstalledAt: s.InstalledAt,
	}
	for _, sg := range s.Supergraph.Subgraphs() {
		v.Subgraphs = append(v.Subgraphs, SubgraphView{Name: sg.Name, URL: sg.URL})
	}
	if withSDL {
		v.SDL = s.Document.SDL
	}
	return v
}
