// supergraph 热重载协调器。
//
// 唯一的写者：串行消费文件变更、手动重载与版本回滚事件，
// 读取 → 校验 → 安装，失败时保持当前快照不变。
package schema

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 协调器类型定义 ---

// EventKind identifies what triggered a reconcile.
type EventKind int

const (
	// EventFileChange 文件可能已变化
	EventFileChange EventKind = iota
	// EventReload 手动重载
	EventReload
	// EventRollback 回滚到历史版本
	EventRollback
)

// String returns the string representation of EventKind
func (k EventKind) String() string {
	switch k {
	case EventFileChange:
		return "file"
	case EventReload:
		return "reload"
	case EventRollback:
		return "rollback"
	default:
		return "unknown"
	}
}

// ErrNotRunning is returned by requests made while the reconciler is stopped.
var ErrNotRunning = errors.New("schema reconciler is not running")

// ErrVersionNotFound is returned when a rollback target is not in history.
var ErrVersionNotFound = errors.New("schema version not found in history")

// InstallCallback 在新快照安装后调用
type InstallCallback func(prev, next *Snapshot)

// RejectCallback 在候选被拒绝后调用
type RejectCallback func(rejected *RejectedError)

type command struct {
	kind    EventKind
	version uint64
	reply   chan outcome
}

type outcome struct {
	snapshot *Snapshot
	err      error
}

// Reconciler applies supergraph changes to a Core, one at a time.
type Reconciler struct {
	core    *Core
	source  Source
	gate    *HealthGate
	watcher *FileWatcher
	store   RevisionStore
	logger  *zap.Logger

	changes  chan struct{}
	commands chan command

	mu             sync.RWMutex
	history        []*Snapshot // 已安装快照（环形缓冲）
	rejections     []*RejectedError
	maxHistorySize int
	lastVersion    uint64
	installCbs     []InstallCallback
	rejectCbs      []RejectCallback
	running        bool
	cancel         context.CancelFunc
	done           chan struct{}
}

// --- 协调器选项 ---

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithWatcher attaches a FileWatcher whose events trigger reconciles.
func WithWatcher(w *FileWatcher) ReconcilerOption {
	return func(r *Reconciler) {
		r.watcher = w
	}
}

// WithRevisionStore records every install and rejection.
func WithRevisionStore(s RevisionStore) ReconcilerOption {
	return func(r *Reconciler) {
		r.store = s
	}
}

// WithMaxHistorySize sets how many installed snapshots are kept for rollback.
func WithMaxHistorySize(size int) ReconcilerOption {
	return func(r *Reconciler) {
		if size > 0 {
			r.maxHistorySize = size
		}
	}
}

// WithReconcilerLogger sets the logger.
func WithReconcilerLogger(logger *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// --- 协调器实现 ---

// NewReconciler creates a Reconciler writing to core.
func NewReconciler(core *Core, source Source, gate *HealthGate, opts ...ReconcilerOption) *Reconciler {
	if gate == nil {
		gate = NewHealthGate()
	}
	r := &Reconciler{
		core:           core,
		source:         source,
		gate:           gate,
		logger:         zap.NewNop(),
		changes:        make(chan struct{}, 1),
		commands:       make(chan command),
		maxHistorySize: 10,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.watcher != nil {
		r.watcher.OnChange(func(ev FileEvent) {
			r.logger.Info("supergraph file changed",
				zap.String("path", ev.Path),
				zap.String("op", ev.Op.String()))
			r.signal()
		})
	}
	return r
}

// Bootstrap performs the startup load. Any failure is fatal to the caller.
func (r *Reconciler) Bootstrap(ctx context.Context) (*Snapshot, error) {
	doc, err := r.source.Load()
	if err != nil {
		return nil, err
	}
	snap, err := r.validate(ctx, doc)
	if err != nil {
		return nil, err
	}
	r.commit(ctx, snap, StatusInstalled)
	return snap, nil
}

// Start launches the reconcile loop and the watcher, if any.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("schema reconciler already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	if r.watcher != nil {
		if err := r.watcher.Start(loopCtx); err != nil {
			cancel()
			return fmt.Errorf("failed to start supergraph watcher: %w", err)
		}
	}

	r.running = true
	go r.run(loopCtx, r.done)

	r.logger.Info("schema reconciler started",
		zap.Bool("watching", r.watcher != nil),
		zap.Int("history_size", r.maxHistorySize))
	return nil
}

// Stop ends the loop. The watcher is always released.
func (r *Reconciler) Stop() (err error) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	defer func() {
		if r.watcher != nil {
			if werr := r.watcher.Stop(); werr != nil {
				r.logger.Error("failed to stop supergraph watcher", zap.Error(werr))
				err = werr
			}
		}
	}()

	cancel()
	<-done
	r.logger.Info("schema reconciler stopped")
	return nil
}

// Inject queues a synthetic file change. Pending changes coalesce.
func (r *Reconciler) Inject(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.signal()
	return nil
}

func (r *Reconciler) signal() {
	select {
	case r.changes <- struct{}{}:
	default:
		// 已有待处理的变更，本次合并
	}
}

// Reload re-reads the source and returns the resulting active snapshot.
func (r *Reconciler) Reload(ctx context.Context) (*Snapshot, error) {
	return r.request(ctx, command{kind: EventReload})
}

// Rollback re-installs the snapshot recorded under version.
func (r *Reconciler) Rollback(ctx context.Context, version uint64) (*Snapshot, error) {
	return r.request(ctx, command{kind: EventRollback, version: version})
}

func (r *Reconciler) request(ctx context.Context, cmd command) (*Snapshot, error) {
	r.mu.RLock()
	running, done := r.running, r.done
	r.mu.RUnlock()
	if !running {
		return nil, ErrNotRunning
	}

	cmd.reply = make(chan outcome, 1)
	select {
	case r.commands <- cmd:
	case <-done:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out := <-cmd.reply:
		return out.snapshot, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Reconciler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.changes:
			_, _ = r.reconcile(ctx, EventFileChange)
		case cmd := <-r.commands:
			var out outcome
			switch cmd.kind {
			case EventRollback:
				out.snapshot, out.err = r.rollback(ctx, cmd.version)
			default:
				out.snapshot, out.err = r.reconcile(ctx, cmd.kind)
			}
			cmd.reply <- out
		}
	}
}

// reconcile reads the source and installs it when it is new and valid.
func (r *Reconciler) reconcile(ctx context.Context, kind EventKind) (*Snapshot, error) {
	doc, err := r.source.Load()
	if err != nil {
		r.logger.Warn("supergraph read failed, keeping active schema",
			zap.String("trigger", kind.String()),
			zap.Error(err))
		return r.core.Current(), err
	}

	cur := r.core.Current()
	if cur != nil && cur.Document.Checksum == doc.Checksum {
		r.logger.Debug("supergraph unchanged",
			zap.String("trigger", kind.String()),
			zap.Uint64("version", cur.Version()))
		return cur, nil
	}

	snap, err := r.validate(ctx, doc)
	if err != nil {
		return r.core.Current(), err
	}
	r.commit(ctx, snap, StatusInstalled)
	return snap, nil
}

// validate assigns the next version and runs the HealthGate.
func (r *Reconciler) validate(ctx context.Context, doc *Document) (*Snapshot, error) {
	r.mu.Lock()
	r.lastVersion++
	doc = doc.withVersion(r.lastVersion)
	r.mu.Unlock()

	snap, err := r.gate.Check(ctx, doc)
	if err == nil {
		return snap, nil
	}

	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		rejected = &RejectedError{Version: doc.Version, Checksum: doc.Checksum, Reason: err.Error(), Cause: err}
	}
	r.logger.Error("supergraph candidate rejected, keeping active schema",
		zap.Uint64("version", doc.Version),
		zap.String("checksum", doc.Checksum),
		zap.String("reason", rejected.Reason))

	r.mu.Lock()
	r.rejections = append(r.rejections, rejected)
	if len(r.rejections) > r.maxHistorySize {
		r.rejections = r.rejections[len(r.rejections)-r.maxHistorySize:]
	}
	cbs := append([]RejectCallback(nil), r.rejectCbs...)
	r.mu.Unlock()

	r.record(ctx, doc, StatusRejected, rejected.Reason)
	for _, cb := range cbs {
		r.safely("reject", func() { cb(rejected) })
	}
	return nil, rejected
}

// rollback publishes the supergraph of an earlier version under a new version.
func (r *Reconciler) rollback(ctx context.Context, version uint64) (*Snapshot, error) {
	r.mu.RLock()
	var target *Snapshot
	for _, s := range r.history {
		if s.Document.Version == version {
			target = s
			break
		}
	}
	r.mu.RUnlock()

	if target == nil {
		return r.core.Current(), fmt.Errorf("%w: %d", ErrVersionNotFound, version)
	}
	cur := r.core.Current()
	if cur != nil && cur.Document.Checksum == target.Document.Checksum {
		return cur, nil
	}

	r.mu.Lock()
	r.lastVersion++
	doc := &Document{
		SDL:      target.Document.SDL,
		Version:  r.lastVersion,
		Checksum: target.Document.Checksum,
		Source:   fmt.Sprintf("rollback:%d", version),
		LoadedAt: time.Now(),
	}
	r.mu.Unlock()

	snap := &Snapshot{Document: doc, Supergraph: target.Supergraph}
	r.commit(ctx, snap, StatusRolledBack)
	r.logger.Warn("supergraph rolled back",
		zap.Uint64("target_version", version),
		zap.Uint64("version", doc.Version))
	return snap, nil
}

// commit publishes snap and notifies observers.
func (r *Reconciler) commit(ctx context.Context, snap *Snapshot, status string) {
	snap.InstalledAt = time.Now()
	prev := r.core.install(snap)

	r.mu.Lock()
	r.history = append(r.history, snap)
	if len(r.history) > r.maxHistorySize {
		r.history = r.history[len(r.history)-r.maxHistorySize:]
	}
	cbs := append([]InstallCallback(nil), r.installCbs...)
	r.mu.Unlock()

	r.logger.Info("supergraph installed",
		zap.Uint64("version", snap.Version()),
		zap.String("checksum", snap.Document.Checksum),
		zap.String("source", snap.Document.Source),
		zap.Uint64("previous_version", prev.Version()),
		zap.Int("subgraphs", len(snap.Supergraph.Subgraphs())))

	r.record(ctx, snap.Document, status, "")
	for _, cb := range cbs {
		r.safely("install", func() { cb(prev, snap) })
	}
}

func (r *Reconciler) record(ctx context.Context, doc *Document, status, reason string) {
	if r.store == nil {
		return
	}
	rev := &Revision{
		Version:  doc.Version,
		Checksum: doc.Checksum,
		Source:   doc.Source,
		Status:   status,
		Reason:   reason,
		SDLSize:  len(doc.SDL),
	}
	if err := r.store.Record(ctx, rev); err != nil {
		r.logger.Warn("failed to record schema revision",
			zap.Uint64("version", doc.Version), zap.Error(err))
	}
}

// safely runs a callback, recovering panics.
func (r *Reconciler) safely(kind string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("schema callback panicked",
				zap.String("callback", kind), zap.Any("panic", p))
		}
	}()
	fn()
}

// OnInstall registers a callback run after each install.
func (r *Reconciler) OnInstall(cb InstallCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.installCbs = append(r.installCbs, cb)
}

// OnReject registers a callback run after each rejection.
func (r *Reconciler) OnReject(cb RejectCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejectCbs = append(r.rejectCbs, cb)
}

// History returns the retained installed snapshots, oldest first.
func (r *Reconciler) History() []*Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Snapshot, len(r.history))
	copy(out, r.history)
	return out
}

// Rejections returns the retained rejections, oldest first.
func (r *Reconciler) Rejections() []*RejectedError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RejectedError, len(r.rejections))
	copy(out, r.rejections)
	return out
}

// Revisions lists persisted revisions, newest first.
func (r *Reconciler) Revisions(ctx context.Context, limit int) ([]Revision, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.List(ctx, limit)
}

// Core returns the Core this reconciler writes to.
func (r *Reconciler) Core() *Core {
	return r.core
}

// IsRunning reports whether the loop is active.
func (r *Reconciler) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}
