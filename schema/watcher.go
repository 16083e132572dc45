// supergraph 文件变更监听器。
//
// 监听文件所在目录（可捕获原子 rename 与 symlink 切换），并以
// mtime/size 轮询兜底；事件经过去抖后派发给回调。
package schema

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileWatcher reports that the supergraph file may have changed.
type FileWatcher struct {
	mu sync.RWMutex

	// 配置
	path          string
	dir           string
	pollInterval  time.Duration
	debounceDelay time.Duration

	// 状态
	running   bool
	stopChan  chan struct{}
	eventChan chan FileEvent
	wg        sync.WaitGroup
	fsw       *fsnotify.Watcher

	// 回调
	callbacks []func(event FileEvent)

	// 记录器
	logger *zap.Logger

	// 轮询使用的上一次文件状态
	last fileState
}

type fileState struct {
	exists  bool
	modTime time.Time
	size    int64
}

// FileEvent represents a file change event
type FileEvent struct {
	// Path是改变的文件路径
	Path string `json:"path"`

	// op 是操作类型
	Op FileOp `json:"op"`

	// 时间戳是事件发生的时间
	Timestamp time.Time `json:"timestamp"`
}

// FileOp represents file operation types
type FileOp int

const (
	// FileOpCreate 表示文件已创建
	FileOpCreate FileOp = iota
	// FileOpWrite 指示文件已被修改
	FileOpWrite
	// FileOpRemove 表示文件已被删除
	FileOpRemove
	// FileOpRename 表示文件已重命名
	FileOpRename
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	case FileOpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithDebounceDelay sets the debounce delay for file events
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.debounceDelay = d
		}
	}
}

// WithPollInterval sets the polling fallback interval
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		w.logger = logger
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher creates a watcher for one file.
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	w := &FileWatcher{
		path:          abs,
		dir:           filepath.Dir(abs),
		pollInterval:  time.Second,
		debounceDelay: 250 * time.Millisecond,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	if _, err := os.Stat(abs); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat path %s: %w", abs, err)
		}
		w.logger.Warn("supergraph file does not exist, will watch for creation",
			zap.String("path", abs))
	}
	return w, nil
}

// Path returns the watched file.
func (w *FileWatcher) Path() string {
	return w.path
}

// OnChange registers a callback for file change events
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching. A stopped watcher may be started again.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	w.stopChan = make(chan struct{})
	w.eventChan = make(chan FileEvent, 16)
	w.last = stat(w.path)

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		if err = fsw.Add(w.dir); err != nil {
			_ = fsw.Close()
			fsw = nil
		}
	}
	if err != nil {
		// 只剩轮询
		w.logger.Warn("fsnotify unavailable, falling back to polling",
			zap.String("dir", w.dir), zap.Error(err))
	}
	w.fsw = fsw
	w.running = true

	stop := w.stopChan
	if fsw != nil {
		w.wg.Add(1)
		go w.notifyLoop(ctx, fsw, stop)
	}
	w.wg.Add(2)
	go w.pollLoop(ctx, stop)
	go w.dispatchLoop(ctx, stop)

	w.logger.Info("supergraph watcher started",
		zap.String("path", w.path),
		zap.Bool("fsnotify", fsw != nil),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Duration("debounce_delay", w.debounceDelay))
	return nil
}

// Stop stops the watcher and releases the notification handle.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	close(w.stopChan)
	fsw := w.fsw
	w.fsw = nil
	w.running = false
	w.mu.Unlock()

	var err error
	if fsw != nil {
		err = fsw.Close()
	}
	w.wg.Wait()

	w.logger.Info("supergraph watcher stopped", zap.String("path", w.path))
	return err
}

// IsRunning returns whether the watcher is running
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *FileWatcher) emit(ev FileEvent, stop <-chan struct{}) {
	select {
	case w.eventChan <- ev:
	case <-stop:
	}
}

// relevant reports whether a directory event can affect the watched file.
// Kubernetes ConfigMap volumes swap a "..data" symlink instead of the file.
func (w *FileWatcher) relevant(name string) bool {
	if filepath.Clean(name) == w.path {
		return true
	}
	return strings.HasPrefix(filepath.Base(name), "..")
}

func (w *FileWatcher) notifyLoop(ctx context.Context, fsw *fsnotify.Watcher, stop <-chan struct{}) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev.Name) {
				continue
			}
			var op FileOp
			switch {
			case ev.Has(fsnotify.Create):
				op = FileOpCreate
			case ev.Has(fsnotify.Write):
				op = FileOpWrite
			case ev.Has(fsnotify.Remove):
				op = FileOpRemove
			case ev.Has(fsnotify.Rename):
				op = FileOpRename
			default:
				continue
			}
			w.emit(FileEvent{Path: w.path, Op: op, Timestamp: time.Now()}, stop)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", zap.String("path", w.path), zap.Error(err))
		}
	}
}

// pollLoop catches changes fsnotify misses (network filesystems, some container runtimes).
func (w *FileWatcher) pollLoop(ctx context.Context, stop <-chan struct{}) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if ev, changed := w.checkFile(); changed {
				w.emit(ev, stop)
			}
		}
	}
}

// checkFile compares the file against the last observed state.
func (w *FileWatcher) checkFile() (FileEvent, bool) {
	cur := stat(w.path)

	w.mu.Lock()
	prev := w.last
	w.last = cur
	w.mu.Unlock()

	ev := FileEvent{Path: w.path, Timestamp: time.Now()}
	switch {
	case prev.exists && !cur.exists:
		ev.Op = FileOpRemove
	case !prev.exists && cur.exists:
		ev.Op = FileOpCreate
	case cur.exists && (!cur.modTime.Equal(prev.modTime) || cur.size != prev.size):
		ev.Op = FileOpWrite
	default:
		return ev, false
	}
	return ev, true
}

func stat(path string) fileState {
	info, err := os.Stat(path)
	if err != nil {
		return fileState{}
	}
	return fileState{exists: true, modTime: info.ModTime(), size: info.Size()}
}

// dispatchLoop dispatches events to callbacks with debouncing
func (w *FileWatcher) dispatchLoop(ctx context.Context, stop <-chan struct{}) {
	defer w.wg.Done()

	var (
		pending *FileEvent
		timer   *time.Timer
		fire    <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case ev := <-w.eventChan:
			// 保留最后一个事件，重置防抖定时器
			pending = &ev
			if timer == nil {
				timer = time.NewTimer(w.debounceDelay)
			} else {
				timer.Reset(w.debounceDelay)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if pending == nil {
				continue
			}
			ev := *pending
			pending = nil

			w.mu.RLock()
			callbacks := make([]func(FileEvent), len(w.callbacks))
			copy(callbacks, w.callbacks)
			w.mu.RUnlock()

			w.logger.Debug("dispatching supergraph file event",
				zap.String("path", ev.Path),
				zap.String("op", ev.Op.String()))
			for _, cb := range callbacks {
				cb(ev)
			}
		}
	}
}
