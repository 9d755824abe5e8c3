// 配置文件变更监听器。
//
// 以轮询方式检测修改时间变化，合并短时间内的多次写入后触发回调。
package config

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileOp 文件变更类型
type FileOp int

const (
	// FileOpCreate 文件出现
	FileOpCreate FileOp = iota
	// FileOpWrite 文件被修改
	FileOpWrite
	// FileOpRemove 文件被删除
	FileOpRemove
)

// String returns the name of the operation.
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent 一次文件变更
type FileEvent struct {
	Path      string
	Op        FileOp
	Timestamp time.Time
}

// WatcherOption 配置 FileWatcher
type WatcherOption func(*FileWatcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithDebounceDelay 设置防抖延迟
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) { w.debounceDelay = d }
}

// WithWatcherLogger 设置日志
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// FileWatcher polls one file and reports changes after a quiet period.
type FileWatcher struct {
	path          string
	pollInterval  time.Duration
	debounceDelay time.Duration
	logger        *zap.Logger

	mu       sync.Mutex
	running  bool
	modTime  time.Time
	exists   bool
	callback func(FileEvent)
}

// NewFileWatcher 创建监听器. 文件可以暂时不存在，出现时会产生 CREATE 事件.
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	if path == "" {
		return nil, errors.New("watch path is empty")
	}
	w := &FileWatcher{
		path:          path,
		pollInterval:  time.Second,
		debounceDelay: 200 * time.Millisecond,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"), zap.String("path", path))
	return w, nil
}

// OnChange 注册回调. 回调在监听 goroutine 中串行执行.
func (w *FileWatcher) OnChange(cb func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callback = cb
}

// Run 阻塞轮询直到 ctx 结束.
func (w *FileWatcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.running = true
	if info, err := os.Stat(w.path); err == nil {
		w.modTime, w.exists = info.ModTime(), true
	}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	w.logger.Info("config watcher started", zap.Duration("poll_interval", w.pollInterval))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var (
		pending  *FileEvent
		deadline <-chan time.Time
		timer    *time.Timer
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ev, changed := w.check()
			if !changed {
				continue
			}
			// 后到的事件覆盖先前的，重新计时
			pending = &ev
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounceDelay)
			deadline = timer.C
		case <-deadline:
			deadline = nil
			if pending == nil {
				continue
			}
			ev := *pending
			pending = nil
			w.dispatch(ev)
		}
	}
}

// IsRunning reports whether Run is active.
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *FileWatcher) check() (FileEvent, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) && w.exists {
			w.exists = false
			return FileEvent{Path: w.path, Op: FileOpRemove, Timestamp: now}, true
		}
		return FileEvent{}, false
	}
	if !w.exists {
		w.exists, w.modTime = true, info.ModTime()
		return FileEvent{Path: w.path, Op: FileOpCreate, Timestamp: now}, true
	}
	if !info.ModTime().Equal(w.modTime) {
		w.modTime = info.ModTime()
		return FileEvent{Path: w.path, Op: FileOpWrite, Timestamp: now}, true
	}
	return FileEvent{}, false
}

func (w *FileWatcher) dispatch(ev FileEvent) {
	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()

	w.logger.Debug("config file changed", zap.String("op", ev.Op.String()))
	if cb != nil {
		cb(ev)
	}
}
