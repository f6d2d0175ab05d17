// 配置文件变更监听器实现。
//
// 监听配置文件所在目录的 fsnotify 事件，fsnotify 不可用时退化为轮询。
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileOp 文件操作类型
type FileOp int

const (
	// FileOpCreate 文件被创建
	FileOpCreate FileOp = iota
	// FileOpWrite 文件被修改
	FileOpWrite
	// FileOpRemove 文件被删除
	FileOpRemove
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
	default:
		return "UNKNOWN"
	}
}

// FileEvent 文件变更事件
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// Watcher watches a single configuration file.
type Watcher struct {
	mu sync.Mutex

	path          string
	debounceDelay time.Duration
	pollInterval  time.Duration
	forcePoll     bool

	running  bool
	stopChan chan struct{}
	events   chan FileEvent

	callbacks []func(FileEvent)
	logger    *zap.Logger

	// 轮询模式下的最后修改时间
	lastMod time.Time
	exists  bool
}

// WatcherOption configures the Watcher
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay for file events
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = d
	}
}

// WithPollInterval 设置轮询间隔并强制使用轮询
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.pollInterval = d
		w.forcePoll = true
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher for path.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	w := &Watcher{
		path:          abs,
		debounceDelay: 200 * time.Millisecond,
		pollInterval:  time.Second,
		stopChan:      make(chan struct{}),
		events:        make(chan FileEvent, 16),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))

	if _, err := os.Stat(abs); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat path %s: %w", abs, err)
	}
	return w, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string { return w.path }

// OnChange registers a callback for file change events
func (w *Watcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching. It returns after the watch loop is set up.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	if info, err := os.Stat(w.path); err == nil {
		w.lastMod, w.exists = info.ModTime(), true
	}

	mode := "fsnotify"
	if w.forcePoll {
		mode = "poll"
		go w.pollLoop(ctx)
	} else if fw, err := fsnotify.NewWatcher(); err != nil {
		w.logger.Warn("fsnotify unavailable, falling back to polling", zap.Error(err))
		mode = "poll"
		go w.pollLoop(ctx)
	} else if err := fw.Add(filepath.Dir(w.path)); err != nil {
		// 目录不可监听时同样退化为轮询
		_ = fw.Close()
		w.logger.Warn("cannot watch config directory, falling back to polling", zap.Error(err))
		mode = "poll"
		go w.pollLoop(ctx)
	} else {
		go w.notifyLoop(ctx, fw)
	}

	go w.dispatchLoop(ctx)

	w.logger.Info("config watcher started",
		zap.String("path", w.path),
		zap.String("mode", mode),
		zap.Duration("debounce_delay", w.debounceDelay))
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	close(w.stopChan)
	w.running = false
	w.logger.Info("config watcher stopped")
	return nil
}

// IsRunning returns whether the watcher is running
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// notifyLoop 监听目录事件，只转发目标文件的变更
// 编辑器常用 rename 替换文件，所以监听目录而不是文件本身
func (w *Watcher) notifyLoop(ctx context.Context, fw *fsnotify.Watcher) {
	defer fw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create):
				w.emit(FileOpCreate)
			case ev.Has(fsnotify.Write):
				w.emit(FileOpWrite)
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				w.emit(FileOpRemove)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", zap.Error(err))
		}
	}
}

// pollLoop polls the file for changes
func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.checkFile()
		}
	}
}

func (w *Watcher) checkFile() {
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) && w.exists {
			w.exists = false
			w.emit(FileOpRemove)
		}
		return
	}
	switch {
	case !w.exists:
		w.exists, w.lastMod = true, info.ModTime()
		w.emit(FileOpCreate)
	case info.ModTime().After(w.lastMod):
		w.lastMod = info.ModTime()
		w.emit(FileOpWrite)
	}
}

func (w *Watcher) emit(op FileOp) {
	select {
	case w.events <- FileEvent{Path: w.path, Op: op, Timestamp: time.Now()}:
	default:
		// 队列已满时后续事件会被防抖合并
	}
}

// dispatchLoop 防抖后把最后一个事件交给回调
func (w *Watcher) dispatchLoop(ctx context.Context) {
	var (
		pending FileEvent
		timer   *time.Timer
		fire    <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.stopChan:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev := <-w.events:
			pending = ev
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounceDelay)
			fire = timer.C
		case <-fire:
			fire = nil
			w.mu.Lock()
			callbacks := slices.Clone(w.callbacks)
			w.mu.Unlock()

			w.logger.Debug("dispatching config file event",
				zap.String("path", pending.Path),
				zap.String("op", pending.Op.String()))
			for _, cb := range callbacks {
				cb(pending)
			}
		}
	}
}
