// 配置热重载实现。
//
// 文件变更后重新加载并校验配置，计算字段差异，通知回调；
// 回调失败时恢复到上一份配置。只有 Conductor 与 Log.Level 可以在运行中生效。
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 热重载类型定义 ---

// ConfigChange 单个字段的变更记录
type ConfigChange struct {
	Timestamp       time.Time `json:"timestamp"`
	Source          string    `json:"source"`
	Path            string    `json:"path"`
	OldValue        any       `json:"old_value,omitempty"`
	NewValue        any       `json:"new_value,omitempty"`
	RequiresRestart bool      `json:"requires_restart"`
}

// ReloadCallback 新配置生效后调用；返回错误会触发回滚
type ReloadCallback func(oldConfig, newConfig *Config) error

// ValidateFunc 配置验证钩子函数
type ValidateFunc func(newConfig *Config) error

// 运行中可以生效的字段前缀
var liveFieldPrefixes = []string{"Conductor.", "Log.Level"}

// 日志中需要脱敏的字段名片段
var sensitiveFieldParts = []string{"password", "apikey", "secret", "publickey", "mongouri"}

// Reloader 管理配置热重载
type Reloader struct {
	mu sync.RWMutex

	config       *Config
	configPath   string
	validateFunc ValidateFunc
	callbacks    []ReloadCallback
	changeLog    []ConfigChange
	version      int

	watcher *Watcher
	logger  *zap.Logger
	running bool
}

// ReloaderOption 配置 Reloader
type ReloaderOption func(*Reloader)

// WithReloaderLogger 设置记录器
func WithReloaderLogger(logger *zap.Logger) ReloaderOption {
	return func(r *Reloader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReloadPath 设置监听的配置文件
func WithReloadPath(path string) ReloaderOption {
	return func(r *Reloader) {
		r.configPath = path
	}
}

// WithValidateFunc 设置配置验证钩子
func WithValidateFunc(fn ValidateFunc) ReloaderOption {
	return func(r *Reloader) {
		r.validateFunc = fn
	}
}

// NewReloader 创建热重载管理器
func NewReloader(cfg *Config, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		config:  deepCopyConfig(cfg),
		version: 1,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "config_reloader"))
	return r
}

// Start 开始监听配置文件；未设置路径时直接返回
func (r *Reloader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("reloader already running")
	}
	if r.configPath != "" {
		w, err := NewWatcher(r.configPath, WithWatcherLogger(r.logger))
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		w.OnChange(r.handleFileChange)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start file watcher: %w", err)
		}
		r.watcher = w
	}
	r.running = true
	r.logger.Info("config reloader started", zap.String("config_path", r.configPath))
	return nil
}

// Stop 停止监听
func (r *Reloader) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	if r.watcher != nil {
		if err := r.watcher.Stop(); err != nil {
			r.logger.Error("failed to stop file watcher", zap.Error(err))
		}
	}
	r.running = false
	return nil
}

func (r *Reloader) handleFileChange(event FileEvent) {
	if event.Op == FileOpRemove {
		r.logger.Warn("config file removed, keeping current config", zap.String("path", event.Path))
		return
	}
	if err := r.ReloadFromFile(); err != nil {
		r.logger.Error("failed to reload configuration", zap.Error(err))
	}
}

// ReloadFromFile 从文件重新加载配置
func (r *Reloader) ReloadFromFile() error {
	if r.configPath == "" {
		return fmt.Errorf("no config path set")
	}
	newConfig, err := NewLoader().WithConfigPath(r.configPath).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return r.Apply(newConfig, "file")
}

// Apply 校验并应用新配置，然后依次通知回调
func (r *Reloader) Apply(newConfig *Config, source string) error {
	if err := newConfig.Validate(); err != nil {
		r.logger.Warn("invalid config, keeping current config",
			zap.String("source", source), zap.Error(err))
		return fmt.Errorf("invalid config: %w", err)
	}

	r.mu.Lock()
	if r.validateFunc != nil {
		if err := r.validateFunc(newConfig); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	oldConfig := r.config
	changes := diffConfigs(oldConfig, newConfig)
	if len(changes) == 0 {
		r.mu.Unlock()
		r.logger.Debug("config unchanged", zap.String("source", source))
		return nil
	}

	now := time.Now()
	restart := false
	for i := range changes {
		changes[i].Timestamp = now
		changes[i].Source = source
		changes[i].RequiresRestart = !isLiveField(changes[i].Path)
		restart = restart || changes[i].RequiresRestart
		r.logChange(changes[i])
	}

	applied := deepCopyConfig(newConfig)
	r.config = applied
	r.version++
	r.changeLog = append(r.changeLog, changes...)
	if len(r.changeLog) > 500 {
		r.changeLog = r.changeLog[len(r.changeLog)-500:]
	}
	callbacks := append([]ReloadCallback(nil), r.callbacks...)
	r.mu.Unlock()

	if err := notifySafe(callbacks, oldConfig, applied); err != nil {
		r.mu.Lock()
		if r.config == applied {
			r.config = oldConfig
			r.version++
			r.logger.Error("reload callback failed, rolled back", zap.Error(err))
		}
		r.mu.Unlock()
		// 让已经生效的订阅方回到旧配置
		_ = notifySafe(callbacks, applied, oldConfig)
		return fmt.Errorf("config rolled back: %w", err)
	}

	if restart {
		r.logger.Warn("some configuration changes require restart to take effect")
	}
	r.logger.Info("configuration reloaded",
		zap.String("source", source),
		zap.Int("changes", len(changes)))
	return nil
}

func notifySafe(callbacks []ReloadCallback, oldConfig, newConfig *Config) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("reload callback panicked: %v", rec)
		}
	}()
	for _, cb := range callbacks {
		if err := cb(oldConfig, newConfig); err != nil {
			return err
		}
	}
	return nil
}

// OnReload 注册重载回调
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Config 返回当前配置的副本
func (r *Reloader) Config() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return deepCopyConfig(r.config)
}

// Version 每次应用或回滚后递增
func (r *Reloader) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// ChangeLog 返回最近 limit 条变更
func (r *Reloader) ChangeLog(limit int) []ConfigChange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.changeLog) {
		limit = len(r.changeLog)
	}
	out := make([]ConfigChange, limit)
	copy(out, r.changeLog[len(r.changeLog)-limit:])
	return out
}

func (r *Reloader) logChange(change ConfigChange) {
	fields := []zap.Field{
		zap.String("path", change.Path),
		zap.String("source", change.Source),
		zap.Bool("requires_restart", change.RequiresRestart),
	}
	if !isSensitiveField(change.Path) {
		fields = append(fields,
			zap.String("old_value", fmt.Sprint(change.OldValue)),
			zap.String("new_value", fmt.Sprint(change.NewValue)))
	}
	r.logger.Info("configuration changed", fields...)
}

// --- 差异计算 ---

// diffConfigs 逐字段比较两份配置
func diffConfigs(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changes)
	return changes
}

func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}
		oldField, newField := oldVal.Field(i), newVal.Field(i)
		if oldField.Kind() == reflect.Struct {
			compareStructs(path, oldField, newField, changes)
			continue
		}
		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:     path,
				OldValue: oldField.Interface(),
				NewValue: newField.Interface(),
			})
		}
	}
}

func isLiveField(path string) bool {
	for _, p := range liveFieldPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isSensitiveField(path string) bool {
	lower := strings.ToLower(path)
	for _, part := range sensitiveFieldParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// deepCopyConfig 深拷贝配置（JSON 往返）
func deepCopyConfig(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var copied Config
	if err := json.Unmarshal(data, &copied); err != nil {
		return cfg
	}
	return &copied
}
