// 配置热重载。
//
// 重新读取配置文件并校验，只有 log.level 会在运行时生效，
// 其余段落的变化会被记录并在重启后生效。
package config

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ReloadCallback 新配置生效后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// Reloader 持有当前配置并在文件变化时重载.
type Reloader struct {
	loader *Loader
	level  zap.AtomicLevel
	logger *zap.Logger

	mu        sync.RWMutex
	current   *Config
	callbacks []ReloadCallback
}

// NewReloader 创建重载器. level 是日志器使用的可调级别.
func NewReloader(loader *Loader, current *Config, level zap.AtomicLevel, logger *zap.Logger) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reloader{
		loader:  loader,
		level:   level,
		current: current,
		logger:  logger.With(zap.String("component", "config_reloader")),
	}
}

// Current 返回当前生效的配置
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnReload 注册重载回调
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Reload 重新加载并校验配置. 校验失败时保留旧配置并返回错误.
// 返回发生变化的顶层段落名.
func (r *Reloader) Reload() ([]string, error) {
	next, err := r.loader.Load()
	if err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	prev := r.current
	changed := ChangedSections(prev, next)
	r.current = next
	callbacks := append([]ReloadCallback(nil), r.callbacks...)
	r.mu.Unlock()

	if len(changed) == 0 {
		return nil, nil
	}

	if prev.Log.Level != next.Log.Level {
		lvl, err := ParseLevel(next.Log.Level)
		if err == nil {
			r.level.SetLevel(lvl)
			r.logger.Info("log level changed", zap.String("from", prev.Log.Level), zap.String("to", next.Log.Level))
		}
	}

	restart := make([]string, 0, len(changed))
	for _, section := range changed {
		if section != "log" || !onlyLevelChanged(prev.Log, next.Log) {
			restart = append(restart, section)
		}
	}
	if len(restart) > 0 {
		r.logger.Warn("config changed, restart required to apply", zap.Strings("sections", restart))
	}

	for _, cb := range callbacks {
		cb(prev, next)
	}
	return changed, nil
}

// Watch 监听配置文件并在变化时重载，阻塞直到 ctx 结束.
func (r *Reloader) Watch(ctx context.Context, opts ...WatcherOption) error {
	path := r.loader.Path()
	if path == "" {
		return nil
	}
	w, err := NewFileWatcher(path, append([]WatcherOption{WithWatcherLogger(r.logger)}, opts...)...)
	if err != nil {
		return err
	}
	w.OnChange(func(ev FileEvent) {
		if ev.Op == FileOpRemove {
			r.logger.Warn("config file removed, keeping current config")
			return
		}
		if _, err := r.Reload(); err != nil {
			r.logger.Error("config reload failed", zap.Error(err))
		}
	})
	return w.Run(ctx)
}

// ChangedSections 比较两份配置，返回 yaml 名称不同的顶层段落.
func ChangedSections(a, b *Config) []string {
	va, vb := reflect.ValueOf(a).Elem(), reflect.ValueOf(b).Elem()
	t := va.Type()
	var out []string
	for i := 0; i < t.NumField(); i++ {
		if reflect.DeepEqual(va.Field(i).Interface(), vb.Field(i).Interface()) {
			continue
		}
		name := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if name == "" {
			name = strings.ToLower(t.Field(i).Name)
		}
		out = append(out, name)
	}
	return out
}

func onlyLevelChanged(a, b LogConfig) bool {
	a.Level = b.Level
	return reflect.DeepEqual(a, b)
}

// ParseLevel 解析日志级别字符串
func ParseLevel(s string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return lvl, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}
