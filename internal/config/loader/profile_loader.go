// Package loader 加载策略档案 YAML，带 JSON Schema 校验与文件热更新。
package loader

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"

	"tide/internal/logger"
	"tide/internal/strategy"
)

// ProfileDefinition 一份可复用的运行模板：跑什么、用什么策略、多少钱。
type ProfileDefinition struct {
	Name           string        `mapstructure:"-"`
	Symbols        []string      `mapstructure:"symbols"`
	StartDate      string        `mapstructure:"start_date"`
	EndDate        string        `mapstructure:"end_date"`
	InitialCapital float64       `mapstructure:"initial_capital"`
	LotSize        int           `mapstructure:"lot_size"`
	Annualization  int           `mapstructure:"annualization"`
	Strategy       strategy.Spec `mapstructure:"strategy"`
	Default        bool          `mapstructure:"default"`
}

// FileConfig 档案文件的完整结构。
type FileConfig struct {
	Profiles map[string]ProfileDefinition `mapstructure:"profiles"`
}

// ProfileSnapshot 对外暴露的只读快照。
type ProfileSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]ProfileDefinition
}

// Default 返回标记为 default 的档案；没有标记时返回任意一份。
func (s ProfileSnapshot) Default() (ProfileDefinition, bool) {
	var fallback ProfileDefinition
	found := false
	for _, p := range s.Profiles {
		if p.Default {
			return p, true
		}
		if !found {
			fallback = p
			found = true
		}
	}
	return fallback, found
}

// ChangeListener 在档案变更时被调用。
type ChangeListener func(ProfileSnapshot)

// ProfileLoader 读取档案并监听热更新，快照原子替换。
type ProfileLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  ProfileSnapshot
	listeners []ChangeListener
}

// profileSchema 档案的结构约束：symbols 非空、资金为正、策略名必填。
const profileSchema = `{
  "type": "object",
  "properties": {
    "profiles": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["symbols", "strategy"],
        "properties": {
          "symbols": {"type": "array", "items": {"type": "string"}, "minItems": 1},
          "start_date": {"type": "string"},
          "end_date": {"type": "string"},
          "initial_capital": {"type": "number", "exclusiveMinimum": 0},
          "lot_size": {"type": "integer", "minimum": 1},
          "annualization": {"type": "integer", "minimum": 1},
          "default": {"type": "boolean"},
          "strategy": {
            "type": "object",
            "required": ["name"],
            "properties": {
              "id": {"type": "integer"},
              "name": {"type": "string", "minLength": 1},
              "params": {"type": "object", "additionalProperties": {"type": "number"}}
            }
          }
        }
      }
    }
  },
  "required": ["profiles"]
}`

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("profiles.json", strings.NewReader(profileSchema)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("profiles.json")
	})
	return schemaCompiled, schemaErr
}

// NewProfileLoader 读取档案文件并开始监听 FS 事件。
func NewProfileLoader(path string) (*ProfileLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile loader 需要文件路径")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取策略档案失败: %w", err)
	}
	l := &ProfileLoader{path: path, v: v}
	if err := l.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := v.ReadInConfig(); err != nil {
			logger.Errorf("策略档案重读失败 (%s): %v", evt.Name, err)
			return
		}
		if err := l.reload(); err != nil {
			logger.Errorf("策略档案热更新失败 (%s): %v", evt.Name, err)
			return
		}
		l.notify()
	})
	v.WatchConfig()
	return l, nil
}

func (l *ProfileLoader) reload() error {
	if err := validateSettings(l.v.AllSettings()); err != nil {
		return err
	}
	var file FileConfig
	if err := l.v.Unmarshal(&file); err != nil {
		return fmt.Errorf("解析策略档案失败: %w", err)
	}
	if len(file.Profiles) == 0 {
		return fmt.Errorf("策略档案为空: %s", l.path)
	}
	for name, p := range file.Profiles {
		p.Name = name
		if _, err := strategy.Build(p.Strategy); err != nil {
			return fmt.Errorf("档案 %q: %w", name, err)
		}
		file.Profiles[name] = p
	}

	l.mu.Lock()
	l.snapshot = ProfileSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: file.Profiles,
	}
	l.mu.Unlock()
	logger.Infof("[profile] 加载 %d 份档案 (version=%d)", len(file.Profiles), l.snapshot.Version)
	return nil
}

// validateSettings 先过 JSON Schema 再反序列化，错误信息更可读。
func validateSettings(settings map[string]interface{}) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("策略档案不符合 schema: %w", err)
	}
	return nil
}

// Snapshot 返回当前快照（浅拷贝 map，档案本身按值使用）。
func (l *ProfileLoader) Snapshot() ProfileSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Get 按名字取档案。
func (l *ProfileLoader) Get(name string) (ProfileDefinition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.snapshot.Profiles[name]
	return p, ok
}

// Subscribe 注册变更监听器。
func (l *ProfileLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

func (l *ProfileLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("[profile] 监听器 panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func cloneSnapshot(src ProfileSnapshot) ProfileSnapshot {
	dst := ProfileSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]ProfileDefinition, len(src.Profiles)),
	}
	for name, p := range src.Profiles {
		dst.Profiles[name] = p
	}
	return dst
}
