package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"quiver/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Preset 是一组命名好的策略参数，供 HTTP 端按名引用。
type Preset struct {
	ID          string         `yaml:"id"`
	Description string         `yaml:"description"`
	Kind        Kind           `yaml:"kind"`
	RawParams   map[string]any `yaml:"params"`

	Params Params `yaml:"-"`
}

type presetFile struct {
	Presets map[string]Preset `yaml:"presets"`
}

// PresetSnapshot 是注册表的一次只读快照。
type PresetSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Presets  map[string]Preset
}

// PresetChangeListener 在注册表热重载后触发。
type PresetChangeListener func(PresetSnapshot)

// PresetRegistry 从 YAML 文件加载策略预设并监听文件变更。
// 每个预设的 params 先过对应变体的 JSON Schema，再解码为 Params。
type PresetRegistry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  PresetSnapshot
	listeners []PresetChangeListener
}

// NewPresetRegistry 读取预设文件并开启热重载。
func NewPresetRegistry(path string) (*PresetRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("preset registry 需要文件路径")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取预设文件失败: %w", err)
	}
	r := &PresetRegistry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("策略预设重载失败: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Subscribe 注册变更回调。
func (r *PresetRegistry) Subscribe(fn PresetChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Snapshot 返回当前预设集。
func (r *PresetRegistry) Snapshot() PresetSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clonePresetSnapshot(r.snapshot)
}

// Preset 按 ID 查找预设。
func (r *PresetRegistry) Preset(id string) (Preset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.snapshot.Presets[strings.TrimSpace(id)]
	return p, ok
}

// IDs 返回排序后的预设 ID 列表。
func (r *PresetRegistry) IDs() []string {
	snap := r.Snapshot()
	out := make([]string, 0, len(snap.Presets))
	for id := range snap.Presets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *PresetRegistry) reload() error {
	cfg, err := readPresetFile(r.path)
	if err != nil {
		return err
	}
	presets := make(map[string]Preset, len(cfg.Presets))
	for name, p := range cfg.Presets {
		norm, err := normalizePreset(name, p)
		if err != nil {
			return fmt.Errorf("预设 %s 非法: %w", name, err)
		}
		presets[norm.ID] = norm
	}
	r.mu.Lock()
	r.snapshot = PresetSnapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Presets:  presets,
	}
	r.mu.Unlock()
	logger.Infof("策略预设已加载 %d 个（%s）", len(presets), filepath.Base(r.path))
	return nil
}

func (r *PresetRegistry) notifyListeners() {
	r.mu.RLock()
	snap := clonePresetSnapshot(r.snapshot)
	listeners := append([]PresetChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb PresetChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("preset listener panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func normalizePreset(name string, p Preset) (Preset, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		p.ID = strings.TrimSpace(name)
	}
	p.Description = strings.TrimSpace(p.Description)
	if !knownKind(p.Kind) {
		return Preset{}, fmt.Errorf("未知策略: %q", p.Kind)
	}
	if err := ValidateParamsMap(p.Kind, p.RawParams); err != nil {
		return Preset{}, err
	}
	params, err := paramsFromMap(p.Kind, p.RawParams)
	if err != nil {
		return Preset{}, err
	}
	p.Params = params
	return p, nil
}

func paramsFromMap(kind Kind, raw map[string]any) (Params, error) {
	wrapper := map[string]any{"kind": kind}
	if len(raw) > 0 {
		wrapper[string(kind)] = raw
	}
	data, err := json.Marshal(wrapper)
	if err != nil {
		return Params{}, err
	}
	return ParamsFromJSON(data)
}

func clonePresetSnapshot(src PresetSnapshot) PresetSnapshot {
	dst := PresetSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Presets:  make(map[string]Preset, len(src.Presets)),
	}
	for id, p := range src.Presets {
		dst.Presets[id] = p
	}
	return dst
}

func readPresetFile(path string) (presetFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return presetFile{}, fmt.Errorf("读取预设文件失败: %w", err)
	}
	var cfg presetFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return presetFile{}, fmt.Errorf("解析预设文件失败: %w", err)
	}
	return cfg, nil
}

// 每个变体一份 JSON Schema，预设与 HTTP 提交的参数都要先通过它。
var variantSchemas = map[Kind]string{
	KindMACrossover: `{
		"type": "object",
		"properties": {
			"fast_period": {"type": "integer", "minimum": 1},
			"slow_period": {"type": "integer", "minimum": 2}
		},
		"additionalProperties": false
	}`,
	KindRSI: `{
		"type": "object",
		"properties": {
			"period": {"type": "integer", "minimum": 1},
			"lower": {"type": "number", "exclusiveMinimum": 0, "maximum": 100},
			"upper": {"type": "number", "exclusiveMinimum": 0, "maximum": 100}
		},
		"additionalProperties": false
	}`,
	KindBollinger: `{
		"type": "object",
		"properties": {
			"period": {"type": "integer", "minimum": 2},
			"std_multiplier": {"type": "number", "exclusiveMinimum": 0}
		},
		"additionalProperties": false
	}`,
	KindMomentum: `{
		"type": "object",
		"properties": {
			"roc_period": {"type": "integer", "minimum": 1},
			"roc_threshold": {"type": "number", "minimum": 0},
			"trend_period": {"type": "integer", "minimum": 1}
		},
		"additionalProperties": false
	}`,
}

var (
	schemaOnce     sync.Once
	compiledSchema map[Kind]*jsonschema.Schema
	schemaErr      error
)

func compiledSchemas() (map[Kind]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema = make(map[Kind]*jsonschema.Schema, len(variantSchemas))
		for kind, src := range variantSchemas {
			compiler := jsonschema.NewCompiler()
			name := string(kind) + ".json"
			if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
				schemaErr = err
				return
			}
			schema, err := compiler.Compile(name)
			if err != nil {
				schemaErr = err
				return
			}
			compiledSchema[kind] = schema
		}
	})
	return compiledSchema, schemaErr
}

// ValidateParamsMap 用变体 Schema 校验原始参数 map。nil 参数表示全用默认值。
func ValidateParamsMap(kind Kind, params map[string]any) error {
	if params == nil {
		return nil
	}
	schemas, err := compiledSchemas()
	if err != nil {
		return fmt.Errorf("schema 编译失败: %w", err)
	}
	schema, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("未知策略: %q", kind)
	}
	if err := schema.Validate(normalizeNumbers(params)); err != nil {
		return fmt.Errorf("参数不符合 %s schema: %w", kind, err)
	}
	return nil
}

// normalizeNumbers 把 yaml 解出来的 int 统一成 json 语义下的数值类型。
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = normalizeNumbers(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalizeNumbers(child)
		}
		return out
	case int:
		return json.Number(fmt.Sprintf("%d", val))
	case int64:
		return json.Number(fmt.Sprintf("%d", val))
	case float64:
		return val
	default:
		return v
	}
}
