// Package config 加载 YAML 配置。支持 include 合并：主文件可以用
// include: [a.yaml, b.yaml] 引入片段，后读的键覆盖先读的。
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config 是进程级配置树。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Data      DataConfig      `mapstructure:"data"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Presets   PresetsConfig   `mapstructure:"presets"`
}

type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

type HTTPConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Addr          string `mapstructure:"addr"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
}

type DataConfig struct {
	// Source 可选 binance 或 csv。
	Source         string        `mapstructure:"source"`
	BinanceBaseURL string        `mapstructure:"binance_base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	CSVPath        string        `mapstructure:"csv_path"`
	Timeframe      string        `mapstructure:"timeframe"`
}

type ExecutionConfig struct {
	InitialCapital   float64 `mapstructure:"initial_capital"`
	CommissionRate   float64 `mapstructure:"commission_rate"`
	PositionFraction float64 `mapstructure:"position_fraction"`
	FillPolicy       string  `mapstructure:"fill_policy"`
}

type AnalyticsConfig struct {
	RiskFreeRate float64 `mapstructure:"risk_free_rate"`
	TradingDays  int     `mapstructure:"trading_days"`
}

type PresetsConfig struct {
	Path string `mapstructure:"path"`
}

// Load 解析 path 指向的配置并补全默认值。
func Load(path string) (*Config, error) {
	files, err := resolveConfigIncludes(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, fmt.Errorf("读取配置文件失败 (%s): %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置，CLI 无 -config 时使用。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.DataDir == "" {
		c.App.DataDir = "data"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":9991"
	}
	if c.HTTP.MaxConcurrent <= 0 {
		c.HTTP.MaxConcurrent = 2
	}
	if c.Data.Source == "" {
		c.Data.Source = "binance"
	}
	if c.Data.RequestTimeout <= 0 {
		c.Data.RequestTimeout = 15 * time.Second
	}
	if c.Data.Timeframe == "" {
		c.Data.Timeframe = "1d"
	}
	if c.Execution.InitialCapital <= 0 {
		c.Execution.InitialCapital = 100000
	}
	if c.Execution.CommissionRate == 0 {
		c.Execution.CommissionRate = 0.0005
	}
	if c.Execution.PositionFraction <= 0 {
		c.Execution.PositionFraction = 0.95
	}
	if c.Analytics.RiskFreeRate == 0 {
		c.Analytics.RiskFreeRate = 0.065
	}
	if c.Analytics.TradingDays <= 0 {
		c.Analytics.TradingDays = 252
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Data.Source) {
	case "binance":
	case "csv":
		if strings.TrimSpace(c.Data.CSVPath) == "" {
			return fmt.Errorf("data.source=csv 时必须给出 data.csv_path")
		}
	default:
		return fmt.Errorf("未知数据源: %q", c.Data.Source)
	}
	if c.Execution.CommissionRate < 0 {
		return fmt.Errorf("execution.commission_rate 不能为负")
	}
	if c.Execution.PositionFraction > 1 {
		return fmt.Errorf("execution.position_fraction 不能大于 1")
	}
	switch strings.ToLower(c.App.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("未知日志级别: %q", c.App.LogLevel)
	}
	return nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(tmp.AllSettings())
}

func resolveConfigIncludes(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("配置路径不能为空")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	stack := make(map[string]bool)
	files, err := collectConfigFiles(abs, seen, stack)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return []string{abs}, nil
	}
	return files, nil
}

func collectConfigFiles(path string, seen, stack map[string]bool) ([]string, error) {
	path = filepath.Clean(path)
	if stack[path] {
		return nil, fmt.Errorf("include 成环: %s", path)
	}
	if seen[path] {
		return nil, nil
	}
	stack[path] = true
	includes, err := parseIncludeList(path)
	if err != nil {
		return nil, fmt.Errorf("解析 include 失败 (%s): %w", path, err)
	}
	dir := filepath.Dir(path)
	var ordered []string
	for _, inc := range includes {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		incPath := inc
		if !filepath.IsAbs(inc) {
			incPath = filepath.Join(dir, inc)
		}
		sub, err := collectConfigFiles(incPath, seen, stack)
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, sub...)
	}
	delete(stack, path)
	seen[path] = true
	ordered = append(ordered, path)
	return ordered, nil
}

func parseIncludeList(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	raw := v.Get("include")
	if raw == nil {
		return nil, nil
	}
	switch val := raw.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("include 只支持字符串")
			}
			if str = strings.TrimSpace(str); str != "" {
				out = append(out, str)
			}
		}
		return out, nil
	case []string:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("include 必须是字符串数组")
	}
}
