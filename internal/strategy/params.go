package strategy

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// MACrossoverParams 双均线交叉参数。
type MACrossoverParams struct {
	FastPeriod int `json:"fast_period" mapstructure:"fast_period" yaml:"fast_period"`
	SlowPeriod int `json:"slow_period" mapstructure:"slow_period" yaml:"slow_period"`
}

// RSIParams RSI 超买超卖参数。
type RSIParams struct {
	Period int     `json:"period" mapstructure:"period" yaml:"period"`
	Lower  float64 `json:"lower" mapstructure:"lower" yaml:"lower"`
	Upper  float64 `json:"upper" mapstructure:"upper" yaml:"upper"`
}

// BollingerParams 布林带参数。
type BollingerParams struct {
	Period        int     `json:"period" mapstructure:"period" yaml:"period"`
	StdMultiplier float64 `json:"std_multiplier" mapstructure:"std_multiplier" yaml:"std_multiplier"`
}

// MomentumParams 动量参数；TrendPeriod 为趋势确认均线窗口。
type MomentumParams struct {
	ROCPeriod    int     `json:"roc_period" mapstructure:"roc_period" yaml:"roc_period"`
	ROCThreshold float64 `json:"roc_threshold" mapstructure:"roc_threshold" yaml:"roc_threshold"`
	TrendPeriod  int     `json:"trend_period" mapstructure:"trend_period" yaml:"trend_period"`
}

// Params 是四个封闭变体的 tagged union，Kind 决定哪个分支生效。
type Params struct {
	Kind        Kind              `json:"kind" mapstructure:"kind" yaml:"kind"`
	MACrossover MACrossoverParams `json:"ma_crossover,omitempty" mapstructure:"ma_crossover" yaml:"ma_crossover,omitempty"`
	RSI         RSIParams         `json:"rsi,omitempty" mapstructure:"rsi" yaml:"rsi,omitempty"`
	Bollinger   BollingerParams   `json:"bollinger,omitempty" mapstructure:"bollinger" yaml:"bollinger,omitempty"`
	Momentum    MomentumParams    `json:"momentum,omitempty" mapstructure:"momentum" yaml:"momentum,omitempty"`
}

// DefaultParams 返回某个变体的默认参数（与原始交易系统一致）。
func DefaultParams(kind Kind) Params {
	p := Params{Kind: kind}
	switch kind {
	case KindMACrossover:
		p.MACrossover = MACrossoverParams{FastPeriod: 10, SlowPeriod: 30}
	case KindRSI:
		p.RSI = RSIParams{Period: 14, Lower: 30, Upper: 70}
	case KindBollinger:
		p.Bollinger = BollingerParams{Period: 20, StdMultiplier: 2.0}
	case KindMomentum:
		p.Momentum = MomentumParams{ROCPeriod: 10, ROCThreshold: 0.5, TrendPeriod: 20}
	}
	return p
}

// ApplyDefaults 用默认值补全未填写的字段。
func (p *Params) ApplyDefaults() {
	def := DefaultParams(p.Kind)
	switch p.Kind {
	case KindMACrossover:
		if p.MACrossover.FastPeriod <= 0 {
			p.MACrossover.FastPeriod = def.MACrossover.FastPeriod
		}
		if p.MACrossover.SlowPeriod <= 0 {
			p.MACrossover.SlowPeriod = def.MACrossover.SlowPeriod
		}
	case KindRSI:
		if p.RSI.Period <= 0 {
			p.RSI.Period = def.RSI.Period
		}
		if p.RSI.Lower <= 0 {
			p.RSI.Lower = def.RSI.Lower
		}
		if p.RSI.Upper <= 0 {
			p.RSI.Upper = def.RSI.Upper
		}
	case KindBollinger:
		if p.Bollinger.Period <= 0 {
			p.Bollinger.Period = def.Bollinger.Period
		}
		if p.Bollinger.StdMultiplier <= 0 {
			p.Bollinger.StdMultiplier = def.Bollinger.StdMultiplier
		}
	case KindMomentum:
		if p.Momentum.ROCPeriod <= 0 {
			p.Momentum.ROCPeriod = def.Momentum.ROCPeriod
		}
		if p.Momentum.ROCThreshold <= 0 {
			p.Momentum.ROCThreshold = def.Momentum.ROCThreshold
		}
		if p.Momentum.TrendPeriod <= 0 {
			p.Momentum.TrendPeriod = def.Momentum.TrendPeriod
		}
	}
}

// Validate 校验变体参数。
func (p Params) Validate() error {
	switch p.Kind {
	case KindMACrossover:
		if p.MACrossover.FastPeriod <= 0 || p.MACrossover.SlowPeriod <= 0 {
			return fmt.Errorf("ma_crossover: fast/slow period 必须为正")
		}
		if p.MACrossover.FastPeriod >= p.MACrossover.SlowPeriod {
			return fmt.Errorf("ma_crossover: fast period %d 必须小于 slow period %d",
				p.MACrossover.FastPeriod, p.MACrossover.SlowPeriod)
		}
	case KindRSI:
		if p.RSI.Period <= 0 {
			return fmt.Errorf("rsi: period 必须为正")
		}
		if p.RSI.Lower <= 0 || p.RSI.Upper >= 100 || p.RSI.Lower >= p.RSI.Upper {
			return fmt.Errorf("rsi: 阈值非法 lower=%.2f upper=%.2f", p.RSI.Lower, p.RSI.Upper)
		}
	case KindBollinger:
		if p.Bollinger.Period <= 1 {
			return fmt.Errorf("bollinger: period 必须大于 1")
		}
		if p.Bollinger.StdMultiplier <= 0 {
			return fmt.Errorf("bollinger: std_multiplier 必须为正")
		}
	case KindMomentum:
		if p.Momentum.ROCPeriod <= 0 || p.Momentum.TrendPeriod <= 0 {
			return fmt.Errorf("momentum: roc/trend period 必须为正")
		}
		if p.Momentum.ROCThreshold < 0 {
			return fmt.Errorf("momentum: roc_threshold 不能为负")
		}
	default:
		return fmt.Errorf("未知策略: %q", p.Kind)
	}
	return nil
}

// ParamsFromJSON 从原始 JSON 解析策略参数。kind 决定读取哪组字段，
// 未出现的字段回落到默认值；变体字段既接受嵌套对象也接受顶层平铺。
func ParamsFromJSON(raw []byte) (Params, error) {
	if len(raw) == 0 {
		return Params{}, fmt.Errorf("strategy 参数为空")
	}
	if !gjson.ValidBytes(raw) {
		return Params{}, fmt.Errorf("strategy 参数不是合法 JSON")
	}
	kind := Kind(gjson.GetBytes(raw, "kind").String())
	if kind == "" {
		return Params{}, fmt.Errorf("strategy 参数缺少 kind")
	}
	p := DefaultParams(kind)
	if p.Kind != kind || !knownKind(kind) {
		return Params{}, fmt.Errorf("未知策略: %q", kind)
	}
	// 优先读嵌套（"rsi": {...}），否则尝试顶层平铺（"period": 14）。
	section := gjson.GetBytes(raw, string(kind))
	src := raw
	if section.IsObject() {
		src = []byte(section.Raw)
	}
	switch kind {
	case KindMACrossover:
		setInt(src, "fast_period", &p.MACrossover.FastPeriod)
		setInt(src, "slow_period", &p.MACrossover.SlowPeriod)
	case KindRSI:
		setInt(src, "period", &p.RSI.Period)
		setFloat(src, "lower", &p.RSI.Lower)
		setFloat(src, "upper", &p.RSI.Upper)
	case KindBollinger:
		setInt(src, "period", &p.Bollinger.Period)
		setFloat(src, "std_multiplier", &p.Bollinger.StdMultiplier)
	case KindMomentum:
		setInt(src, "roc_period", &p.Momentum.ROCPeriod)
		setFloat(src, "roc_threshold", &p.Momentum.ROCThreshold)
		setInt(src, "trend_period", &p.Momentum.TrendPeriod)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

func knownKind(k Kind) bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

func setInt(raw []byte, key string, dst *int) {
	if v := gjson.GetBytes(raw, key); v.Exists() {
		*dst = int(v.Int())
	}
}

func setFloat(raw []byte, key string, dst *float64) {
	if v := gjson.GetBytes(raw, key); v.Exists() {
		*dst = v.Float()
	}
}

// MarshalJSONCompact 序列化为扁平、仅含当前变体字段的 JSON，存库用。
func (p Params) MarshalJSONCompact() ([]byte, error) {
	out := map[string]any{"kind": p.Kind}
	switch p.Kind {
	case KindMACrossover:
		out[string(p.Kind)] = p.MACrossover
	case KindRSI:
		out[string(p.Kind)] = p.RSI
	case KindBollinger:
		out[string(p.Kind)] = p.Bollinger
	case KindMomentum:
		out[string(p.Kind)] = p.Momentum
	}
	return json.Marshal(out)
}
