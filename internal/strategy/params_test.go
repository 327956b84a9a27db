package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParams(t *testing.T) {
	p := DefaultParams(KindMACrossover)
	assert.Equal(t, 10, p.MACrossover.FastPeriod)
	assert.Equal(t, 30, p.MACrossover.SlowPeriod)

	p = DefaultParams(KindRSI)
	assert.Equal(t, 14, p.RSI.Period)
	assert.Equal(t, 30.0, p.RSI.Lower)
	assert.Equal(t, 70.0, p.RSI.Upper)

	p = DefaultParams(KindBollinger)
	assert.Equal(t, 20, p.Bollinger.Period)
	assert.Equal(t, 2.0, p.Bollinger.StdMultiplier)

	p = DefaultParams(KindMomentum)
	assert.Equal(t, 10, p.Momentum.ROCPeriod)
	assert.Equal(t, 0.5, p.Momentum.ROCThreshold)
	assert.Equal(t, 20, p.Momentum.TrendPeriod)
}

func TestValidateRejectsFastNotBelowSlow(t *testing.T) {
	p := DefaultParams(KindMACrossover)
	p.MACrossover.FastPeriod = 30
	assert.Error(t, p.Validate())

	p.MACrossover.FastPeriod = 31
	assert.Error(t, p.Validate())
}

func TestValidateRSIThresholds(t *testing.T) {
	p := DefaultParams(KindRSI)
	p.RSI.Lower = 70
	p.RSI.Upper = 30
	assert.Error(t, p.Validate())

	p = DefaultParams(KindRSI)
	p.RSI.Upper = 100
	assert.Error(t, p.Validate())
}

func TestParamsFromJSONNested(t *testing.T) {
	raw := []byte(`{"kind":"ma_crossover","ma_crossover":{"fast_period":5,"slow_period":20}}`)
	p, err := ParamsFromJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, KindMACrossover, p.Kind)
	assert.Equal(t, 5, p.MACrossover.FastPeriod)
	assert.Equal(t, 20, p.MACrossover.SlowPeriod)
}

func TestParamsFromJSONFlat(t *testing.T) {
	raw := []byte(`{"kind":"rsi","period":7,"lower":25,"upper":75}`)
	p, err := ParamsFromJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, 7, p.RSI.Period)
	assert.Equal(t, 25.0, p.RSI.Lower)
	assert.Equal(t, 75.0, p.RSI.Upper)
}

func TestParamsFromJSONDefaultsFillMissing(t *testing.T) {
	p, err := ParamsFromJSON([]byte(`{"kind":"bollinger"}`))
	require.NoError(t, err)
	assert.Equal(t, 20, p.Bollinger.Period)
	assert.Equal(t, 2.0, p.Bollinger.StdMultiplier)
}

func TestParamsFromJSONErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"not json", "fast=5"},
		{"missing kind", `{"fast_period":5}`},
		{"unknown kind", `{"kind":"macd"}`},
		{"invalid values", `{"kind":"ma_crossover","ma_crossover":{"fast_period":30,"slow_period":10}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParamsFromJSON([]byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestMarshalJSONCompactRoundTrip(t *testing.T) {
	p := DefaultParams(KindMomentum)
	p.Momentum.ROCThreshold = 1.25
	raw, err := p.MarshalJSONCompact()
	require.NoError(t, err)

	back, err := ParamsFromJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestApplyDefaults(t *testing.T) {
	p := Params{Kind: KindRSI}
	p.RSI.Period = 7
	p.ApplyDefaults()
	assert.Equal(t, 7, p.RSI.Period)
	assert.Equal(t, 30.0, p.RSI.Lower)
	assert.Equal(t, 70.0, p.RSI.Upper)
}

func TestValidateParamsMapSchema(t *testing.T) {
	assert.NoError(t, ValidateParamsMap(KindRSI, map[string]any{"period": 14, "lower": 30, "upper": 70}))
	// 未知字段被 schema 拒绝。
	assert.Error(t, ValidateParamsMap(KindRSI, map[string]any{"periods": 14}))
	// 类型不符。
	assert.Error(t, ValidateParamsMap(KindMACrossover, map[string]any{"fast_period": "ten"}))
	// 越界。
	assert.Error(t, ValidateParamsMap(KindRSI, map[string]any{"lower": 120}))
	// nil 参数表示全部用默认值。
	assert.NoError(t, ValidateParamsMap(KindBollinger, nil))
	assert.Error(t, ValidateParamsMap(Kind("macd"), map[string]any{}))
}
