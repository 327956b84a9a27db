package analytics

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCfg = Config{RiskFreeRate: 0.065, TradingDays: 252}

func TestComputeGoldenVector(t *testing.T) {
	equity := []float64{100, 110, 99, 121.374}
	pnls := []float64{10, -11, 22.374}

	m := Compute(equity, pnls, testCfg)

	assert.InDelta(t, 21.3740, m.TotalReturn, 1e-4)
	assert.InDelta(t, 260.9671, m.Volatility, 1e-4)
	assert.InDelta(t, 7.2496, m.Sharpe, 1e-4)
	assert.InDelta(t, -10.0, m.MaxDrawdown, 1e-4)
	assert.Equal(t, 1, m.DrawdownDuration)
	assert.InDelta(t, 2.1374, m.RecoveryFactor, 1e-4)
	assert.InDelta(t, 22.6, m.BestDay, 1e-4)
	assert.InDelta(t, -10.0, m.WorstDay, 1e-4)

	// 年化是 (1+r)^(252/3) 的量级，用相对误差校验。
	assert.InEpsilon(t, 1165616816.04, m.AnnualReturn, 1e-6)

	// 只有一个负收益，不足以定义下行标准差。
	assert.Zero(t, m.Sortino)

	assert.InDelta(t, 66.6667, m.WinRate, 1e-4)
	assert.InDelta(t, 32.374/11.0, float64(m.ProfitFactor), 1e-9)
}

func TestComputeEmptyInputs(t *testing.T) {
	m := Compute(nil, nil, testCfg)
	assert.Zero(t, m.TotalReturn)
	assert.Zero(t, m.AnnualReturn)
	assert.Zero(t, m.Volatility)
	assert.Zero(t, m.Sharpe)
	assert.Zero(t, m.Sortino)
	assert.Zero(t, m.MaxDrawdown)
	assert.Zero(t, m.DrawdownDuration)
	assert.Zero(t, m.WinRate)
	assert.Zero(t, float64(m.ProfitFactor))
}

func TestComputeSinglePoint(t *testing.T) {
	m := Compute([]float64{100}, nil, testCfg)
	assert.Zero(t, m.TotalReturn)
	assert.Zero(t, m.Volatility)
}

func TestComputeFlatEquity(t *testing.T) {
	// 收益全零：标准差为 0，夏普退化为 0 而不是 NaN。
	m := Compute([]float64{100, 100, 100, 100}, nil, testCfg)
	assert.Zero(t, m.TotalReturn)
	assert.Zero(t, m.Sharpe)
	assert.Zero(t, m.Sortino)
	assert.Zero(t, m.MaxDrawdown)
	assert.Zero(t, m.Calmar)
	assert.Zero(t, m.RecoveryFactor)
}

func TestComputeMonotonicEquityNoDrawdown(t *testing.T) {
	m := Compute([]float64{100, 105, 110, 120}, []float64{5, 5, 10}, testCfg)
	assert.Zero(t, m.MaxDrawdown)
	assert.Zero(t, m.DrawdownDuration)
	// 回撤为 0 时 calmar/recovery 取哨兵值 0。
	assert.Zero(t, m.Calmar)
	assert.Zero(t, m.RecoveryFactor)
	assert.Equal(t, 100.0, m.WinRate)
	assert.True(t, m.ProfitFactor.IsInf())
}

func TestComputeNeverProducesNaN(t *testing.T) {
	cases := [][]float64{
		nil,
		{},
		{100},
		{100, 100},
		{100, 0, 100},
		{100, 50, 25},
	}
	for _, equity := range cases {
		m := Compute(equity, nil, testCfg)
		for name, v := range map[string]float64{
			"total":    m.TotalReturn,
			"annual":   m.AnnualReturn,
			"vol":      m.Volatility,
			"sharpe":   m.Sharpe,
			"sortino":  m.Sortino,
			"calmar":   m.Calmar,
			"maxdd":    m.MaxDrawdown,
			"winrate":  m.WinRate,
			"recovery": m.RecoveryFactor,
			"best":     m.BestDay,
			"worst":    m.WorstDay,
		} {
			assert.False(t, math.IsNaN(v), "equity=%v 指标 %s 出现 NaN", equity, name)
		}
	}
}

func TestProfitFactorSentinels(t *testing.T) {
	assert.Equal(t, ProfitFactor(0), profitFactor(nil))
	assert.Equal(t, ProfitFactor(0), profitFactor([]float64{0, 0}))
	assert.True(t, profitFactor([]float64{5, 10}).IsInf())
	assert.InDelta(t, 0.5, float64(profitFactor([]float64{5, -10})), 1e-12)
}

func TestProfitFactorJSON(t *testing.T) {
	data, err := json.Marshal(ProfitFactor(math.Inf(1)))
	require.NoError(t, err)
	assert.Equal(t, `"inf"`, string(data))

	data, err = json.Marshal(ProfitFactor(1.5))
	require.NoError(t, err)
	assert.Equal(t, `1.5`, string(data))

	var p ProfitFactor
	require.NoError(t, json.Unmarshal([]byte(`"inf"`), &p))
	assert.True(t, p.IsInf())
	require.NoError(t, json.Unmarshal([]byte(`2.25`), &p))
	assert.Equal(t, ProfitFactor(2.25), p)
}

func TestWinRate(t *testing.T) {
	assert.Zero(t, winRate(nil))
	assert.Equal(t, 50.0, winRate([]float64{1, -1}))
	// 盈亏为零的交易不算赢。
	assert.Zero(t, winRate([]float64{0}))
}

func TestStddevSample(t *testing.T) {
	// 样本标准差（n−1），与 pandas 默认一致。
	assert.InDelta(t, 1.0, stddev([]float64{1, 2, 3}), 1e-12)
	assert.Zero(t, stddev([]float64{5}))
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{TradingDays: 0}.Validate())
	assert.NoError(t, Config{RiskFreeRate: 0.065, TradingDays: 252}.Validate())
}
