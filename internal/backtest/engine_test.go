package backtest

import (
	"testing"

	"quiver/internal/market"
	"quiver/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(closes ...float64) []market.Bar {
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = bar(int64(i+1)*1000, c)
	}
	return bars
}

func testExec() ExecConfig {
	return ExecConfig{InitialCapital: 100000, CommissionRate: 0.0005, PositionFraction: 0.95}
}

// 下跌段把 RSI 压到 0 触发买入，之后缓慢阴跌，信号不再出现，
// 仓位一路扛到序列末尾被强平。
func declineSeries(n int) []market.Bar {
	closes := make([]float64, n)
	price := 100.0
	for i := range closes {
		price *= 0.99
		closes[i] = price
	}
	return series(closes...)
}

func rsiParams() strategy.Params {
	p := strategy.DefaultParams(strategy.KindRSI)
	p.RSI.Period = 3
	return p
}

func TestEngineEquityPointPerBar(t *testing.T) {
	bars := declineSeries(20)
	e, err := NewEngine(bars, rsiParams(), testExec())
	require.NoError(t, err)

	result := e.Run()
	require.Len(t, result.Equity, len(bars))
	for i, p := range result.Equity {
		assert.Equal(t, bars[i].OpenTime, p.TS, "i=%d", i)
	}
}

func TestEngineForcedCloseAtEnd(t *testing.T) {
	bars := declineSeries(20)
	e, err := NewEngine(bars, rsiParams(), testExec())
	require.NoError(t, err)

	result := e.Run()
	require.Len(t, result.Trades, 1)
	tr := result.Trades[0]
	assert.True(t, tr.Forced)
	assert.Equal(t, bars[len(bars)-1].OpenTime, tr.ExitTS)

	// 强平后全部头寸已实现，期末市值等于现金，
	// 且等于最后一个资金曲线点。
	assert.InDelta(t, result.FinalValue, result.Equity[len(result.Equity)-1].Value, 1e-9)
	assert.InDelta(t, 100000+tr.PnL, result.FinalValue, 1e-9)
}

func TestEngineNoSignalsNoTrades(t *testing.T) {
	// 横盘序列：RSI 永远在阈值区间里，没有任何成交。
	closes := make([]float64, 30)
	for i := range closes {
		if i%2 == 0 {
			closes[i] = 100
		} else {
			closes[i] = 101
		}
	}
	e, err := NewEngine(series(closes...), rsiParams(), testExec())
	require.NoError(t, err)

	result := e.Run()
	assert.Empty(t, result.Trades)
	assert.Equal(t, 100000.0, result.FinalValue)
	for _, p := range result.Equity {
		assert.Equal(t, 100000.0, p.Value)
	}
}

func TestEngineDeterministic(t *testing.T) {
	bars := declineSeries(40)
	run := func() Result {
		e, err := NewEngine(bars, rsiParams(), testExec())
		require.NoError(t, err)
		return e.Run()
	}
	assert.Equal(t, run(), run())
}

// 重复调用 Run 不会带着已预热的指标状态重新模拟：
// 返回的是首轮结果，交易也不会翻倍。
func TestEngineRunIdempotent(t *testing.T) {
	e, err := NewEngine(declineSeries(20), rsiParams(), testExec())
	require.NoError(t, err)

	first := e.Run()
	second := e.Run()
	assert.Equal(t, first, second)
	require.Len(t, second.Trades, 1)
}

func TestEngineMACrossoverRoundTrip(t *testing.T) {
	// 先涨出金叉、再跌出死叉，应该出现一笔非强平交易。
	closes := []float64{
		100, 99, 98, 97, 96, 95, 94, 93, 92, 91, // 下跌打底
		95, 99, 103, 107, 111, 115, 119, 123, 127, 131, // 拉升触发金叉
		125, 119, 113, 107, 101, 95, 89, 83, 77, 71, // 回落触发死叉
	}
	p := strategy.DefaultParams(strategy.KindMACrossover)
	p.MACrossover.FastPeriod = 3
	p.MACrossover.SlowPeriod = 8

	e, err := NewEngine(series(closes...), p, testExec())
	require.NoError(t, err)
	result := e.Run()

	require.NotEmpty(t, result.Trades)
	first := result.Trades[0]
	assert.False(t, first.Forced)
	assert.Greater(t, first.ExitTS, first.EntryTS)
	assert.Greater(t, first.EntryPrice, 0.0)
}

func TestNewEngineFailFast(t *testing.T) {
	bars := declineSeries(20)

	// 空序列。
	_, err := NewEngine(nil, rsiParams(), testExec())
	assert.Error(t, err)

	// 非法执行配置。
	bad := testExec()
	bad.InitialCapital = -1
	_, err = NewEngine(bars, rsiParams(), bad)
	assert.Error(t, err)

	// 非法策略参数。
	p := strategy.DefaultParams(strategy.KindMACrossover)
	p.MACrossover.FastPeriod = 50
	p.MACrossover.SlowPeriod = 10
	_, err = NewEngine(bars, p, testExec())
	assert.Error(t, err)

	// 指标窗口不短于 bar 数，warm-up 无法完成。
	p = strategy.DefaultParams(strategy.KindMACrossover)
	p.MACrossover.SlowPeriod = len(bars)
	_, err = NewEngine(bars, p, testExec())
	assert.Error(t, err)

	// 坏数据（时间戳乱序）。
	swapped := append([]market.Bar(nil), bars...)
	swapped[3], swapped[4] = swapped[4], swapped[3]
	_, err = NewEngine(swapped, rsiParams(), testExec())
	assert.Error(t, err)
}
