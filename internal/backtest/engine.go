package backtest

import (
	"fmt"

	"quiver/internal/market"
	"quiver/internal/strategy"
)

// engineState 描述一次模拟的生命周期：
// INIT → RUNNING（逐 bar）→ FINALIZING（强平）→ DONE。
type engineState int

const (
	stateInit engineState = iota
	stateRunning
	stateFinalizing
	stateDone
)

// Engine 驱动单次回测：逐 bar 更新指标、取信号、撮合、记资金曲线。
// 模拟严格单线程顺序执行，任何一根 bar 的决策都读不到它之后的数据；
// 相同输入必然产出相同 Result。
type Engine struct {
	bars  []market.Bar
	strat *strategy.Strategy
	exec  ExecConfig

	state  engineState
	result Result
}

// NewEngine 在任何模拟步骤之前完成全部校验：K 线序列合法、资金与费率
// 合法、所有指标窗口都短于 bar 数。校验失败直接返回配置错误。
func NewEngine(bars []market.Bar, params strategy.Params, exec ExecConfig) (*Engine, error) {
	if err := market.ValidateSeries(bars); err != nil {
		return nil, fmt.Errorf("K 线序列非法: %w", err)
	}
	if err := exec.Validate(); err != nil {
		return nil, fmt.Errorf("执行配置非法: %w", err)
	}
	strat, err := strategy.New(params)
	if err != nil {
		return nil, fmt.Errorf("策略配置非法: %w", err)
	}
	if strat.MaxPeriod() >= len(bars) {
		return nil, fmt.Errorf("指标窗口 %d 不小于 bar 数 %d，无法完成 warm-up",
			strat.MaxPeriod(), len(bars))
	}
	return &Engine{bars: bars, strat: strat, exec: exec, state: stateInit}, nil
}

// Run 执行模拟并返回完整结果。资金曲线与 bar 一一对应（恰好 N 个点）。
// 指标状态只能消费一次：重复调用不会重跑，直接返回首轮结果。
func (e *Engine) Run() Result {
	if e.state != stateInit {
		return e.result
	}
	broker := NewBroker(e.exec)
	equity := make([]EquityPoint, 0, len(e.bars))

	e.state = stateRunning
	for _, bar := range e.bars {
		sig := e.strat.OnBar(bar, broker.PositionOpen())
		broker.Apply(sig, bar)
		equity = append(equity, EquityPoint{TS: bar.OpenTime, Value: broker.Equity(bar.Close)})
	}

	e.state = stateFinalizing
	last := e.bars[len(e.bars)-1]
	if broker.PositionOpen() {
		broker.ForceClose(last)
		// 强平不改变最后一个点的市值口径：按收盘价平仓前后 equity 相差
		// 的只是平仓佣金，这里用平仓后的真实现金覆盖最后一个点。
		equity[len(equity)-1] = EquityPoint{TS: last.OpenTime, Value: broker.Equity(last.Close)}
	}

	e.state = stateDone
	e.result = Result{
		FinalValue: broker.Equity(last.Close),
		Trades:     broker.Trades(),
		Equity:     equity,
	}
	return e.result
}
