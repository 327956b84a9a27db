package backtest

import (
	"encoding/json"
	"fmt"
	"time"

	"quiver/internal/analytics"
	"quiver/internal/strategy"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// ExecConfig 是执行模拟器的公共配置。
type ExecConfig struct {
	InitialCapital   float64 `json:"initial_capital"`
	CommissionRate   float64 `json:"commission_rate"`
	PositionFraction float64 `json:"position_fraction"`
	// FillPolicy 目前仅支持 "close"：信号 bar 的收盘价成交。
	// 保留字段是为了将来开放 next-open 等口径。
	FillPolicy string `json:"fill_policy,omitempty"`
}

// Validate 在模拟开始前整体校验，绝不部分运行。
func (c ExecConfig) Validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital 必须为正: %.4f", c.InitialCapital)
	}
	if c.CommissionRate < 0 {
		return fmt.Errorf("commission_rate 不能为负: %.6f", c.CommissionRate)
	}
	if c.PositionFraction <= 0 || c.PositionFraction > 1 {
		return fmt.Errorf("position_fraction 必须在 (0,1]: %.4f", c.PositionFraction)
	}
	if c.FillPolicy != "" && c.FillPolicy != "close" {
		return fmt.Errorf("不支持的 fill_policy: %q", c.FillPolicy)
	}
	return nil
}

// Trade 是一笔已平仓交易。pnl = (exit−entry)×size − commission。
type Trade struct {
	EntryTS    int64   `json:"entry_ts"`
	ExitTS     int64   `json:"exit_ts"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	Size       float64 `json:"size"`
	Commission float64 `json:"commission"`
	PnL        float64 `json:"pnl"`
	// Forced 表示该笔是序列结束时的强制平仓。
	Forced bool `json:"forced,omitempty"`
}

// EquityPoint 是资金曲线上的一个点：cash + 持仓按当根收盘价折算。
type EquityPoint struct {
	TS    int64   `json:"ts"`
	Value float64 `json:"value"`
}

// Result 是一次模拟的全部产出，性能分析只消费它。
type Result struct {
	FinalValue float64       `json:"final_value"`
	Trades     []Trade       `json:"trades"`
	Equity     []EquityPoint `json:"equity"`
}

// RunConfig 记录本次回测的参数快照，便于重放。
type RunConfig struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	StartTS   int64           `json:"start_ts"`
	EndTS     int64           `json:"end_ts"`
	Strategy  strategy.Params  `json:"strategy"`
	Exec      ExecConfig       `json:"exec"`
	Analytics analytics.Config `json:"analytics"`
}

// Run 表示一次回测任务。
type Run struct {
	ID             string            `json:"id"`
	Symbol         string            `json:"symbol"`
	Strategy       strategy.Kind     `json:"strategy"`
	Status         string            `json:"status"`
	StartTS        int64             `json:"start_ts"`
	EndTS          int64             `json:"end_ts"`
	Timeframe      string            `json:"timeframe"`
	InitialCapital float64           `json:"initial_capital"`
	FinalValue     float64           `json:"final_value"`
	Message        string            `json:"message"`
	Config         RunConfig         `json:"config"`
	Metrics        analytics.Metrics `json:"metrics"`
	Trades         int               `json:"trades"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	CompletedAt    time.Time         `json:"completed_at"`
}

// RunRequest 为 HTTP 提交使用。Strategy 为原始 JSON（变体字段由 kind 决定），
// Preset 与 Strategy 二选一。数值覆盖项是指针：nil 表示未填落默认值，
// 显式写 0（比如零佣金）同样生效。
type RunRequest struct {
	Symbol           string          `json:"symbol" binding:"required"`
	Timeframe        string          `json:"timeframe"`
	StartTS          int64           `json:"start_ts"`
	EndTS            int64           `json:"end_ts"`
	Preset           string          `json:"preset"`
	Strategy         json.RawMessage `json:"strategy"`
	InitialCapital   *float64        `json:"initial_capital,omitempty"`
	CommissionRate   *float64        `json:"commission_rate,omitempty"`
	PositionFraction *float64        `json:"position_fraction,omitempty"`
	RiskFreeRate     *float64        `json:"risk_free_rate,omitempty"`
	TradingDays      *int            `json:"trading_days,omitempty"`
}
