package backtest

import (
	"quiver/internal/logger"
	"quiver/internal/market"
	"quiver/internal/strategy"
)

// position 是唯一允许的在场仓位：只做多，size > 0。
type position struct {
	entryPrice      float64
	entryTS         int64
	size            float64
	entryCommission float64
}

// Broker 是单标的、单仓位的撮合模型：持有现金余额，把信号变成成交。
// 成交价恒为产生信号那根 bar 的收盘价。
type Broker struct {
	cash             float64
	commissionRate   float64
	positionFraction float64

	pos    *position
	trades []Trade
}

func NewBroker(cfg ExecConfig) *Broker {
	return &Broker{
		cash:             cfg.InitialCapital,
		commissionRate:   cfg.CommissionRate,
		positionFraction: cfg.PositionFraction,
	}
}

// PositionOpen 返回当前是否持仓。
func (b *Broker) PositionOpen() bool { return b.pos != nil }

// Cash 返回现金余额。
func (b *Broker) Cash() float64 { return b.cash }

// Equity 返回 cash + 持仓按 price 的市值。
func (b *Broker) Equity(price float64) float64 {
	if b.pos == nil {
		return b.cash
	}
	return b.cash + b.pos.size*price
}

// Trades 返回已实现的交易记录。
func (b *Broker) Trades() []Trade { return b.trades }

// Apply 把信号作用到账户上。持仓时的 BUY、空仓时的 SELL 都是静默 no-op：
// 策略侧的先后求值规则已经挡住了蓄意误用，这里不视为错误。
func (b *Broker) Apply(sig strategy.Signal, bar market.Bar) {
	switch sig {
	case strategy.Buy:
		if b.pos != nil {
			return
		}
		b.open(bar)
	case strategy.Sell:
		if b.pos == nil {
			return
		}
		b.close(bar, false)
	}
}

// ForceClose 在序列末尾强平在场仓位，保证交易日志全部已实现。
// 这是有意的简化口径，不是隐藏行为。
func (b *Broker) ForceClose(bar market.Bar) {
	if b.pos == nil {
		return
	}
	b.close(bar, true)
}

func (b *Broker) open(bar market.Bar) {
	price := bar.Close
	if price <= 0 {
		return
	}
	size := b.positionFraction * b.cash / price
	if size <= 0 {
		return
	}
	cost := price * size
	commission := cost * b.commissionRate
	if cost+commission > b.cash {
		// position_fraction=1 且费率为正时买不满，放弃本次开仓。
		logger.Debugf("[broker] 现金不足放弃开仓: 需要 %.4f 只有 %.4f", cost+commission, b.cash)
		return
	}
	b.cash -= cost + commission
	b.pos = &position{
		entryPrice:      price,
		entryTS:         bar.OpenTime,
		size:            size,
		entryCommission: commission,
	}
}

func (b *Broker) close(bar market.Bar, forced bool) {
	price := bar.Close
	pos := b.pos
	exitCommission := price * pos.size * b.commissionRate
	proceeds := price*pos.size - exitCommission
	b.cash += proceeds

	commission := pos.entryCommission + exitCommission
	b.trades = append(b.trades, Trade{
		EntryTS:    pos.entryTS,
		ExitTS:     bar.OpenTime,
		EntryPrice: pos.entryPrice,
		ExitPrice:  price,
		Size:       pos.size,
		Commission: commission,
		PnL:        (price-pos.entryPrice)*pos.size - commission,
		Forced:     forced,
	})
	b.pos = nil
}
