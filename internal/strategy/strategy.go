package strategy

import (
	"fmt"

	"quiver/internal/indicator"
	"quiver/internal/market"
)

// Signal 是策略在单根 bar 上的决策。
type Signal int

const (
	Hold Signal = iota
	Buy
	Sell
)

func (s Signal) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "hold"
	}
}

// Kind 枚举内置策略。策略集合是封闭的，不做插件化。
type Kind string

const (
	KindMACrossover Kind = "ma_crossover"
	KindRSI         Kind = "rsi"
	KindBollinger   Kind = "bollinger"
	KindMomentum    Kind = "momentum"
)

// Kinds 返回全部内置策略。
func Kinds() []Kind {
	return []Kind{KindMACrossover, KindRSI, KindBollinger, KindMomentum}
}

// Strategy 持有单次回测所需的指标状态，逐 bar 产出信号。
// 信号判定本身是纯函数（见 decide*），指标滚动窗口是唯一的内部状态。
type Strategy struct {
	kind   Kind
	params Params

	fastSMA  *indicator.SMA
	slowSMA  *indicator.SMA
	rsi      *indicator.RSI
	bands    *indicator.Bollinger
	roc      *indicator.ROC
	trendSMA *indicator.SMA
}

// New 根据参数构建策略实例。参数合法性由 Params.Validate 保证。
func New(p Params) (*Strategy, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s := &Strategy{kind: p.Kind, params: p}
	switch p.Kind {
	case KindMACrossover:
		s.fastSMA = indicator.NewSMA(p.MACrossover.FastPeriod)
		s.slowSMA = indicator.NewSMA(p.MACrossover.SlowPeriod)
	case KindRSI:
		s.rsi = indicator.NewRSI(p.RSI.Period)
	case KindBollinger:
		s.bands = indicator.NewBollinger(p.Bollinger.Period, p.Bollinger.StdMultiplier)
	case KindMomentum:
		s.roc = indicator.NewROC(p.Momentum.ROCPeriod)
		s.trendSMA = indicator.NewSMA(p.Momentum.TrendPeriod)
	default:
		return nil, fmt.Errorf("未知策略: %s", p.Kind)
	}
	return s, nil
}

func (s *Strategy) Kind() Kind     { return s.kind }
func (s *Strategy) Params() Params { return s.params }

// MaxPeriod 返回最长指标窗口，orchestrator 用它做 warm-up 校验。
func (s *Strategy) MaxPeriod() int {
	switch s.kind {
	case KindMACrossover:
		return s.params.MACrossover.SlowPeriod
	case KindRSI:
		// RSI(n) 需要 n 个价格变化，即 n+1 根 bar。
		return s.params.RSI.Period + 1
	case KindBollinger:
		return s.params.Bollinger.Period
	case KindMomentum:
		if s.params.Momentum.ROCPeriod+1 > s.params.Momentum.TrendPeriod {
			return s.params.Momentum.ROCPeriod + 1
		}
		return s.params.Momentum.TrendPeriod
	}
	return 0
}

// OnBar 先更新指标，再做信号判定。BUY 分支永远先于 SELL 求值，
// 同一根 bar 不会同时产出两个信号。
func (s *Strategy) OnBar(bar market.Bar, positionOpen bool) Signal {
	switch s.kind {
	case KindMACrossover:
		s.fastSMA.Update(bar.Close)
		s.slowSMA.Update(bar.Close)
		return decideMACrossover(s.fastSMA.Prev(), s.slowSMA.Prev(), s.fastSMA.Last(), s.slowSMA.Last())
	case KindRSI:
		v := s.rsi.Update(bar.Close)
		return decideRSI(v, s.params.RSI.Lower, s.params.RSI.Upper, positionOpen)
	case KindBollinger:
		b := s.bands.Update(bar.Close)
		return decideBollinger(b, bar.Close, positionOpen)
	case KindMomentum:
		roc := s.roc.Update(bar.Close)
		trend := s.trendSMA.Update(bar.Close)
		return decideMomentum(roc, trend, bar.Close, s.params.Momentum.ROCThreshold, positionOpen)
	}
	return Hold
}

// decideMACrossover 判定均线金叉/死叉。任一取值未就绪即无信号。
func decideMACrossover(prevFast, prevSlow, curFast, curSlow indicator.Value) Signal {
	if !prevFast.Ready || !prevSlow.Ready || !curFast.Ready || !curSlow.Ready {
		return Hold
	}
	if prevFast.Val <= prevSlow.Val && curFast.Val > curSlow.Val {
		return Buy
	}
	if prevFast.Val >= prevSlow.Val && curFast.Val < curSlow.Val {
		return Sell
	}
	return Hold
}

// decideRSI 超卖买入、超买卖出。
func decideRSI(v indicator.Value, lower, upper float64, positionOpen bool) Signal {
	if !v.Ready {
		return Hold
	}
	if v.Val < lower && !positionOpen {
		return Buy
	}
	if v.Val > upper && positionOpen {
		return Sell
	}
	return Hold
}

// decideBollinger 触及下轨买入（均值回归）、触及上轨卖出。
func decideBollinger(b indicator.Bands, close float64, positionOpen bool) Signal {
	if !b.Ready {
		return Hold
	}
	if close <= b.Lower && !positionOpen {
		return Buy
	}
	if close >= b.Upper && positionOpen {
		return Sell
	}
	return Hold
}

// decideMomentum 动量为正且价格在趋势均线上方买入；动量转负或跌破均线卖出。
func decideMomentum(roc, trend indicator.Value, close, threshold float64, positionOpen bool) Signal {
	if !roc.Ready || !trend.Ready {
		return Hold
	}
	if roc.Val > threshold && close > trend.Val && !positionOpen {
		return Buy
	}
	if (roc.Val < -threshold || close < trend.Val) && positionOpen {
		return Sell
	}
	return Hold
}
