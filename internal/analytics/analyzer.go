// Package analytics 把资金曲线与交易日志折算成一组风险/收益指标。
// 所有比率都从资金曲线推导，不另行维护一份收益率序列，避免两套口径漂移。
// 计算是无状态纯函数，可以在并发回测下直接调用。
package analytics

import (
	"fmt"
	"math"
	"strconv"
)

// Config 是显式传入的分析参数，不读任何全局状态。
type Config struct {
	RiskFreeRate float64 `json:"risk_free_rate"`
	TradingDays  int     `json:"trading_days"`
}

// Validate 检查分析配置。
func (c Config) Validate() error {
	if c.TradingDays <= 0 {
		return fmt.Errorf("trading_days 必须为正: %d", c.TradingDays)
	}
	return nil
}

// ProfitFactor 可能为 +Inf（只有盈利没有亏损时）。JSON 里用字符串 "inf"
// 表示，避免 NaN/Inf 悄悄漏进序列化。
type ProfitFactor float64

func (p ProfitFactor) MarshalJSON() ([]byte, error) {
	if math.IsInf(float64(p), 1) {
		return []byte(`"inf"`), nil
	}
	return []byte(strconv.FormatFloat(float64(p), 'f', -1, 64)), nil
}

func (p *ProfitFactor) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == `"inf"` {
		*p = ProfitFactor(math.Inf(1))
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("profit_factor 非法: %s", s)
	}
	*p = ProfitFactor(v)
	return nil
}

// IsInf 返回是否为无穷（全部交易盈利）。
func (p ProfitFactor) IsInf() bool { return math.IsInf(float64(p), 1) }

// Metrics 汇总全部性能指标。百分比字段以百分数计（21.37 表示 21.37%）。
// 算术边界情形一律折算到文档化的哨兵值（0 或 profit_factor 的 +Inf），
// 绝不抛错，保证报告总能产出。
type Metrics struct {
	TotalReturn      float64      `json:"total_return"`
	AnnualReturn     float64      `json:"annual_return"`
	Volatility       float64      `json:"volatility"`
	Sharpe           float64      `json:"sharpe_ratio"`
	Sortino          float64      `json:"sortino_ratio"`
	Calmar           float64      `json:"calmar_ratio"`
	MaxDrawdown      float64      `json:"max_drawdown"`
	DrawdownDuration int          `json:"drawdown_duration"`
	WinRate          float64      `json:"win_rate"`
	ProfitFactor     ProfitFactor `json:"profit_factor"`
	RecoveryFactor   float64      `json:"recovery_factor"`
	BestDay          float64      `json:"best_day"`
	WorstDay         float64      `json:"worst_day"`
}

// Compute 把 (资金曲线, 每笔交易盈亏, 配置) 映射为指标。
// equity 是逐 bar 的组合市值，pnls 是每笔已平仓交易的净盈亏。
func Compute(equity []float64, pnls []float64, cfg Config) Metrics {
	m := Metrics{}
	returns := dailyReturns(equity)

	m.TotalReturn = totalReturn(equity)
	m.AnnualReturn = annualReturn(m.TotalReturn, len(equity), cfg.TradingDays)
	m.Volatility = volatility(returns, cfg.TradingDays)
	m.Sharpe = sharpe(returns, cfg)
	m.Sortino = sortino(returns, cfg)
	m.MaxDrawdown, m.DrawdownDuration = maxDrawdown(returns)
	m.Calmar = ratioOverDrawdown(m.AnnualReturn, m.MaxDrawdown)
	m.RecoveryFactor = ratioOverDrawdown(m.TotalReturn, m.MaxDrawdown)
	m.WinRate = winRate(pnls)
	m.ProfitFactor = profitFactor(pnls)
	m.BestDay, m.WorstDay = bestWorstDay(returns)
	return m
}

// dailyReturns 计算逐 bar 收益率 r_t = e_t/e_{t-1} − 1。
func dailyReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1]
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, equity[i]/prev-1)
	}
	return out
}

func totalReturn(equity []float64) float64 {
	if len(equity) < 2 || equity[0] == 0 {
		return 0
	}
	return (equity[len(equity)-1]/equity[0] - 1) * 100
}

func annualReturn(totalPct float64, points, tradingDays int) float64 {
	if points < 2 || tradingDays <= 0 {
		return 0
	}
	nYears := float64(points-1) / float64(tradingDays)
	if nYears <= 0 {
		return 0
	}
	return (math.Pow(1+totalPct/100, 1/nYears) - 1) * 100
}

func volatility(returns []float64, tradingDays int) float64 {
	if len(returns) < 2 {
		return 0
	}
	return stddev(returns) * math.Sqrt(float64(tradingDays)) * 100
}

func sharpe(returns []float64, cfg Config) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd := stddev(returns)
	if sd == 0 {
		return 0
	}
	excess := mean(returns) - cfg.RiskFreeRate/float64(cfg.TradingDays)
	return excess / sd * math.Sqrt(float64(cfg.TradingDays))
}

// sortino 只惩罚下行波动：分母为负收益子集的标准差。
// 没有负收益、或负收益不足以定义标准差时返回 0。
func sortino(returns []float64, cfg Config) float64 {
	if len(returns) < 2 {
		return 0
	}
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) < 2 {
		return 0
	}
	sd := stddev(downside)
	if sd == 0 {
		return 0
	}
	excess := mean(returns) - cfg.RiskFreeRate/float64(cfg.TradingDays)
	return excess / sd * math.Sqrt(float64(cfg.TradingDays))
}

// maxDrawdown 以资金曲线为唯一事实来源：cum_t 为 (1+r) 的累积乘积，
// 相对运行峰值的最深跌幅即最大回撤（恒 ≤ 0）。同时统计最长连续处于
// 回撤中的 bar 数。
func maxDrawdown(returns []float64) (float64, int) {
	if len(returns) == 0 {
		return 0, 0
	}
	cum := 1.0
	runningMax := math.Inf(-1)
	minDD := 0.0
	longest, current := 0, 0
	for _, r := range returns {
		cum *= 1 + r
		if cum > runningMax {
			runningMax = cum
		}
		if runningMax != 0 {
			dd := (cum - runningMax) / runningMax
			if dd < minDD {
				minDD = dd
			}
		}
		if cum < runningMax {
			current++
			if current > longest {
				longest = current
			}
		} else {
			current = 0
		}
	}
	return minDD * 100, longest
}

func ratioOverDrawdown(pct float64, maxDD float64) float64 {
	if maxDD == 0 {
		return 0
	}
	return (pct / 100) / math.Abs(maxDD/100)
}

func winRate(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	wins := 0
	for _, p := range pnls {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(pnls)) * 100
}

func profitFactor(pnls []float64) ProfitFactor {
	var grossProfit, grossLoss float64
	for _, p := range pnls {
		if p > 0 {
			grossProfit += p
		} else if p < 0 {
			grossLoss -= p
		}
	}
	if grossLoss == 0 {
		if grossProfit == 0 {
			return 0
		}
		return ProfitFactor(math.Inf(1))
	}
	return ProfitFactor(grossProfit / grossLoss)
}

func bestWorstDay(returns []float64) (float64, float64) {
	if len(returns) == 0 {
		return 0, 0
	}
	best, worst := returns[0], returns[0]
	for _, r := range returns[1:] {
		if r > best {
			best = r
		}
		if r < worst {
			worst = r
		}
	}
	return best * 100, worst * 100
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev 为样本标准差（除以 n−1），与 pandas 默认口径一致。
func stddev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	mu := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - mu
		sum += d * d
	}
	return math.Sqrt(sum / float64(n-1))
}
