// Package report 把一次回测的结果折算成人读得懂的产物：
// 纯文本摘要（CLI 输出）与 go-echarts 可视化页面（HTTP 输出）。
package report

import (
	"fmt"
	"strings"
	"time"

	"quiver/internal/analytics"
	"quiver/internal/market"
)

// Point 是资金曲线上的一个点。
type Point struct {
	TS    int64
	Value float64
}

// TradeRow 是摘要与图表共用的成交行。
type TradeRow struct {
	EntryTS    int64
	ExitTS     int64
	EntryPrice float64
	ExitPrice  float64
	Size       float64
	PnL        float64
	Forced     bool
}

// Input 聚合渲染所需的全部数据，report 包不反查存储。
type Input struct {
	Title          string
	Strategy       string
	Symbol         string
	InitialCapital float64
	FinalValue     float64
	Metrics        analytics.Metrics
	Bars           []market.Bar
	Equity         []Point
	Trades         []TradeRow
}

// Summary 渲染文本报告。profit factor 为无穷时打印 ∞。
func Summary(in Input) string {
	var b strings.Builder
	line := strings.Repeat("=", 52)

	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "回测报告  %s\n", in.Title)
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "策略           %s\n", in.Strategy)
	fmt.Fprintf(&b, "标的           %s\n", in.Symbol)
	if n := len(in.Bars); n > 0 {
		fmt.Fprintf(&b, "区间           %s ~ %s（%d 根）\n",
			formatTS(in.Bars[0].OpenTime), formatTS(in.Bars[n-1].OpenTime), n)
	}
	fmt.Fprintf(&b, "初始资金       %.2f\n", in.InitialCapital)
	fmt.Fprintf(&b, "期末市值       %.2f\n", in.FinalValue)
	fmt.Fprintln(&b, strings.Repeat("-", 52))

	m := in.Metrics
	fmt.Fprintf(&b, "总收益率       %.2f%%\n", m.TotalReturn)
	fmt.Fprintf(&b, "年化收益率     %.2f%%\n", m.AnnualReturn)
	fmt.Fprintf(&b, "年化波动率     %.2f%%\n", m.Volatility)
	fmt.Fprintf(&b, "夏普比率       %.2f\n", m.Sharpe)
	fmt.Fprintf(&b, "索提诺比率     %.2f\n", m.Sortino)
	fmt.Fprintf(&b, "卡玛比率       %.2f\n", m.Calmar)
	fmt.Fprintf(&b, "最大回撤       %.2f%%（最长 %d 根）\n", m.MaxDrawdown, m.DrawdownDuration)
	fmt.Fprintf(&b, "恢复因子       %.2f\n", m.RecoveryFactor)
	fmt.Fprintf(&b, "胜率           %.2f%%\n", m.WinRate)
	fmt.Fprintf(&b, "盈亏比         %s\n", formatProfitFactor(m.ProfitFactor))
	fmt.Fprintf(&b, "最佳单日       %.2f%%\n", m.BestDay)
	fmt.Fprintf(&b, "最差单日       %.2f%%\n", m.WorstDay)
	fmt.Fprintln(&b, strings.Repeat("-", 52))

	fmt.Fprintf(&b, "成交笔数       %d\n", len(in.Trades))
	for i, t := range in.Trades {
		mark := ""
		if t.Forced {
			mark = "（强平）"
		}
		fmt.Fprintf(&b, "  #%d  %s -> %s  %.4f@%.4f -> %.4f  pnl=%.2f%s\n",
			i+1, formatTS(t.EntryTS), formatTS(t.ExitTS),
			t.Size, t.EntryPrice, t.ExitPrice, t.PnL, mark)
	}
	fmt.Fprintln(&b, line)
	return b.String()
}

func formatProfitFactor(p analytics.ProfitFactor) string {
	if p.IsInf() {
		return "∞"
	}
	return fmt.Sprintf("%.2f", float64(p))
}

func formatTS(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02")
}
