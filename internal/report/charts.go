package report

import (
	"fmt"
	"io"
	"math"
	"time"

	"quiver/internal/market"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	talib "github.com/markcheno/go-talib"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorSMAFast       = "#3b82f6"
	colorSMASlow       = "#fbbf24"
	colorEquity        = "#22d3ee"
	colorDrawdown      = "#fb7185"

	chartWidthPx  = 1400
	chartHeightPx = 480

	smaFastPeriod = 10
	smaSlowPeriod = 30
)

// RenderHTML 输出一页三图：K 线 + 均线、资金曲线、回撤曲线。
func RenderHTML(w io.Writer, in Input) error {
	if len(in.Bars) == 0 {
		return fmt.Errorf("没有 K 线数据可渲染")
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = in.Title

	xAxis := buildXAxis(in)
	page.AddCharts(
		buildKlineChart(in, xAxis),
		buildEquityChart(in),
		buildDrawdownChart(in),
	)
	return page.Render(w)
}

func chartInit(height int) opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", height),
		BackgroundColor: colorBackground,
	}
}

func buildXAxis(in Input) []string {
	x := make([]string, len(in.Bars))
	for i, b := range in.Bars {
		x[i] = time.UnixMilli(b.OpenTime).UTC().Format("2006-01-02")
	}
	return x
}

func buildKlineChart(in Input, xAxis []string) *charts.Kline {
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit(chartHeightPx)),
		charts.WithTitleOpts(opts.Title{
			Title:      in.Title,
			Subtitle:   fmt.Sprintf("总收益 %.2f%%  最大回撤 %.2f%%", in.Metrics.TotalReturn, in.Metrics.MaxDrawdown),
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{
				Color: colorTextSecondary,
			},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	data := make([]opts.KlineData, len(in.Bars))
	for i, b := range in.Bars {
		data[i] = opts.KlineData{Value: [4]float64{b.Open, b.Close, b.Low, b.High}}
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", data)

	if overlay := buildSMAOverlay(in, xAxis); overlay != nil {
		kline.Overlap(overlay)
	}
	return kline
}

// buildSMAOverlay 叠加两条参考均线，窗口不够长时跳过。
func buildSMAOverlay(in Input, xAxis []string) *charts.Line {
	closes := market.Closes(in.Bars)
	if len(closes) <= smaSlowPeriod {
		return nil
	}
	line := charts.NewLine()
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries(fmt.Sprintf("SMA%d", smaFastPeriod), toLineData(talib.Sma(closes, smaFastPeriod)),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorSMAFast, Width: 2}))
	line.AddSeries(fmt.Sprintf("SMA%d", smaSlowPeriod), toLineData(talib.Sma(closes, smaSlowPeriod)),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorSMASlow, Width: 2}))
	return line
}

func buildEquityChart(in Input) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit(320)),
		charts.WithTitleOpts(opts.Title{Title: "资金曲线", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true), AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
	)
	x := make([]string, len(in.Equity))
	data := make([]opts.LineData, len(in.Equity))
	for i, p := range in.Equity {
		x[i] = time.UnixMilli(p.TS).UTC().Format("2006-01-02")
		data[i] = opts.LineData{Value: round(p.Value, 2)}
	}
	line.SetXAxis(x)
	line.AddSeries("Equity", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

// buildDrawdownChart 从资金曲线现算相对运行峰值的回撤。
func buildDrawdownChart(in Input) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit(320)),
		charts.WithTitleOpts(opts.Title{Title: "回撤（%）", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
	)
	x := make([]string, len(in.Equity))
	data := make([]opts.LineData, len(in.Equity))
	peak := math.Inf(-1)
	for i, p := range in.Equity {
		if p.Value > peak {
			peak = p.Value
		}
		dd := 0.0
		if peak > 0 {
			dd = (p.Value - peak) / peak * 100
		}
		x[i] = time.UnixMilli(p.TS).UTC().Format("2006-01-02")
		data[i] = opts.LineData{Value: round(dd, 2)}
	}
	line.SetXAxis(x)
	line.AddSeries("Drawdown", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 2}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: colorDrawdown, Opacity: opts.Float(0.25)}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func toLineData(series []float64) []opts.LineData {
	data := make([]opts.LineData, len(series))
	for i, v := range series {
		if math.IsNaN(v) || v == 0 {
			data[i] = opts.LineData{Value: nil}
			continue
		}
		data[i] = opts.LineData{Value: round(v, 4)}
	}
	return data
}

func round(val float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
