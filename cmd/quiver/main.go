package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quiver/internal/app"
	"quiver/internal/backtest"
	qcfg "quiver/internal/config"
	"quiver/internal/logger"
	"quiver/internal/report"
	"quiver/internal/strategy"
)

func main() {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := setupLogOutput(os.Getenv("QUIVER_LOG"))
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	defer a.Close()

	if len(os.Args) > 1 && os.Args[1] == "run" {
		if err := runOnce(ctx, a, cfg, os.Args[2:]); err != nil {
			log.Fatalf("回测失败: %v", err)
		}
		return
	}

	if err := a.Run(ctx); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
}

func loadConfig() (*qcfg.Config, error) {
	cfgPath := os.Getenv("QUIVER_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) && os.Getenv("QUIVER_CONFIG") == "" {
		// 默认路径不存在时退回内置默认，方便裸跑 CLI。
		return qcfg.Default(), nil
	}
	return qcfg.Load(cfgPath)
}

// runOnce 同步执行一次回测并打印文本报告。
func runOnce(ctx context.Context, a *app.App, cfg *qcfg.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	symbol := fs.String("symbol", "BTCUSDT", "交易对")
	kind := fs.String("strategy", "ma_crossover", "策略: ma_crossover|rsi|bollinger|momentum")
	preset := fs.String("preset", "", "预设 ID（与 -strategy 互斥）")
	timeframe := fs.String("timeframe", cfg.Data.Timeframe, "K 线周期")
	start := fs.String("start", "", "开始日期 YYYY-MM-DD")
	end := fs.String("end", "", "结束日期 YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return err
	}
	startTS, endTS, err := parseRange(*start, *end)
	if err != nil {
		return err
	}

	req := backtest.RunRequest{
		Symbol:    *symbol,
		Timeframe: *timeframe,
		StartTS:   startTS,
		EndTS:     endTS,
	}
	if strings.TrimSpace(*preset) != "" {
		req.Preset = *preset
	} else {
		raw, err := strategy.DefaultParams(strategy.Kind(*kind)).MarshalJSONCompact()
		if err != nil {
			return err
		}
		req.Strategy = raw
	}

	svc := a.Service()
	runCfg, err := svc.BuildConfig(req)
	if err != nil {
		return err
	}
	done, result, err := svc.RunOnce(ctx, runCfg)
	if err != nil {
		return err
	}

	bars, err := a.Feed().Load(ctx, runCfg.Symbol, runCfg.Timeframe, runCfg.StartTS, runCfg.EndTS)
	if err != nil {
		return err
	}
	input := report.Input{
		Title:          runCfg.Symbol + " / " + string(runCfg.Strategy.Kind),
		Strategy:       string(runCfg.Strategy.Kind),
		Symbol:         runCfg.Symbol,
		InitialCapital: runCfg.Exec.InitialCapital,
		FinalValue:     result.FinalValue,
		Metrics:        done.Metrics,
		Bars:           bars,
	}
	for _, p := range result.Equity {
		input.Equity = append(input.Equity, report.Point{TS: p.TS, Value: p.Value})
	}
	for _, t := range result.Trades {
		input.Trades = append(input.Trades, report.TradeRow{
			EntryTS:    t.EntryTS,
			ExitTS:     t.ExitTS,
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			Size:       t.Size,
			PnL:        t.PnL,
			Forced:     t.Forced,
		})
	}
	fmt.Print(report.Summary(input))
	return nil
}

func parseRange(start, end string) (int64, int64, error) {
	if start == "" || end == "" {
		return 0, 0, fmt.Errorf("必须给出 -start 与 -end（YYYY-MM-DD）")
	}
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		return 0, 0, fmt.Errorf("start 日期非法: %w", err)
	}
	e, err := time.Parse("2006-01-02", end)
	if err != nil {
		return 0, 0, fmt.Errorf("end 日期非法: %w", err)
	}
	return s.UnixMilli(), e.UnixMilli(), nil
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
