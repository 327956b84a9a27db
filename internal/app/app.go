// Package app 负责应用级编排：加载配置→初始化依赖→启动 HTTP 服务。
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"quiver/internal/analytics"
	"quiver/internal/backtest"
	"quiver/internal/config"
	"quiver/internal/feed"
	"quiver/internal/logger"
	"quiver/internal/strategy"

	"golang.org/x/sync/errgroup"
)

// App 持有已装配好的服务，构造即完成依赖注入。
type App struct {
	cfg     *config.Config
	feed    *feed.Service
	store   *backtest.ResultStore
	presets *strategy.PresetRegistry
	svc     *backtest.Service
	http    *backtest.HTTPServer

	barStore *feed.Store
}

// New 根据配置构建应用对象（不启动）。
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	source, err := buildSource(cfg)
	if err != nil {
		return nil, err
	}
	barStore, err := feed.NewStore(filepath.Join(cfg.App.DataDir, "candles"))
	if err != nil {
		return nil, fmt.Errorf("初始化行情缓存失败: %w", err)
	}
	feedSvc := feed.NewService(source, barStore)

	store, err := backtest.NewResultStore(filepath.Join(cfg.App.DataDir, "backtest.db"))
	if err != nil {
		return nil, fmt.Errorf("初始化结果存储失败: %w", err)
	}

	var presets *strategy.PresetRegistry
	if path := strings.TrimSpace(cfg.Presets.Path); path != "" {
		presets, err = strategy.NewPresetRegistry(path)
		if err != nil {
			return nil, fmt.Errorf("加载策略预设失败: %w", err)
		}
	}

	svc := backtest.NewService(feedSvc, store, presets, backtest.Defaults{
		Timeframe: cfg.Data.Timeframe,
		Exec: backtest.ExecConfig{
			InitialCapital:   cfg.Execution.InitialCapital,
			CommissionRate:   cfg.Execution.CommissionRate,
			PositionFraction: cfg.Execution.PositionFraction,
			FillPolicy:       cfg.Execution.FillPolicy,
		},
		Analytics: analyticsConfig(cfg),
	}, cfg.HTTP.MaxConcurrent)

	a := &App{
		cfg:      cfg,
		feed:     feedSvc,
		store:    store,
		presets:  presets,
		svc:      svc,
		barStore: barStore,
	}
	if cfg.HTTP.Enabled {
		srv, err := backtest.NewHTTPServer(backtest.HTTPConfig{Addr: cfg.HTTP.Addr, Service: svc})
		if err != nil {
			return nil, err
		}
		a.http = srv
	}
	return a, nil
}

// Service 暴露回测服务，CLI 直接调用。
func (a *App) Service() *backtest.Service { return a.svc }

// Feed 暴露行情服务。
func (a *App) Feed() *feed.Service { return a.feed }

// Run 启动 HTTP 服务并阻塞到 ctx 取消或收到终止信号。
func (a *App) Run(ctx context.Context) error {
	if a.http == nil {
		return fmt.Errorf("http 未启用，无常驻服务可跑")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infof("HTTP 服务启动于 %s", a.cfg.HTTP.Addr)
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	err := group.Wait()
	a.svc.Wait()
	return err
}

// Close 释放全部持久化资源。
func (a *App) Close() error {
	var firstErr error
	if a.barStore != nil {
		if err := a.barStore.Close(); err != nil {
			firstErr = err
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildSource(cfg *config.Config) (feed.Source, error) {
	switch strings.ToLower(cfg.Data.Source) {
	case "binance":
		timeout := cfg.Data.RequestTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		return feed.NewBinanceSource(cfg.Data.BinanceBaseURL, timeout), nil
	case "csv":
		return feed.NewCSVSource(cfg.Data.CSVPath), nil
	default:
		return nil, fmt.Errorf("未知数据源: %q", cfg.Data.Source)
	}
}

func analyticsConfig(cfg *config.Config) analytics.Config {
	return analytics.Config{
		RiskFreeRate: cfg.Analytics.RiskFreeRate,
		TradingDays:  cfg.Analytics.TradingDays,
	}
}
