package backtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"quiver/internal/analytics"
	"quiver/internal/feed"
	"quiver/internal/logger"
	"quiver/internal/strategy"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Defaults 是请求未显式给出时使用的执行与分析参数。
type Defaults struct {
	Timeframe string
	Exec      ExecConfig
	Analytics analytics.Config
}

// Service 调度回测任务：解析请求、加载数据、驱动 Engine、落库。
// 提交是异步的，同时在跑的任务数由信号量限制。
type Service struct {
	feed     *feed.Service
	store    *ResultStore
	presets  *strategy.PresetRegistry
	defaults Defaults

	sem chan struct{}
	wg  sync.WaitGroup
}

func NewService(f *feed.Service, store *ResultStore, presets *strategy.PresetRegistry, defaults Defaults, maxConcurrent int) *Service {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	if defaults.Timeframe == "" {
		defaults.Timeframe = "1d"
	}
	s := &Service{
		feed:     f,
		store:    store,
		presets:  presets,
		defaults: defaults,
		sem:      make(chan struct{}, maxConcurrent),
	}
	if presets != nil {
		// 热更新后按名引用的提交立即用到新参数，这里只记一条可观测日志。
		presets.Subscribe(func(snap strategy.PresetSnapshot) {
			logger.Infof("策略预设热更新: %d 个（v%d）", len(snap.Presets), snap.Version)
		})
	}
	return s
}

// BuildConfig 把 HTTP 请求解析为完整的 RunConfig。preset 与内联 strategy
// 二选一；数值覆盖项按是否给出判断（显式的 0 也生效）。解析即校验，
// 非法请求在这里拦下。
func (s *Service) BuildConfig(req RunRequest) (RunConfig, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return RunConfig{}, fmt.Errorf("symbol 不能为空")
	}
	if req.StartTS <= 0 || req.EndTS <= 0 || req.EndTS <= req.StartTS {
		return RunConfig{}, fmt.Errorf("时间区间非法: start_ts=%d end_ts=%d", req.StartTS, req.EndTS)
	}
	timeframe := strings.ToLower(strings.TrimSpace(req.Timeframe))
	if timeframe == "" {
		timeframe = s.defaults.Timeframe
	}
	if _, err := feed.ParseInterval(timeframe); err != nil {
		return RunConfig{}, err
	}

	params, err := s.resolveStrategy(req)
	if err != nil {
		return RunConfig{}, err
	}

	exec := s.defaults.Exec
	if req.InitialCapital != nil {
		exec.InitialCapital = *req.InitialCapital
	}
	if req.CommissionRate != nil {
		exec.CommissionRate = *req.CommissionRate
	}
	if req.PositionFraction != nil {
		exec.PositionFraction = *req.PositionFraction
	}
	if err := exec.Validate(); err != nil {
		return RunConfig{}, err
	}

	an := s.defaults.Analytics
	if req.RiskFreeRate != nil {
		an.RiskFreeRate = *req.RiskFreeRate
	}
	if req.TradingDays != nil {
		an.TradingDays = *req.TradingDays
	}
	if err := an.Validate(); err != nil {
		return RunConfig{}, err
	}

	return RunConfig{
		Symbol:    symbol,
		Timeframe: timeframe,
		StartTS:   req.StartTS,
		EndTS:     req.EndTS,
		Strategy:  params,
		Exec:      exec,
		Analytics: an,
	}, nil
}

func (s *Service) resolveStrategy(req RunRequest) (strategy.Params, error) {
	hasPreset := strings.TrimSpace(req.Preset) != ""
	hasInline := len(req.Strategy) > 0
	switch {
	case hasPreset && hasInline:
		return strategy.Params{}, fmt.Errorf("preset 与 strategy 只能二选一")
	case hasPreset:
		if s.presets == nil {
			return strategy.Params{}, fmt.Errorf("未配置预设注册表")
		}
		p, ok := s.presets.Preset(req.Preset)
		if !ok {
			return strategy.Params{}, fmt.Errorf("预设不存在: %q", req.Preset)
		}
		return p.Params, nil
	case hasInline:
		return strategy.ParamsFromJSON(req.Strategy)
	default:
		return strategy.Params{}, fmt.Errorf("缺少 preset 或 strategy")
	}
}

// Submit 登记任务并在后台执行，立即返回 pending 状态的 Run。
func (s *Service) Submit(ctx context.Context, req RunRequest) (Run, error) {
	cfg, err := s.BuildConfig(req)
	if err != nil {
		return Run{}, err
	}
	run := newRun(cfg)
	if err := s.store.CreateRun(ctx, run); err != nil {
		return Run{}, fmt.Errorf("登记任务失败: %w", err)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
		s.runOne(run, cfg)
	}()
	return run, nil
}

// Wait 等待全部在途任务结束，供优雅退出。
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) runOne(run Run, cfg RunConfig) {
	// 任务生命周期独立于提交请求，用独立超时而不是请求 ctx。
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := s.store.UpdateStatus(ctx, run.ID, RunStatusRunning, ""); err != nil {
		logger.Errorf("run %s 状态更新失败: %v", run.ID, err)
	}
	done, result, err := s.Execute(ctx, run, cfg)
	if err != nil {
		logger.Errorf("run %s 失败: %v", run.ID, err)
		if serr := s.store.UpdateStatus(ctx, run.ID, RunStatusFailed, err.Error()); serr != nil {
			logger.Errorf("run %s 失败状态落库失败: %v", run.ID, serr)
		}
		return
	}
	if err := s.store.Complete(ctx, done, result); err != nil {
		logger.Errorf("run %s 结果落库失败: %v", run.ID, err)
		return
	}
	logger.Infof("run %s 完成: %s %s 终值 %.2f 成交 %d 笔",
		done.ID, done.Symbol, done.Strategy, done.FinalValue, done.Trades)
}

// Execute 同步执行一次回测：加载数据、逐 bar 模拟、折算指标。
// 不触碰任务状态，CLI 与后台 worker 共用。
func (s *Service) Execute(ctx context.Context, run Run, cfg RunConfig) (Run, Result, error) {
	bars, err := s.feed.Load(ctx, cfg.Symbol, cfg.Timeframe, cfg.StartTS, cfg.EndTS)
	if err != nil {
		return Run{}, Result{}, fmt.Errorf("加载行情失败: %w", err)
	}
	engine, err := NewEngine(bars, cfg.Strategy, cfg.Exec)
	if err != nil {
		return Run{}, Result{}, err
	}
	result := engine.Run()

	equity := make([]float64, len(result.Equity))
	for i, p := range result.Equity {
		equity[i] = p.Value
	}
	pnls := make([]float64, len(result.Trades))
	for i, t := range result.Trades {
		pnls[i] = t.PnL
	}
	run.Metrics = analytics.Compute(equity, pnls, cfg.Analytics)
	run.Status = RunStatusDone
	run.FinalValue = result.FinalValue
	run.Trades = len(result.Trades)
	run.UpdatedAt = time.Now()
	run.CompletedAt = run.UpdatedAt
	return run, result, nil
}

// RunOnce 是 Execute 的便捷入口：就地生成任务并同步执行，CLI 使用。
// 结果同样会落库（store 存在时）。
func (s *Service) RunOnce(ctx context.Context, cfg RunConfig) (Run, Result, error) {
	done, result, err := s.Execute(ctx, newRun(cfg), cfg)
	if err != nil {
		return Run{}, Result{}, err
	}
	if s.store != nil {
		if serr := s.store.Complete(ctx, done, result); serr != nil {
			logger.Warnf("run %s 落库失败: %v", done.ID, serr)
		}
	}
	return done, result, nil
}

// SweepResult 是参数扫描中单个组合的产出。
type SweepResult struct {
	Run    Run    `json:"run"`
	Result Result `json:"-"`
	Err    error  `json:"-"`
}

// Sweep 对同一行情区间并发回测多组参数，返回按总收益降序的结果。
// 单个组合失败不终止整个扫描。
func (s *Service) Sweep(ctx context.Context, base RunConfig, paramSets []strategy.Params) ([]SweepResult, error) {
	if len(paramSets) == 0 {
		return nil, fmt.Errorf("扫描参数为空")
	}
	// 行情预热一次，之后的并发任务全部命中缓存。
	if _, err := s.feed.Load(ctx, base.Symbol, base.Timeframe, base.StartTS, base.EndTS); err != nil {
		return nil, fmt.Errorf("加载行情失败: %w", err)
	}

	results := make([]SweepResult, len(paramSets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cap(s.sem))
	for i, params := range paramSets {
		g.Go(func() error {
			cfg := base
			cfg.Strategy = params
			run := newRun(cfg)
			done, result, err := s.Execute(gctx, run, cfg)
			if err != nil {
				results[i] = SweepResult{Run: run, Err: err}
				return nil
			}
			if s.store != nil {
				if serr := s.store.Complete(gctx, done, result); serr != nil {
					logger.Warnf("sweep run %s 落库失败: %v", done.ID, serr)
				}
			}
			results[i] = SweepResult{Run: done, Result: result}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.SliceStable(results, func(a, b int) bool {
		if (results[a].Err == nil) != (results[b].Err == nil) {
			return results[a].Err == nil
		}
		return results[a].Run.Metrics.TotalReturn > results[b].Run.Metrics.TotalReturn
	})
	return results, nil
}

func newRun(cfg RunConfig) Run {
	now := time.Now()
	return Run{
		ID:             uuid.NewString(),
		Symbol:         cfg.Symbol,
		Strategy:       cfg.Strategy.Kind,
		Status:         RunStatusPending,
		StartTS:        cfg.StartTS,
		EndTS:          cfg.EndTS,
		Timeframe:      cfg.Timeframe,
		InitialCapital: cfg.Exec.InitialCapital,
		Config:         cfg,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
