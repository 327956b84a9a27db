package backtest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"quiver/internal/report"

	"github.com/gin-gonic/gin"
)

// HTTPServer 提供 Gin 接口：提交回测、查询结果、同步行情、浏览预设。
type HTTPServer struct {
	addr   string
	svc    *Service
	router *gin.Engine
}

type HTTPConfig struct {
	Addr    string
	Service *Service
}

func NewHTTPServer(cfg HTTPConfig) (*HTTPServer, error) {
	if cfg.Service == nil {
		return nil, errors.New("service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HTTPServer{addr: cfg.Addr, svc: cfg.Service, router: router}
	s.registerRoutes()
	return s, nil
}

// Router 暴露给测试用。
func (s *HTTPServer) Router() http.Handler { return s.router }

func (s *HTTPServer) registerRoutes() {
	api := s.router.Group("/api/backtest")
	api.POST("/fetch", s.handleFetch)
	api.GET("/data", s.handleManifest)
	api.GET("/presets", s.handlePresets)
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/equity", s.handleRunEquity)
	api.GET("/runs/:id/report", s.handleRunReport)
}

func (s *HTTPServer) handleFetch(c *gin.Context) {
	var req struct {
		Symbol    string `json:"symbol" binding:"required"`
		Timeframe string `json:"timeframe" binding:"required"`
		StartTS   int64  `json:"start_ts" binding:"required"`
		EndTS     int64  `json:"end_ts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := s.svc.feed.Sync(c.Request.Context(), req.Symbol, req.Timeframe, req.StartTS, req.EndTS)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"synced": n})
}

func (s *HTTPServer) handleManifest(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	info, err := s.svc.feed.Manifest(c.Request.Context(), symbol, tf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}

func (s *HTTPServer) handlePresets(c *gin.Context) {
	if s.svc.presets == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "预设注册表未启用"})
		return
	}
	snap := s.svc.presets.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"version":   snap.Version,
		"loaded_at": snap.LoadedAt,
		"presets":   snap.Presets,
	})
}

func (s *HTTPServer) handleRunStart(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.svc.Submit(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *HTTPServer) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.svc.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *HTTPServer) handleRunDetail(c *gin.Context) {
	run, err := s.svc.store.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *HTTPServer) handleRunTrades(c *gin.Context) {
	trades, err := s.svc.store.ListTrades(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *HTTPServer) handleRunEquity(c *gin.Context) {
	points, err := s.svc.store.GetEquity(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": points})
}

// handleRunReport 渲染可视化报告（K 线 + 均线、资金曲线、回撤）。
func (s *HTTPServer) handleRunReport(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	run, err := s.svc.store.GetRun(ctx, id)
	if errors.Is(err, ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if run.Status != RunStatusDone {
		c.JSON(http.StatusConflict, gin.H{"error": "run 尚未完成: " + run.Status})
		return
	}
	input, err := s.reportInput(ctx, run)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := report.RenderHTML(c.Writer, input); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *HTTPServer) reportInput(ctx context.Context, run Run) (report.Input, error) {
	points, err := s.svc.store.GetEquity(ctx, run.ID)
	if err != nil {
		return report.Input{}, err
	}
	trades, err := s.svc.store.ListTrades(ctx, run.ID)
	if err != nil {
		return report.Input{}, err
	}
	bars, err := s.svc.feed.Load(ctx, run.Symbol, run.Timeframe, run.StartTS, run.EndTS)
	if err != nil {
		return report.Input{}, err
	}
	input := report.Input{
		Title:          run.Symbol + " / " + string(run.Strategy),
		Strategy:       string(run.Strategy),
		Symbol:         run.Symbol,
		InitialCapital: run.InitialCapital,
		FinalValue:     run.FinalValue,
		Metrics:        run.Metrics,
		Bars:           bars,
	}
	for _, p := range points {
		input.Equity = append(input.Equity, report.Point{TS: p.TS, Value: p.Value})
	}
	for _, t := range trades {
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
	return input, nil
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *HTTPServer) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
