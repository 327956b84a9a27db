package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quiver/internal/strategy"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound 表示请求的 run 不存在。
var ErrRunNotFound = errors.New("run 不存在")

type runModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	Symbol         string `gorm:"size:32;index"`
	Strategy       string `gorm:"size:32;index"`
	Status         string `gorm:"size:16;index"`
	Timeframe      string `gorm:"size:16"`
	StartTS        int64
	EndTS          int64
	InitialCapital float64
	FinalValue     float64
	TradeCount     int
	Message        string         `gorm:"type:text"`
	Config         datatypes.JSON `gorm:"type:json"`
	Metrics        datatypes.JSON `gorm:"type:json"`
	Equity         datatypes.JSON `gorm:"type:json"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

func (runModel) TableName() string { return "backtest_runs" }

type tradeModel struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	RunID      string `gorm:"size:64;index"`
	Seq        int
	EntryTS    int64
	ExitTS     int64
	EntryPrice float64
	ExitPrice  float64
	Size       float64
	Commission float64
	PnL        float64
	Forced     bool
}

func (tradeModel) TableName() string { return "backtest_trades" }

// ResultStore 用 Gorm + SQLite 持久化回测任务、成交与资金曲线。
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("result store 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &tradeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：给并发的 HTTP 读留一点余量，同时压低锁竞争。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun 以 pending 状态登记一次任务。
func (s *ResultStore) CreateRun(ctx context.Context, run Run) error {
	model, err := runToModel(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&model).Error
}

// UpdateStatus 推进任务状态；message 用于失败原因。
func (s *ResultStore) UpdateStatus(ctx context.Context, id, status, message string) error {
	updates := map[string]any{
		"status":     status,
		"message":    message,
		"updated_at": time.Now(),
	}
	res := s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Complete 写入终态：指标、资金曲线与逐笔成交一并落库。
func (s *ResultStore) Complete(ctx context.Context, run Run, result Result) error {
	model, err := runToModel(run)
	if err != nil {
		return err
	}
	equityJSON, err := json.Marshal(result.Equity)
	if err != nil {
		return err
	}
	now := time.Now()
	model.Status = RunStatusDone
	model.FinalValue = result.FinalValue
	model.TradeCount = len(result.Trades)
	model.Equity = datatypes.JSON(equityJSON)
	model.CompletedAt = &now

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&model).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", run.ID).Delete(&tradeModel{}).Error; err != nil {
			return err
		}
		if len(result.Trades) == 0 {
			return nil
		}
		rows := make([]tradeModel, 0, len(result.Trades))
		for i, t := range result.Trades {
			rows = append(rows, tradeModel{
				RunID:      run.ID,
				Seq:        i,
				EntryTS:    t.EntryTS,
				ExitTS:     t.ExitTS,
				EntryPrice: t.EntryPrice,
				ExitPrice:  t.ExitPrice,
				Size:       t.Size,
				Commission: t.Commission,
				PnL:        t.PnL,
				Forced:     t.Forced,
			})
		}
		return tx.CreateInBatches(rows, 200).Error
	})
}

// ListRuns 按创建时间倒序返回最近的任务。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []runModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		run, err := modelToRun(m)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	var m runModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, err
	}
	return modelToRun(m)
}

func (s *ResultStore) ListTrades(ctx context.Context, runID string) ([]Trade, error) {
	var rows []tradeModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, Trade{
			EntryTS:    r.EntryTS,
			ExitTS:     r.ExitTS,
			EntryPrice: r.EntryPrice,
			ExitPrice:  r.ExitPrice,
			Size:       r.Size,
			Commission: r.Commission,
			PnL:        r.PnL,
			Forced:     r.Forced,
		})
	}
	return out, nil
}

func (s *ResultStore) GetEquity(ctx context.Context, runID string) ([]EquityPoint, error) {
	var m runModel
	err := s.db.WithContext(ctx).Select("id", "equity").Where("id = ?", runID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(m.Equity) == 0 {
		return nil, nil
	}
	var points []EquityPoint
	if err := json.Unmarshal(m.Equity, &points); err != nil {
		return nil, fmt.Errorf("资金曲线反序列化失败: %w", err)
	}
	return points, nil
}

func runToModel(run Run) (runModel, error) {
	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return runModel{}, err
	}
	metricsJSON, err := json.Marshal(run.Metrics)
	if err != nil {
		return runModel{}, err
	}
	m := runModel{
		ID:             run.ID,
		Symbol:         run.Symbol,
		Strategy:       string(run.Strategy),
		Status:         run.Status,
		Timeframe:      run.Timeframe,
		StartTS:        run.StartTS,
		EndTS:          run.EndTS,
		InitialCapital: run.InitialCapital,
		FinalValue:     run.FinalValue,
		TradeCount:     run.Trades,
		Message:        run.Message,
		Config:         datatypes.JSON(configJSON),
		Metrics:        datatypes.JSON(metricsJSON),
		CreatedAt:      run.CreatedAt,
		UpdatedAt:      run.UpdatedAt,
	}
	if !run.CompletedAt.IsZero() {
		t := run.CompletedAt
		m.CompletedAt = &t
	}
	return m, nil
}

func modelToRun(m runModel) (Run, error) {
	run := Run{
		ID:             m.ID,
		Symbol:         m.Symbol,
		Strategy:       strategy.Kind(m.Strategy),
		Status:         m.Status,
		Timeframe:      m.Timeframe,
		StartTS:        m.StartTS,
		EndTS:          m.EndTS,
		InitialCapital: m.InitialCapital,
		FinalValue:     m.FinalValue,
		Trades:         m.TradeCount,
		Message:        m.Message,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.CompletedAt != nil {
		run.CompletedAt = *m.CompletedAt
	}
	if len(m.Config) > 0 {
		if err := json.Unmarshal(m.Config, &run.Config); err != nil {
			return Run{}, fmt.Errorf("run %s config 反序列化失败: %w", m.ID, err)
		}
	}
	if len(m.Metrics) > 0 {
		if err := json.Unmarshal(m.Metrics, &run.Metrics); err != nil {
			return Run{}, fmt.Errorf("run %s metrics 反序列化失败: %w", m.ID, err)
		}
	}
	return run, nil
}
