package feed

import (
	"context"
	"fmt"

	"quiver/internal/logger"
	"quiver/internal/market"
)

// Service 组合远端数据源与本地缓存：先补齐缺口再从缓存读取，
// 回测侧只看到一条连续的 bar 序列。
type Service struct {
	source Source
	store  *Store
}

func NewService(source Source, store *Store) *Service {
	return &Service{source: source, store: store}
}

// Sync 把 [start, end] 区间的 K 线同步进缓存，按 1000 根一页向前翻，
// 直到覆盖区间或远端没有更多数据。返回写入行数。
func (s *Service) Sync(ctx context.Context, symbol, timeframe string, start, end int64) (int, error) {
	if s.source == nil {
		return 0, fmt.Errorf("未配置数据源，无法同步")
	}
	if start <= 0 || end <= 0 || end < start {
		return 0, fmt.Errorf("同步区间非法: start=%d end=%d", start, end)
	}
	step, err := ParseInterval(timeframe)
	if err != nil {
		return 0, err
	}
	total := 0
	cursor := start
	for cursor <= end {
		batch, err := s.source.Fetch(ctx, FetchRequest{
			Symbol:   symbol,
			Interval: timeframe,
			Start:    cursor,
			End:      end,
			Limit:    maxKlineLimit,
		})
		if err != nil {
			return total, fmt.Errorf("拉取 %s@%s 失败: %w", symbol, timeframe, err)
		}
		if len(batch) == 0 {
			break
		}
		n, err := s.store.InsertBars(ctx, symbol, timeframe, batch)
		if err != nil {
			return total, fmt.Errorf("写入缓存失败: %w", err)
		}
		total += n
		last := batch[len(batch)-1].OpenTime
		next := last + step.Milliseconds()
		if next <= cursor {
			break
		}
		cursor = next
		if len(batch) < maxKlineLimit {
			break
		}
	}
	logger.Infof("同步完成 %s@%s: %d 根", symbol, timeframe, total)
	return total, nil
}

// Load 返回 [start, end] 区间内的 K 线。缓存覆盖不足且配置了数据源时，
// 先 Sync 再读；返回前做一次完整性校验，坏数据不会流入回测。
func (s *Service) Load(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Bar, error) {
	if s.store == nil {
		return nil, fmt.Errorf("未配置缓存")
	}
	if !s.covered(ctx, symbol, timeframe, start, end) && s.source != nil {
		if _, err := s.Sync(ctx, symbol, timeframe, start, end); err != nil {
			return nil, err
		}
	}
	bars, err := s.store.RangeBars(ctx, symbol, timeframe, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s@%s 在 [%d, %d] 内没有数据", symbol, timeframe, start, end)
	}
	if err := market.ValidateSeries(bars); err != nil {
		return nil, fmt.Errorf("缓存数据校验失败: %w", err)
	}
	return bars, nil
}

// covered 粗判缓存是否已覆盖请求区间：允许尾部缺最后一根未收盘的 bar。
func (s *Service) covered(ctx context.Context, symbol, timeframe string, start, end int64) bool {
	m, err := s.Manifest(ctx, symbol, timeframe)
	if err != nil || m.Rows == 0 {
		return false
	}
	step, err := ParseInterval(timeframe)
	if err != nil {
		return false
	}
	return m.MinTime <= start && m.MaxTime+step.Milliseconds() > end
}

func (s *Service) Manifest(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	return s.store.Manifest(ctx, symbol, timeframe)
}
