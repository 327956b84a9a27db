package feed

import (
	"context"
	"fmt"
	"testing"

	"quiver/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource 按请求区间切片返回预置 K 线，并统计调用次数。
type fakeSource struct {
	bars  []market.Bar
	calls int
	err   error
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = maxKlineLimit
	}
	var out []market.Bar
	for _, b := range f.bars {
		if req.Start > 0 && b.OpenTime < req.Start {
			continue
		}
		if req.End > 0 && b.OpenTime > req.End {
			continue
		}
		out = append(out, b)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func dayBars(n int, start int64) []market.Bar {
	const day = 86_400_000
	bars := make([]market.Bar, n)
	for i := range bars {
		ts := start + int64(i)*day
		close := 100 + float64(i)
		bars[i] = market.Bar{
			OpenTime:  ts,
			CloseTime: ts + day - 1,
			Open:      close,
			High:      close + 1,
			Low:       close - 1,
			Close:     close,
			Volume:    5,
		}
	}
	return bars
}

func TestServiceSyncAndLoad(t *testing.T) {
	const day = 86_400_000
	src := &fakeSource{bars: dayBars(10, day)}
	svc := NewService(src, newTestBarStore(t))
	ctx := context.Background()

	n, err := svc.Sync(ctx, "BTCUSDT", "1d", day, 10*day)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	bars, err := svc.Load(ctx, "BTCUSDT", "1d", day, 10*day)
	require.NoError(t, err)
	assert.Len(t, bars, 10)
}

func TestServiceLoadHitsCache(t *testing.T) {
	const day = 86_400_000
	src := &fakeSource{bars: dayBars(10, day)}
	svc := NewService(src, newTestBarStore(t))
	ctx := context.Background()

	_, err := svc.Load(ctx, "BTCUSDT", "1d", day, 10*day)
	require.NoError(t, err)
	callsAfterFirst := src.calls
	require.Positive(t, callsAfterFirst)

	// 第二次加载同区间应完全命中缓存。
	_, err = svc.Load(ctx, "BTCUSDT", "1d", day, 10*day)
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, src.calls)
}

func TestServiceLoadWithoutSourceRequiresCache(t *testing.T) {
	svc := NewService(nil, newTestBarStore(t))
	_, err := svc.Load(context.Background(), "BTCUSDT", "1d", 1000, 2000)
	assert.Error(t, err)
}

func TestServiceSyncPropagatesSourceError(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("rate limited")}
	svc := NewService(src, newTestBarStore(t))
	_, err := svc.Sync(context.Background(), "BTCUSDT", "1d", 1000, 2000)
	assert.ErrorContains(t, err, "rate limited")
}

func TestServiceSyncRejectsBadRange(t *testing.T) {
	svc := NewService(&fakeSource{}, newTestBarStore(t))
	_, err := svc.Sync(context.Background(), "BTCUSDT", "1d", 2000, 1000)
	assert.Error(t, err)
	_, err = svc.Sync(context.Background(), "BTCUSDT", "1d", 0, 1000)
	assert.Error(t, err)
}
