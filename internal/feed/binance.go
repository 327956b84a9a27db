package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quiver/internal/market"

	binance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

const maxKlineLimit = 1000

// BinanceSource 基于 go-binance SDK 拉取现货历史 K 线。
type BinanceSource struct {
	client *binance.Client
}

// NewBinanceSource 构造数据源；baseURL 为空时用官方默认。
func NewBinanceSource(baseURL string, timeout time.Duration) *BinanceSource {
	client := binance.NewClient("", "")
	if base := strings.TrimSpace(baseURL); base != "" {
		client.BaseURL = base
	}
	if timeout > 0 {
		client.HTTPClient.Timeout = timeout
	}
	return &BinanceSource{client: client}
}

func (b *BinanceSource) Name() string { return "binance" }

// Fetch 拉取一批 K 线。交易所返回的是十进制字符串，统一走 decimal 解析，
// 避免 strconv 对异常输入静默归零。
func (b *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	interval := strings.ToLower(strings.TrimSpace(req.Interval))
	if symbol == "" || interval == "" {
		return nil, fmt.Errorf("symbol/interval 不能为空")
	}
	limit := req.Limit
	if limit <= 0 || limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	svc := b.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines 失败: %w", err)
	}
	out := make([]market.Bar, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		bar, err := klineToBar(kl)
		if err != nil {
			return nil, fmt.Errorf("kline open_time=%d 解析失败: %w", kl.OpenTime, err)
		}
		out = append(out, bar)
	}
	return out, nil
}

func klineToBar(kl *binance.Kline) (market.Bar, error) {
	open, err := parseDecimal(kl.Open)
	if err != nil {
		return market.Bar{}, err
	}
	high, err := parseDecimal(kl.High)
	if err != nil {
		return market.Bar{}, err
	}
	low, err := parseDecimal(kl.Low)
	if err != nil {
		return market.Bar{}, err
	}
	close_, err := parseDecimal(kl.Close)
	if err != nil {
		return market.Bar{}, err
	}
	volume, err := parseDecimal(kl.Volume)
	if err != nil {
		return market.Bar{}, err
	}
	return market.Bar{
		OpenTime:  kl.OpenTime,
		CloseTime: kl.CloseTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close_,
		Volume:    volume,
	}, nil
}

func parseDecimal(s string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}
