// Package feed 负责历史 K 线的获取与本地缓存，是回测核心的外部协作方。
// 核心模拟只消费按时间升序、字段完整的 market.Bar 序列。
package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quiver/internal/market"
)

// FetchRequest 描述一次历史数据拉取。
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64
	End      int64
	Limit    int
}

// Source 是历史 K 线来源。
type Source interface {
	Name() string
	Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error)
}

// ParseInterval 把 "1d"/"4h"/"15m" 这类周期转成时长。
func ParseInterval(interval string) (time.Duration, error) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, fmt.Errorf("interval 不能为空")
	}
	unit := interval[len(interval)-1]
	numStr := interval[:len(interval)-1]
	var n int
	if _, err := fmt.Sscanf(numStr, "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("interval 非法: %q", interval)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("interval 非法: %q", interval)
	}
}
