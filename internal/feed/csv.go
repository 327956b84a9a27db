package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"quiver/internal/market"
)

// CSVSource 从本地 CSV 读取 K 线，列为
// timestamp,open,high,low,close,volume。timestamp 接受毫秒整数
// 或 RFC3339/日期字符串，首行表头可有可无。
type CSVSource struct {
	path string
}

func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

func (c *CSVSource) Name() string { return "csv" }

func (c *CSVSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("打开 CSV 失败: %w", err)
	}
	defer f.Close()
	bars, err := ReadBars(f)
	if err != nil {
		return nil, err
	}
	if req.Start > 0 || req.End > 0 {
		filtered := bars[:0]
		for _, b := range bars {
			if req.Start > 0 && b.OpenTime < req.Start {
				continue
			}
			if req.End > 0 && b.OpenTime > req.End {
				continue
			}
			filtered = append(filtered, b)
		}
		bars = filtered
	}
	return bars, nil
}

// ReadBars 解析 CSV 流为 bar 序列。
func ReadBars(r io.Reader) ([]market.Bar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	var bars []market.Bar
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("CSV 第 %d 行读取失败: %w", line+1, err)
		}
		line++
		if len(record) < 6 {
			return nil, fmt.Errorf("CSV 第 %d 行列数不足: %d", line, len(record))
		}
		if line == 1 && looksLikeHeader(record) {
			continue
		}
		bar, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("CSV 第 %d 行非法: %w", line, err)
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("CSV 没有任何数据行")
	}
	return bars, nil
}

func looksLikeHeader(record []string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	return err != nil
}

func parseRecord(record []string) (market.Bar, error) {
	ts, err := parseTimestamp(strings.TrimSpace(record[0]))
	if err != nil {
		return market.Bar{}, err
	}
	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
		if err != nil {
			return market.Bar{}, fmt.Errorf("第 %d 列不是数值: %q", i+2, record[i+1])
		}
		vals[i] = v
	}
	return market.Bar{
		OpenTime:  ts,
		CloseTime: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

func parseTimestamp(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		// 秒级时间戳统一抬到毫秒。
		if ms > 0 && ms < 1e12 {
			ms *= 1000
		}
		return ms, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("无法解析时间戳: %q", s)
}
