package market

import (
	"fmt"
	"math"
)

// ValidateSeries 校验数据源交付的 K 线序列：非空、时间戳严格递增且唯一、
// OHLCV 字段完整。任何违规在注入阶段直接拒绝，模拟不会部分运行。
func ValidateSeries(bars []Bar) error {
	if len(bars) == 0 {
		return fmt.Errorf("bar 序列为空")
	}
	var prev int64
	for i, b := range bars {
		if b.OpenTime <= 0 {
			return fmt.Errorf("第 %d 根 bar 缺少时间戳", i)
		}
		if i > 0 && b.OpenTime <= prev {
			return fmt.Errorf("第 %d 根 bar 时间戳未递增: %d <= %d", i, b.OpenTime, prev)
		}
		if err := validateFields(b); err != nil {
			return fmt.Errorf("第 %d 根 bar 字段非法: %w", i, err)
		}
		prev = b.OpenTime
	}
	return nil
}

func validateFields(b Bar) error {
	fields := map[string]float64{
		"open":   b.Open,
		"high":   b.High,
		"low":    b.Low,
		"close":  b.Close,
		"volume": b.Volume,
	}
	for name, v := range fields {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s 不是有限数", name)
		}
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return fmt.Errorf("价格字段必须为正")
	}
	if b.Volume < 0 {
		return fmt.Errorf("volume 不能为负")
	}
	if b.High < b.Low {
		return fmt.Errorf("high %.8f 小于 low %.8f", b.High, b.Low)
	}
	return nil
}
