package indicator

import "math"

// Value 表示某个指标在当前 bar 的取值。warm-up 未完成时 Ready=false，
// 调用方必须把未就绪视为"无信号"，而不是把 Val 当成数值默认值。
type Value struct {
	Val   float64 `json:"value"`
	Ready bool    `json:"ready"`
}

// NotReady 是 warm-up 阶段的哨兵值。
var NotReady = Value{}

// SMA 维护固定窗口收盘价的简单移动平均，逐 bar 增量更新。
type SMA struct {
	period int
	window []float64
	sum    float64
	series []Value
}

func NewSMA(period int) *SMA {
	if period <= 0 {
		period = 1
	}
	return &SMA{period: period, window: make([]float64, 0, period)}
}

func (s *SMA) Period() int { return s.period }

// Update 追加一个收盘价并返回该 bar 的 SMA。前 period-1 根 bar 返回未就绪。
func (s *SMA) Update(close float64) Value {
	s.window = append(s.window, close)
	s.sum += close
	if len(s.window) > s.period {
		s.sum -= s.window[0]
		s.window = s.window[1:]
	}
	v := NotReady
	if len(s.window) == s.period {
		v = Value{Val: s.sum / float64(s.period), Ready: true}
	}
	s.series = append(s.series, v)
	return v
}

// Last 返回当前 bar 的值。
func (s *SMA) Last() Value {
	if len(s.series) == 0 {
		return NotReady
	}
	return s.series[len(s.series)-1]
}

// Prev 返回上一根 bar 的值，交叉判定需要。
func (s *SMA) Prev() Value {
	if len(s.series) < 2 {
		return NotReady
	}
	return s.series[len(s.series)-2]
}

// Series 返回与 bar 一一对齐的完整序列。
func (s *SMA) Series() []Value { return s.series }

// Bands 是布林带在单个 bar 上的取值。
type Bands struct {
	Mid   float64 `json:"mid"`
	Upper float64 `json:"upper"`
	Lower float64 `json:"lower"`
	Ready bool    `json:"ready"`
}

// Bollinger 维护布林带：mid = SMA(n)，upper/lower = mid ± k·std。
// std 为窗口内收盘价的总体标准差（与 backtrader 的 StdDev 口径一致）。
type Bollinger struct {
	period int
	k      float64
	window []float64
	series []Bands
}

func NewBollinger(period int, k float64) *Bollinger {
	if period <= 0 {
		period = 20
	}
	if k <= 0 {
		k = 2
	}
	return &Bollinger{period: period, k: k, window: make([]float64, 0, period)}
}

func (b *Bollinger) Period() int { return b.period }

func (b *Bollinger) Update(close float64) Bands {
	b.window = append(b.window, close)
	if len(b.window) > b.period {
		b.window = b.window[1:]
	}
	v := Bands{}
	if len(b.window) == b.period {
		mean := 0.0
		for _, c := range b.window {
			mean += c
		}
		mean /= float64(b.period)
		variance := 0.0
		for _, c := range b.window {
			d := c - mean
			variance += d * d
		}
		std := math.Sqrt(variance / float64(b.period))
		v = Bands{
			Mid:   mean,
			Upper: mean + b.k*std,
			Lower: mean - b.k*std,
			Ready: true,
		}
	}
	b.series = append(b.series, v)
	return v
}

func (b *Bollinger) Last() Bands {
	if len(b.series) == 0 {
		return Bands{}
	}
	return b.series[len(b.series)-1]
}

func (b *Bollinger) Series() []Bands { return b.series }

// RSI 基于最近 n 个 bar-to-bar 价格变化的简单平均（非 Wilder 指数平滑）：
// RS = avg_gain/avg_loss，RSI = 100 - 100/(1+RS)；avg_loss = 0 时 RSI = 100。
type RSI struct {
	period    int
	prevClose float64
	hasPrev   bool
	changes   []float64
	series    []Value
}

func NewRSI(period int) *RSI {
	if period <= 0 {
		period = 14
	}
	return &RSI{period: period, changes: make([]float64, 0, period)}
}

func (r *RSI) Period() int { return r.period }

func (r *RSI) Update(close float64) Value {
	if !r.hasPrev {
		r.prevClose = close
		r.hasPrev = true
		r.series = append(r.series, NotReady)
		return NotReady
	}
	r.changes = append(r.changes, close-r.prevClose)
	r.prevClose = close
	if len(r.changes) > r.period {
		r.changes = r.changes[1:]
	}
	v := NotReady
	if len(r.changes) == r.period {
		var gain, loss float64
		for _, ch := range r.changes {
			if ch > 0 {
				gain += ch
			} else {
				loss -= ch
			}
		}
		avgGain := gain / float64(r.period)
		avgLoss := loss / float64(r.period)
		if avgLoss == 0 {
			v = Value{Val: 100, Ready: true}
		} else {
			rs := avgGain / avgLoss
			v = Value{Val: 100 - 100/(1+rs), Ready: true}
		}
	}
	r.series = append(r.series, v)
	return v
}

func (r *RSI) Last() Value {
	if len(r.series) == 0 {
		return NotReady
	}
	return r.series[len(r.series)-1]
}

func (r *RSI) Series() []Value { return r.series }

// ROC 计算变动率：(close_t − close_{t−n}) / close_{t−n} × 100。
type ROC struct {
	period int
	window []float64
	series []Value
}

func NewROC(period int) *ROC {
	if period <= 0 {
		period = 10
	}
	return &ROC{period: period, window: make([]float64, 0, period+1)}
}

func (r *ROC) Period() int { return r.period }

func (r *ROC) Update(close float64) Value {
	r.window = append(r.window, close)
	if len(r.window) > r.period+1 {
		r.window = r.window[1:]
	}
	v := NotReady
	if len(r.window) == r.period+1 {
		base := r.window[0]
		if base != 0 {
			v = Value{Val: (close - base) / base * 100, Ready: true}
		}
	}
	r.series = append(r.series, v)
	return v
}

func (r *ROC) Last() Value {
	if len(r.series) == 0 {
		return NotReady
	}
	return r.series[len(r.series)-1]
}

func (r *ROC) Series() []Value { return r.series }
