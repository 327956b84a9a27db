package market

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func validBar(ts int64, close float64) Bar {
	return Bar{
		OpenTime:  ts,
		CloseTime: ts + 86_400_000 - 1,
		Open:      close,
		High:      close * 1.01,
		Low:       close * 0.99,
		Close:     close,
		Volume:    1000,
	}
}

func TestValidateSeriesOK(t *testing.T) {
	bars := []Bar{validBar(1000, 100), validBar(2000, 101), validBar(3000, 99)}
	assert.NoError(t, ValidateSeries(bars))
}

func TestValidateSeriesEmpty(t *testing.T) {
	assert.Error(t, ValidateSeries(nil))
	assert.Error(t, ValidateSeries([]Bar{}))
}

func TestValidateSeriesRejectsBadTimestamps(t *testing.T) {
	// 重复时间戳。
	assert.Error(t, ValidateSeries([]Bar{validBar(1000, 100), validBar(1000, 101)}))
	// 乱序。
	assert.Error(t, ValidateSeries([]Bar{validBar(2000, 100), validBar(1000, 101)}))
	// 缺失时间戳。
	assert.Error(t, ValidateSeries([]Bar{validBar(0, 100)}))
}

func TestValidateSeriesRejectsBadFields(t *testing.T) {
	nan := validBar(1000, 100)
	nan.Close = math.NaN()
	assert.Error(t, ValidateSeries([]Bar{nan}))

	inf := validBar(1000, 100)
	inf.High = math.Inf(1)
	assert.Error(t, ValidateSeries([]Bar{inf}))

	zero := validBar(1000, 100)
	zero.Open = 0
	assert.Error(t, ValidateSeries([]Bar{zero}))

	neg := validBar(1000, 100)
	neg.Volume = -1
	assert.Error(t, ValidateSeries([]Bar{neg}))

	flipped := validBar(1000, 100)
	flipped.High, flipped.Low = flipped.Low, flipped.High
	assert.Error(t, ValidateSeries([]Bar{flipped}))
}

func TestCloses(t *testing.T) {
	bars := []Bar{validBar(1000, 100), validBar(2000, 105)}
	assert.Equal(t, []float64{100, 105}, Closes(bars))
}
