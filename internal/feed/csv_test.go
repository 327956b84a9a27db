package feed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBarsWithHeader(t *testing.T) {
	csv := `timestamp,open,high,low,close,volume
1700000000000,100,105,95,102,1000
1700086400000,102,110,101,108,1200
`
	bars, err := ReadBars(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(1700000000000), bars[0].OpenTime)
	assert.Equal(t, 102.0, bars[0].Close)
	assert.Equal(t, 1200.0, bars[1].Volume)
}

func TestReadBarsWithoutHeader(t *testing.T) {
	csv := "1700000000000,100,105,95,102,1000\n"
	bars, err := ReadBars(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Len(t, bars, 1)
}

func TestReadBarsDateFormats(t *testing.T) {
	csv := `timestamp,open,high,low,close,volume
2024-01-02,100,105,95,102,1000
`
	bars, err := ReadBars(strings.NewReader(csv))
	require.NoError(t, err)
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, want, bars[0].OpenTime)
}

func TestReadBarsSecondsPromotedToMillis(t *testing.T) {
	csv := "1700000000,100,105,95,102,1000\n"
	bars, err := ReadBars(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), bars[0].OpenTime)
}

func TestReadBarsErrors(t *testing.T) {
	cases := []struct {
		name string
		csv  string
	}{
		{"empty", ""},
		{"header only", "timestamp,open,high,low,close,volume\n"},
		{"too few columns", "1700000000000,100,105\n"},
		{"bad number", "1700000000000,abc,105,95,102,1000\n"},
		{"bad timestamp", "soon,100,105,95,102,1000\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadBars(strings.NewReader(tc.csv))
			assert.Error(t, err)
		})
	}
}

func TestCSVSourceFetchRangeFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	content := `timestamp,open,high,low,close,volume
1000,100,105,95,102,10
2000,102,108,100,105,11
3000,105,110,103,108,12
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	src := NewCSVSource(path)
	assert.Equal(t, "csv", src.Name())

	bars, err := src.Fetch(context.Background(), FetchRequest{Start: 2000, End: 2000})
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, int64(2000), bars[0].OpenTime)
}

func TestParseInterval(t *testing.T) {
	cases := map[string]time.Duration{
		"15m": 15 * time.Minute,
		"4h":  4 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
		"1D":  24 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseInterval(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "d", "0d", "-1h", "10x"} {
		_, err := ParseInterval(in)
		assert.Error(t, err, in)
	}
}
