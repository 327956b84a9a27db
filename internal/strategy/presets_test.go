package strategy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePresetFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPresetRegistryLoad(t *testing.T) {
	path := writePresetFile(t, `
presets:
  ma-default:
    description: 双均线
    kind: ma_crossover
    params:
      fast_period: 5
      slow_period: 20
  rsi-default:
    kind: rsi
`)
	reg, err := NewPresetRegistry(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"ma-default", "rsi-default"}, reg.IDs())

	p, ok := reg.Preset("ma-default")
	require.True(t, ok)
	assert.Equal(t, KindMACrossover, p.Kind)
	assert.Equal(t, 5, p.Params.MACrossover.FastPeriod)
	assert.Equal(t, 20, p.Params.MACrossover.SlowPeriod)

	// params 缺省时全部落默认值。
	p, ok = reg.Preset("rsi-default")
	require.True(t, ok)
	assert.Equal(t, 14, p.Params.RSI.Period)

	_, ok = reg.Preset("nope")
	assert.False(t, ok)
}

func TestPresetRegistryRejectsBadKind(t *testing.T) {
	path := writePresetFile(t, `
presets:
  broken:
    kind: macd
`)
	_, err := NewPresetRegistry(path)
	assert.Error(t, err)
}

func TestPresetRegistryRejectsSchemaViolation(t *testing.T) {
	path := writePresetFile(t, `
presets:
  broken:
    kind: rsi
    params:
      period: -3
`)
	_, err := NewPresetRegistry(path)
	assert.Error(t, err)
}

func TestPresetRegistryRejectsUnknownTopLevelKey(t *testing.T) {
	path := writePresetFile(t, `
presets: {}
extras: true
`)
	_, err := NewPresetRegistry(path)
	assert.Error(t, err)
}

// 预设文件被改写后，重载产出新快照并回调全部订阅者。
func TestPresetRegistryReloadNotifiesSubscribers(t *testing.T) {
	path := writePresetFile(t, `
presets:
  bb:
    kind: bollinger
`)
	reg, err := NewPresetRegistry(path)
	require.NoError(t, err)

	ch := make(chan PresetSnapshot, 1)
	reg.Subscribe(func(snap PresetSnapshot) { ch <- snap })

	require.NoError(t, os.WriteFile(path, []byte(`
presets:
  bb:
    kind: bollinger
  rsi-fast:
    kind: rsi
    params:
      period: 7
`), 0o644))
	require.NoError(t, reg.reload())
	reg.notifyListeners()

	select {
	case snap := <-ch:
		assert.Len(t, snap.Presets, 2)
		assert.Equal(t, int64(2), snap.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("订阅者未收到热更新通知")
	}

	p, ok := reg.Preset("rsi-fast")
	require.True(t, ok)
	assert.Equal(t, 7, p.Params.RSI.Period)
}

// 重载失败（文件损坏）不应清空已有快照。
func TestPresetRegistryReloadKeepsSnapshotOnError(t *testing.T) {
	path := writePresetFile(t, `
presets:
  bb:
    kind: bollinger
`)
	reg, err := NewPresetRegistry(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("presets:\n  broken:\n    kind: macd\n"), 0o644))
	assert.Error(t, reg.reload())

	_, ok := reg.Preset("bb")
	assert.True(t, ok, "失败的重载不应影响现有预设")
}

func TestPresetRegistrySnapshotIsCopy(t *testing.T) {
	path := writePresetFile(t, `
presets:
  bb:
    kind: bollinger
`)
	reg, err := NewPresetRegistry(path)
	require.NoError(t, err)

	snap := reg.Snapshot()
	delete(snap.Presets, "bb")

	_, ok := reg.Preset("bb")
	assert.True(t, ok, "快照修改不应影响注册表")
}
