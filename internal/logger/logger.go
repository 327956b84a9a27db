// Package logger 是进程级的 slog 封装：printf 风格入口、可在运行期
// 切换级别与输出目标。回测 worker 并发写日志，因此替换输出用原子交换。
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	levelVar slog.LevelVar
	root     atomic.Pointer[slog.Logger]
)

func init() {
	levelVar.Set(slog.LevelInfo)
	root.Store(build(os.Stdout))
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar}))
}

// SetOutput 切换日志输出目标，对所有后续日志生效。
func SetOutput(w io.Writer) {
	root.Store(build(w))
}

// SetLevel 按名字调整级别，未知名字回落到 info。
func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

func Debugf(format string, v ...any) {
	root.Load().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	root.Load().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	root.Load().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	root.Load().Error(fmt.Sprintf(format, v...))
}
