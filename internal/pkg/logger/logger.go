// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Init 配置全局 zerolog logger，所有服务在启动时调用一次。
func Init(serviceName, level string) {
	InitWithWriter(os.Stdout, serviceName, level)
}

// InitWithWriter 与 Init 相同，但允许指定输出（测试中使用）。
func InitWithWriter(w io.Writer, serviceName, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(w).With().Timestamp().Str("service", serviceName).Logger()
}

// SetLevel 在运行时调整日志级别，无法识别的级别忽略
func SetLevel(level string) bool {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		return false
	}
	zerolog.SetGlobalLevel(lvl)
	return true
}

// Ctx 返回一个带有当前 span 的 trace_id/span_id 的 logger。
// 没有活跃 span 时直接返回全局 logger。
func Ctx(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return &l
	}
	l = l.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
	return &l
}
