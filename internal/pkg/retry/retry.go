// internal/pkg/retry/retry.go
package retry

import (
	"context"
	"time"
)

// Once 执行 fn，失败时等待 delay 后再重试恰好一次。
// 第二次仍失败时返回 fn 最后一次的结果和错误，由调用方决定是否当作部分成功处理。
// 等待期间不持有任何锁；ctx 取消时立即返回第一次的结果。
func Once[T any](ctx context.Context, delay time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	val, err := fn(ctx)
	if err == nil {
		return val, nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return val, err
	case <-timer.C:
	}
	return fn(ctx)
}
