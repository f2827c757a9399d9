package fetch

import (
	"context"
	"time"
)

// RetryPolicy 描述回源失败后的重试策略。零值表示不重试，
// 保持「单次下载失败直接上抛」的默认契约；调用方按需注入。
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// Do 执行 op，失败时按指数退避重试，最多额外尝试 MaxRetries 次。
// 等待期间尊重 ctx 取消。
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	backoff := p.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt >= p.MaxRetries {
			return lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}
