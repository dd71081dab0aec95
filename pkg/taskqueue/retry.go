package taskqueue

import (
	"math/rand"
	"time"
)

// RetryPolicy はタスクのリトライスケジューリングを定める。
type RetryPolicy struct {
	// MaxAttempts は初回実行を含む実行回数の上限。
	MaxAttempts int
	// BaseDelay は初回リトライの遅延時間。
	BaseDelay time.Duration
	// MaxDelay はバックオフ遅延の上限。
	MaxDelay time.Duration
	// Jitter が真の場合、遅延に一様な揺らぎを加える。
	Jitter bool
}

// DefaultSagaPolicy はSagaステージ用の既定ポリシー。
// 3回の実行（初回 + 2リトライ後の最終試行で計3回）、5秒起点の
// 指数バックオフとジッター。
func DefaultSagaPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		MaxDelay:    10 * time.Minute,
		Jitter:      true,
	}
}

// DefaultNotifyPolicy は通知ファンアウト用の既定ポリシー。
// 台帳による冪等スキップを前提に、タスク全体を最大5回実行する。
func DefaultNotifyPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   5 * time.Second,
		MaxDelay:    10 * time.Minute,
		Jitter:      true,
	}
}

// DefaultDeadLetterPolicy はデッドレター処理用の既定ポリシー。
// 自身の失敗でキューを溢れさせないよう、リトライは1回に制限する。
func DefaultDeadLetterPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   5 * time.Second,
		MaxDelay:    time.Minute,
		Jitter:      false,
	}
}

// NextDelay はattempt回目（1始まり）の失敗後の遅延時間を算出する。
// 遅延はBaseDelay * 2^(attempt-1)をMaxDelayで頭打ちし、
// Jitterが有効な場合は[0, delay)の一様乱数に置き換える（full jitter）。
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter && delay > 0 {
		delay = time.Duration(rand.Int63n(int64(delay))) //nolint:gosec
	}
	return delay
}
