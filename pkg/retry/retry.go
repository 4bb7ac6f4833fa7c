// Package retry は全ての外部サービス呼び出しに一律で適用する
// バックオフ付きリトライのラッパーです。呼び出しサイトごとの
// アドホックなリトライループはここに集約します。
package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config はリトライの動作パラメータです。
type Config struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultConfig は推奨されるデフォルト設定を返します。
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Retryable は一過性エラー（タイムアウト・5xx・接続リセット）かどうかを判定するのだ。
// 4xx や不正入力のような恒久エラーは即座に失敗させるのだよ。
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"status 500", "status 502", "status 503", "status 504",
		"internal server error", "service unavailable", "rate limit",
		"connection reset", "timeout", "temporarily",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// Do は操作を指数バックオフ（ジッター付き）でリトライ実行します。
// リトライ不能なエラーは恒久エラーとして即座に返されます。
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, cfg.MaxRetries), ctx)

	return backoff.RetryWithData(func() (T, error) {
		v, err := op(ctx)
		if err != nil && !Retryable(err) {
			var zero T
			return zero, backoff.Permanent(err)
		}
		return v, err
	}, policy)
}
