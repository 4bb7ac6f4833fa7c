package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestRetryable(t *testing.T) {
	t.Run("一過性エラーがリトライ対象と判定されること", func(t *testing.T) {
		for _, err := range []error{
			context.DeadlineExceeded,
			errors.New("API returned status 503: service unavailable"),
			errors.New("rate limit exceeded"),
			errors.New("read tcp: connection reset by peer"),
		} {
			if !Retryable(err) {
				t.Errorf("リトライ対象と判定されるべきエラー: %v", err)
			}
		}
	})

	t.Run("恒久エラーがリトライ対象外と判定されること", func(t *testing.T) {
		for _, err := range []error{
			nil,
			context.Canceled,
			errors.New("status 400: invalid request"),
			errors.New("プロンプトの構築に失敗しました"),
		} {
			if Retryable(err) {
				t.Errorf("リトライ対象外と判定されるべきエラー: %v", err)
			}
		}
	})
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("一過性エラーの後に成功すること", func(t *testing.T) {
		attempts := 0
		result, err := Do(ctx, fastConfig(), func(context.Context) (string, error) {
			attempts++
			if attempts < 3 {
				return "", errors.New("status 503: service unavailable")
			}
			return "ok", nil
		})
		if err != nil {
			t.Fatalf("最終的に成功するべきところエラーが返りました: %v", err)
		}
		if result != "ok" {
			t.Errorf("期待値 %q, 実際の値 %q", "ok", result)
		}
		if attempts != 3 {
			t.Errorf("期待値 3, 実際の値 %d", attempts)
		}
	})

	t.Run("恒久エラーは即座に失敗すること", func(t *testing.T) {
		wantErr := errors.New("status 400: invalid request")
		attempts := 0
		_, err := Do(ctx, fastConfig(), func(context.Context) (int, error) {
			attempts++
			return 0, wantErr
		})
		if !errors.Is(err, wantErr) {
			t.Fatalf("元のエラーが返るべきところ %v が返りました", err)
		}
		if attempts != 1 {
			t.Errorf("期待値 1, 実際の値 %d", attempts)
		}
	})

	t.Run("リトライ上限を超えると最後のエラーが返ること", func(t *testing.T) {
		attempts := 0
		_, err := Do(ctx, fastConfig(), func(context.Context) (int, error) {
			attempts++
			return 0, fmt.Errorf("attempt %d: timeout", attempts)
		})
		if err == nil {
			t.Fatal("上限到達でエラーが返るべきです")
		}
		// MaxRetries=3 は初回 + リトライ3回で計4回
		if attempts != 4 {
			t.Errorf("期待値 4, 実際の値 %d", attempts)
		}
	})

	t.Run("コンテキストのキャンセルでリトライが打ち切られること", func(t *testing.T) {
		cancelledCtx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Do(cancelledCtx, fastConfig(), func(context.Context) (int, error) {
			return 0, errors.New("timeout")
		})
		if err == nil {
			t.Fatal("キャンセル済みコンテキストでエラーが返るべきです")
		}
	})
}
