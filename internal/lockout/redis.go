package lockout

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTracker はRedisによるTracker実装。
// 複数インスタンス構成でロックアウト状態を共有するために使用する。
// カウンタの加算はRedisのINCRで行い、read-modify-writeの競合を
// ストレージ側のアトミック操作で閉じる。
type RedisTracker struct {
	client *redis.Client
	prefix string
	policy Policy
}

// NewRedisTracker はRedisTrackerを生成する。
func NewRedisTracker(client *redis.Client, prefix string, policy Policy) *RedisTracker {
	if prefix == "" {
		prefix = "lockout"
	}
	return &RedisTracker{
		client: client,
		prefix: prefix,
		policy: policy,
	}
}

func (t *RedisTracker) failKey(key string) string {
	return t.prefix + ":fail:" + key
}

func (t *RedisTracker) lockKey(key string) string {
	return t.prefix + ":lock:" + key
}

// Check はロックキーが存在する場合にErrTooManyAttemptsを返す。
func (t *RedisTracker) Check(ctx context.Context, key string) error {
	n, err := t.client.Exists(ctx, t.lockKey(key)).Result()
	if err != nil {
		return fmt.Errorf("failed to check lockout state: %w", err)
	}
	if n > 0 {
		return ErrTooManyAttempts
	}
	return nil
}

// RegisterFailure は失敗カウンタをアトミックに加算する。
// 初回加算時にウィンドウ分のTTLを設定し、しきい値到達でロックキーを置く。
func (t *RedisTracker) RegisterFailure(ctx context.Context, key string) error {
	count, err := t.client.Incr(ctx, t.failKey(key)).Result()
	if err != nil {
		return fmt.Errorf("failed to increment failure counter: %w", err)
	}

	if count == 1 {
		if err := t.client.Expire(ctx, t.failKey(key), t.policy.Window).Err(); err != nil {
			return fmt.Errorf("failed to set failure counter TTL: %w", err)
		}
	}

	if count >= int64(t.policy.Threshold) {
		if err := t.client.Set(ctx, t.lockKey(key), time.Now().Unix(), t.policy.Cooldown).Err(); err != nil {
			return fmt.Errorf("failed to set lockout: %w", err)
		}
	}

	return nil
}

// Reset はキーのカウンタとロックを消去する。
func (t *RedisTracker) Reset(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, t.failKey(key), t.lockKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to reset lockout state: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Tracker = (*RedisTracker)(nil)
