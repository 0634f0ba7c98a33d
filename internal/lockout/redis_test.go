package lockout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisTracker(t *testing.T, policy Policy) (*RedisTracker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisTracker(client, "stagehub-test", policy), mr
}

// TestRedisTracker_LockoutFlow はしきい値到達でロックされ、
// リセットで解除されることを検証する。
func TestRedisTracker_LockoutFlow(t *testing.T) {
	tracker, _ := newTestRedisTracker(t, Policy{Threshold: 3, Window: 15 * time.Minute, Cooldown: 15 * time.Minute})
	ctx := context.Background()

	if err := tracker.Check(ctx, "user:alice"); err != nil {
		t.Fatalf("Check on clean key returned %v, want nil", err)
	}

	for i := 0; i < 2; i++ {
		if err := tracker.RegisterFailure(ctx, "user:alice"); err != nil {
			t.Fatalf("RegisterFailure failed: %v", err)
		}
	}
	if err := tracker.Check(ctx, "user:alice"); err != nil {
		t.Errorf("Check below threshold returned %v, want nil", err)
	}

	if err := tracker.RegisterFailure(ctx, "user:alice"); err != nil {
		t.Fatalf("RegisterFailure failed: %v", err)
	}
	if err := tracker.Check(ctx, "user:alice"); !errors.Is(err, ErrTooManyAttempts) {
		t.Errorf("Check at threshold returned %v, want ErrTooManyAttempts", err)
	}

	if err := tracker.Reset(ctx, "user:alice"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if err := tracker.Check(ctx, "user:alice"); err != nil {
		t.Errorf("Check after reset returned %v, want nil", err)
	}
}

// TestRedisTracker_CooldownTTL はクールダウン経過でロックキーが消えることを検証する。
func TestRedisTracker_CooldownTTL(t *testing.T) {
	tracker, mr := newTestRedisTracker(t, Policy{Threshold: 1, Window: 15 * time.Minute, Cooldown: 10 * time.Minute})
	ctx := context.Background()

	if err := tracker.RegisterFailure(ctx, "ip:203.0.113.7"); err != nil {
		t.Fatalf("RegisterFailure failed: %v", err)
	}
	if err := tracker.Check(ctx, "ip:203.0.113.7"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("Check returned %v, want ErrTooManyAttempts", err)
	}

	mr.FastForward(10*time.Minute + time.Second)

	if err := tracker.Check(ctx, "ip:203.0.113.7"); err != nil {
		t.Errorf("Check after cooldown returned %v, want nil", err)
	}
}

// TestRedisTracker_WindowTTL はウィンドウ経過で失敗カウンタが消えることを検証する。
func TestRedisTracker_WindowTTL(t *testing.T) {
	tracker, mr := newTestRedisTracker(t, Policy{Threshold: 3, Window: 5 * time.Minute, Cooldown: 15 * time.Minute})
	ctx := context.Background()

	tracker.RegisterFailure(ctx, "user:alice")
	tracker.RegisterFailure(ctx, "user:alice")

	mr.FastForward(5*time.Minute + time.Second)

	// カウンタは巻き直されているため、2回ではロックされない
	tracker.RegisterFailure(ctx, "user:alice")
	tracker.RegisterFailure(ctx, "user:alice")

	if err := tracker.Check(ctx, "user:alice"); err != nil {
		t.Errorf("Check returned %v, want nil (counter expired)", err)
	}
}

// TestRedisTracker_KeysAreIndependent はユーザー名キーとIPキーが独立に
// 追跡されることを検証する。
func TestRedisTracker_KeysAreIndependent(t *testing.T) {
	tracker, _ := newTestRedisTracker(t, Policy{Threshold: 2, Window: 15 * time.Minute, Cooldown: 15 * time.Minute})
	ctx := context.Background()

	tracker.RegisterFailure(ctx, UsernameKey("alice"))
	tracker.RegisterFailure(ctx, UsernameKey("alice"))

	if err := tracker.Check(ctx, UsernameKey("alice")); !errors.Is(err, ErrTooManyAttempts) {
		t.Errorf("username key: Check returned %v, want ErrTooManyAttempts", err)
	}
	if err := tracker.Check(ctx, IPKey("203.0.113.7")); err != nil {
		t.Errorf("ip key: Check returned %v, want nil", err)
	}
}
