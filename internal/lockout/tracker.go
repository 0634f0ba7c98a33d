// Package lockout は認証失敗の追跡とロックアウトを提供する。
// ユーザー名単位と送信元IP単位の両方で独立に追跡し、
// ユーザー名のローテーションでもIPのローテーションでも回避できないようにする。
package lockout

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyAttempts はロックアウト中の試行を示す。
// 残り試行回数や解除時刻などの内部カウンタは呼び出し元に開示しない。
var ErrTooManyAttempts = errors.New("too many attempts")

// Policy はロックアウトの判定条件。
type Policy struct {
	Threshold int           // ウィンドウ内の失敗回数がこの値に達するとロック
	Window    time.Duration // 失敗回数を数えるウィンドウ
	Cooldown  time.Duration // ロック継続時間
}

// DefaultPolicy は保守的なデフォルト値を返す。
func DefaultPolicy() Policy {
	return Policy{
		Threshold: 5,
		Window:    15 * time.Minute,
		Cooldown:  15 * time.Minute,
	}
}

// Tracker はキー単位の失敗追跡ストアのインターフェース。
// キーはユーザー名またはIPアドレスから生成する。
type Tracker interface {
	// Check はキーがロックアウト中の場合にErrTooManyAttemptsを返す。
	// ロック中の判定は認証情報の検証より先に行い、パスワードの正誤に
	// 依存するタイミング差を漏らさない。
	Check(ctx context.Context, key string) error

	// RegisterFailure は失敗を1回記録する。ウィンドウ内の失敗回数が
	// しきい値に達した場合はロックアウトへ遷移する。
	RegisterFailure(ctx context.Context, key string) error

	// Reset はキーのカウンタとロックを消去する。認証成功時に呼ぶ。
	Reset(ctx context.Context, key string) error
}

// UsernameKey はユーザー名から追跡キーを生成する。大文字小文字を区別しない。
func UsernameKey(username string) string {
	return "user:" + normalize(username)
}

// IPKey は送信元IPアドレスから追跡キーを生成する。
func IPKey(ip string) string {
	return "ip:" + ip
}

func normalize(s string) string {
	b := []byte(s)
	for i := range b {
		if 'A' <= b[i] && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// entry はキーごとの失敗状態を保持する。
type entry struct {
	count       int
	windowStart time.Time
	lockedUntil time.Time
}

// MemoryTracker はプロセス内のmapによるTracker実装。
// 単一インスタンス構成向け。全操作はミューテックスで直列化される。
type MemoryTracker struct {
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	stopCh chan struct{}
}

// NewMemoryTracker はMemoryTrackerを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewMemoryTracker(policy Policy) *MemoryTracker {
	t := &MemoryTracker{
		policy:  policy,
		now:     time.Now,
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
	}

	go t.cleanupLoop()

	return t
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (t *MemoryTracker) Stop() {
	close(t.stopCh)
}

// Check はキーがロックアウト中の場合にErrTooManyAttemptsを返す。
func (t *MemoryTracker) Check(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return nil
	}
	if t.now().Before(e.lockedUntil) {
		return ErrTooManyAttempts
	}
	return nil
}

// RegisterFailure は失敗を1回記録する。
// ウィンドウが経過していた場合はカウンタを巻き直してから加算する。
func (t *MemoryTracker) RegisterFailure(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	e, ok := t.entries[key]
	if !ok || now.Sub(e.windowStart) > t.policy.Window {
		e = &entry{windowStart: now}
		t.entries[key] = e
	}

	e.count++
	if e.count >= t.policy.Threshold {
		e.lockedUntil = now.Add(t.policy.Cooldown)
	}

	return nil
}

// Reset はキーのカウンタとロックを消去する。
func (t *MemoryTracker) Reset(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, key)
	return nil
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (t *MemoryTracker) cleanupLoop() {
	interval := t.policy.Window
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.cleanup()
		case <-t.stopCh:
			return
		}
	}
}

// cleanup はウィンドウもロックも過ぎたエントリを削除する。
func (t *MemoryTracker) cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for key, e := range t.entries {
		if now.Sub(e.windowStart) > t.policy.Window && !now.Before(e.lockedUntil) {
			delete(t.entries, key)
		}
	}
}

// compile-time interface check
var _ Tracker = (*MemoryTracker)(nil)
