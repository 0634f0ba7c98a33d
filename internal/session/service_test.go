package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/stagehub/internal/model"
)

// --- モック ---

type mockSessionRepo struct {
	createFn          func(ctx context.Context, session *model.Session) error
	findByIDFn        func(ctx context.Context, id string) (*model.Session, error)
	updateLastSeenFn  func(ctx context.Context, id string, t time.Time) error
	updateCSRFTokenFn func(ctx context.Context, id, token string) error
	revokeFn          func(ctx context.Context, id string, t time.Time) error
	deleteExpiredFn   func(ctx context.Context, now time.Time) (int64, error)
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}
func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockSessionRepo) UpdateLastSeen(ctx context.Context, id string, t time.Time) error {
	if m.updateLastSeenFn != nil {
		return m.updateLastSeenFn(ctx, id, t)
	}
	return nil
}
func (m *mockSessionRepo) UpdateCSRFToken(ctx context.Context, id, token string) error {
	if m.updateCSRFTokenFn != nil {
		return m.updateCSRFTokenFn(ctx, id, token)
	}
	return nil
}
func (m *mockSessionRepo) Revoke(ctx context.Context, id string, t time.Time) error {
	if m.revokeFn != nil {
		return m.revokeFn(ctx, id, t)
	}
	return nil
}
func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error     { return nil }
func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, id string) error { return nil }
func (m *mockSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx, now)
	}
	return 0, nil
}

type mockUserRepo struct {
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error { return nil }

const testSecret = "0123456789abcdef0123456789abcdef"

// --- テスト ---

// TestNewManager_RequiresSecret は秘密鍵なしでの生成が拒否されることを検証する。
func TestNewManager_RequiresSecret(t *testing.T) {
	_, err := NewManager(&mockSessionRepo{}, &mockUserRepo{}, ManagerConfig{})
	if err == nil {
		t.Fatal("NewManager without secret should fail")
	}
}

// TestManager_CreateAndResolve はセッション発行と解決の往復を検証する。
func TestManager_CreateAndResolve(t *testing.T) {
	alice := &model.User{ID: "user-1", Username: "alice"}

	var stored *model.Session
	sessionRepo := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			stored = session
			return nil
		},
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if stored != nil && stored.ID == id {
				copied := *stored
				return &copied, nil
			}
			return nil, nil
		},
	}
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			if id == "user-1" {
				return alice, nil
			}
			return nil, nil
		},
	}

	m, err := NewManager(sessionRepo, userRepo, ManagerConfig{Secret: testSecret, MaxAge: 86400, IdleTimeout: 2 * time.Hour})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	sess, cookieValue, err := m.Create(context.Background(), alice)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if sess.CSRFToken == "" {
		t.Error("CSRF token should be issued with the session")
	}
	if cookieValue == sess.ID {
		t.Error("cookie value must carry a signature, not the bare token")
	}

	user, resolved, err := m.Resolve(context.Background(), cookieValue)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if user.ID != "user-1" {
		t.Errorf("user.ID = %q, want user-1", user.ID)
	}
	if resolved.ID != sess.ID {
		t.Errorf("session.ID = %q, want %q", resolved.ID, sess.ID)
	}
}

// TestManager_Resolve_RejectsTamperedCookie は署名検証の失敗を検証する。
// DB照会に到達しないことも確認する。
func TestManager_Resolve_RejectsTamperedCookie(t *testing.T) {
	lookups := 0
	sessionRepo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			lookups++
			return nil, nil
		},
	}

	m, _ := NewManager(sessionRepo, &mockUserRepo{}, ManagerConfig{Secret: testSecret})

	for _, cookieValue := range []string{
		"",
		"no-signature",
		"deadbeef.0000000000000000000000000000000000000000000000000000000000000000",
		".orphan-signature",
	} {
		_, _, err := m.Resolve(context.Background(), cookieValue)
		if !errors.Is(err, ErrNoSession) {
			t.Errorf("Resolve(%q) returned %v, want ErrNoSession", cookieValue, err)
		}
	}

	if lookups != 0 {
		t.Errorf("repository lookups = %d, want 0 for unsigned values", lookups)
	}
}

// TestManager_Resolve_Expiry は有効期限の判定を検証する。
func TestManager_Resolve_Expiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	revokedAt := now.Add(-time.Minute)

	tests := []struct {
		name    string
		session model.Session
		wantErr error
	}{
		{
			name: "絶対有効期限切れ",
			session: model.Session{
				LastSeenAt: now.Add(-time.Minute),
				ExpiresAt:  now.Add(-time.Second),
			},
			wantErr: ErrExpired,
		},
		{
			name: "絶対期限は失効判定より優先される",
			session: model.Session{
				LastSeenAt: now.Add(-time.Minute),
				ExpiresAt:  now.Add(-time.Second),
				RevokedAt:  &revokedAt,
			},
			wantErr: ErrExpired,
		},
		{
			name: "失効済み",
			session: model.Session{
				LastSeenAt: now.Add(-time.Minute),
				ExpiresAt:  now.Add(time.Hour),
				RevokedAt:  &revokedAt,
			},
			wantErr: ErrRevoked,
		},
		{
			name: "アイドルタイムアウト",
			session: model.Session{
				LastSeenAt: now.Add(-3 * time.Hour),
				ExpiresAt:  now.Add(time.Hour),
			},
			wantErr: ErrExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := tt.session
			sessionRepo := &mockSessionRepo{
				findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
					sess.ID = id
					return &sess, nil
				},
			}

			m, _ := NewManager(sessionRepo, &mockUserRepo{}, ManagerConfig{
				Secret:      testSecret,
				MaxAge:      86400,
				IdleTimeout: 2 * time.Hour,
			})
			m.now = func() time.Time { return now }

			_, _, err := m.Resolve(context.Background(), m.sign("some-token"))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Resolve returned %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestManager_Resolve_TouchDoesNotExtendAbsoluteExpiry はtouchがアイドル期限のみを
// 延長し、絶対期限を動かさないことを検証する。
func TestManager_Resolve_TouchDoesNotExtendAbsoluteExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	alice := &model.User{ID: "user-1", Username: "alice"}

	var touchedAt time.Time
	sess := &model.Session{
		UserID:     "user-1",
		LastSeenAt: now.Add(-time.Hour),
		ExpiresAt:  now.Add(30 * time.Minute),
	}
	sessionRepo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			sess.ID = id
			copied := *sess
			return &copied, nil
		},
		updateLastSeenFn: func(ctx context.Context, id string, t time.Time) error {
			touchedAt = t
			sess.LastSeenAt = t
			return nil
		},
	}
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) { return alice, nil },
	}

	m, _ := NewManager(sessionRepo, userRepo, ManagerConfig{
		Secret:      testSecret,
		MaxAge:      86400,
		IdleTimeout: 2 * time.Hour,
	})
	m.now = func() time.Time { return now }

	cookieValue := m.sign("some-token")

	if _, _, err := m.Resolve(context.Background(), cookieValue); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !touchedAt.Equal(now) {
		t.Errorf("last seen touched to %v, want %v", touchedAt, now)
	}

	// touch後でも絶対期限を過ぎれば失効する
	m.now = func() time.Time { return now.Add(31 * time.Minute) }
	if _, _, err := m.Resolve(context.Background(), cookieValue); !errors.Is(err, ErrExpired) {
		t.Errorf("Resolve after absolute expiry returned %v, want ErrExpired", err)
	}
}

// TestManager_Resolve_OrphanSession はユーザーが消えたセッションの扱いを検証する。
func TestManager_Resolve_OrphanSession(t *testing.T) {
	now := time.Now()
	revoked := false
	sessionRepo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{
				ID:         id,
				UserID:     "gone",
				LastSeenAt: now,
				ExpiresAt:  now.Add(time.Hour),
			}, nil
		},
		revokeFn: func(ctx context.Context, id string, t time.Time) error {
			revoked = true
			return nil
		},
	}

	m, _ := NewManager(sessionRepo, &mockUserRepo{}, ManagerConfig{Secret: testSecret})

	_, _, err := m.Resolve(context.Background(), m.sign("some-token"))
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("Resolve returned %v, want ErrNoSession", err)
	}
	if !revoked {
		t.Error("orphan session should be revoked")
	}
}

// TestManager_VerifyCSRF はセッション紐付きCSRFトークンの照合を検証する。
func TestManager_VerifyCSRF(t *testing.T) {
	m, _ := NewManager(&mockSessionRepo{}, &mockUserRepo{}, ManagerConfig{Secret: testSecret})
	sess := &model.Session{ID: "sess-1", CSRFToken: "csrf-token-value"}

	if err := m.VerifyCSRF(sess, "csrf-token-value"); err != nil {
		t.Errorf("VerifyCSRF with matching token returned %v", err)
	}
	if err := m.VerifyCSRF(sess, "other-value"); !errors.Is(err, ErrCSRFMismatch) {
		t.Errorf("VerifyCSRF with wrong token returned %v, want ErrCSRFMismatch", err)
	}
	if err := m.VerifyCSRF(sess, ""); !errors.Is(err, ErrCSRFMismatch) {
		t.Errorf("VerifyCSRF with empty token returned %v, want ErrCSRFMismatch", err)
	}
}

// TestManager_RotateCSRF はCSRFトークンのローテーションを検証する。
func TestManager_RotateCSRF(t *testing.T) {
	var persisted string
	sessionRepo := &mockSessionRepo{
		updateCSRFTokenFn: func(ctx context.Context, id, token string) error {
			persisted = token
			return nil
		},
	}
	m, _ := NewManager(sessionRepo, &mockUserRepo{}, ManagerConfig{Secret: testSecret})

	sess := &model.Session{ID: "sess-1", CSRFToken: "old-token"}
	rotated, err := m.RotateCSRF(context.Background(), sess)
	if err != nil {
		t.Fatalf("RotateCSRF failed: %v", err)
	}
	if rotated == "old-token" {
		t.Error("rotated token must differ from the previous one")
	}
	if sess.CSRFToken != rotated {
		t.Error("session struct should carry the rotated token")
	}
	if persisted != rotated {
		t.Error("rotated token must be persisted")
	}
}

// TestManager_Revoke は失効操作を検証する。
func TestManager_Revoke(t *testing.T) {
	revokedID := ""
	sessionRepo := &mockSessionRepo{
		revokeFn: func(ctx context.Context, id string, t time.Time) error {
			revokedID = id
			return nil
		},
	}
	m, _ := NewManager(sessionRepo, &mockUserRepo{}, ManagerConfig{Secret: testSecret})

	if err := m.Revoke(context.Background(), m.sign("some-token")); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if revokedID != "some-token" {
		t.Errorf("revoked session = %q, want some-token", revokedID)
	}

	// 署名不正のCookie値では何もしない
	revokedID = ""
	if err := m.Revoke(context.Background(), "garbage-value"); err != nil {
		t.Fatalf("Revoke with invalid cookie failed: %v", err)
	}
	if revokedID != "" {
		t.Error("invalid cookie value must not revoke anything")
	}
}
