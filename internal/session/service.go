// Package session はセッションの発行・検証・失効とCSRFトークン管理を提供する。
package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/stagehub/internal/model"
	"github.com/hitoshi/stagehub/internal/repository"
)

var (
	// ErrNoSession は提示されたトークンに対応するセッションが存在しないことを示す。
	ErrNoSession = errors.New("no session")
	// ErrExpired はセッションの有効期限切れ（絶対またはアイドル）を示す。
	ErrExpired = errors.New("session expired")
	// ErrRevoked はセッションが明示的に失効済みであることを示す。
	ErrRevoked = errors.New("session revoked")
	// ErrCSRFMismatch は提示されたCSRFトークンがセッションに紐づく値と
	// 一致しないことを示す。
	ErrCSRFMismatch = errors.New("csrf token mismatch")
)

// ManagerConfig はセッションマネージャの設定。
type ManagerConfig struct {
	// Secret はCookie値の署名に使うサーバ保持の秘密鍵。必須。
	Secret string
	// MaxAge は絶対有効期限（秒）。touchしても延長されない。
	MaxAge int
	// IdleTimeout はアイドルタイムアウト。最終アクセスからこの時間で失効する。
	IdleTimeout time.Duration
}

// Manager はセッションのライフサイクルを管理する。
// トークンは暗号的に安全な乱数で、ユーザーデータを一切含まない。
// Cookieに載せる値はHMAC-SHA256で署名し、偽造値をDB照会前に弾く。
type Manager struct {
	sessionRepo repository.SessionRepository
	userRepo    repository.UserRepository
	config      ManagerConfig
	now         func() time.Time
}

// NewManager はManagerを生成する。Secretが空の場合はエラーを返す。
// 秘密鍵なしで稼働することは許容しない。
func NewManager(sessionRepo repository.SessionRepository, userRepo repository.UserRepository, config ManagerConfig) (*Manager, error) {
	if config.Secret == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 86400
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 2 * time.Hour
	}

	return &Manager{
		sessionRepo: sessionRepo,
		userRepo:    userRepo,
		config:      config,
		now:         time.Now,
	}, nil
}

// Create は指定ユーザーのセッションを発行して永続化し、
// セッションとCookieに設定する署名付き値を返す。
// CSRFトークンはセッション発行時に新規生成される（ログイン時のローテーション）。
func (m *Manager) Create(ctx context.Context, user *model.User) (*model.Session, string, error) {
	token, err := generateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate session token: %w", err)
	}
	csrfToken, err := generateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate csrf token: %w", err)
	}

	now := m.now()
	session := &model.Session{
		ID:         token,
		UserID:     user.ID,
		CSRFToken:  csrfToken,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(time.Duration(m.config.MaxAge) * time.Second),
	}

	if err := m.sessionRepo.Create(ctx, session); err != nil {
		return nil, "", fmt.Errorf("failed to save session: %w", err)
	}

	return session, m.sign(token), nil
}

// Resolve は署名付きCookie値からセッションとユーザーを解決する。
// 検証順序: 署名 → 存在 → 絶対有効期限 → 失効 → アイドルタイムアウト。
// 有効な場合は最終アクセス時刻を更新する（アイドル期限の延長）。
// 絶対有効期限はtouchによって延長されない。
func (m *Manager) Resolve(ctx context.Context, cookieValue string) (*model.User, *model.Session, error) {
	token, ok := m.verifySignature(cookieValue)
	if !ok {
		return nil, nil, ErrNoSession
	}

	session, err := m.sessionRepo.FindByID(ctx, token)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil, ErrNoSession
	}

	now := m.now()

	// 有効期限は他のどのフィールドよりも先に検証する
	if !now.Before(session.ExpiresAt) {
		return nil, nil, ErrExpired
	}
	if session.RevokedAt != nil {
		return nil, nil, ErrRevoked
	}
	if now.Sub(session.LastSeenAt) > m.config.IdleTimeout {
		return nil, nil, ErrExpired
	}

	user, err := m.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find session user: %w", err)
	}
	if user == nil {
		// セッションが存在するのにユーザーがいない状態は不整合。
		// セッションを失効させて未認証として扱う。
		if revokeErr := m.sessionRepo.Revoke(ctx, session.ID, now); revokeErr != nil {
			slog.Error("failed to revoke orphan session", slog.String("error", revokeErr.Error()))
		}
		return nil, nil, ErrNoSession
	}

	if err := m.sessionRepo.UpdateLastSeen(ctx, session.ID, now); err != nil {
		return nil, nil, fmt.Errorf("failed to touch session: %w", err)
	}
	session.LastSeenAt = now

	return user, session, nil
}

// Revoke は署名付きCookie値からセッションを失効させる。
// 対応するセッションが存在しない場合は何もしない。
func (m *Manager) Revoke(ctx context.Context, cookieValue string) error {
	token, ok := m.verifySignature(cookieValue)
	if !ok {
		return nil
	}
	if err := m.sessionRepo.Revoke(ctx, token, m.now()); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser は指定ユーザーの全セッションを削除する。
func (m *Manager) RevokeAllForUser(ctx context.Context, userID string) error {
	if err := m.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	return nil
}

// IssueCSRF はセッションに紐づくCSRFトークンを返す。
func (m *Manager) IssueCSRF(session *model.Session) string {
	return session.CSRFToken
}

// VerifyCSRF は提示されたトークンがセッションに紐づく値と一致するか検証する。
// 比較は一定時間比較で行う。
func (m *Manager) VerifyCSRF(session *model.Session, presented string) error {
	if presented == "" {
		return ErrCSRFMismatch
	}
	if subtle.ConstantTimeCompare([]byte(session.CSRFToken), []byte(presented)) != 1 {
		return ErrCSRFMismatch
	}
	return nil
}

// RotateCSRF はセッションのCSRFトークンを新規生成して差し替え、新しい値を返す。
// 権限変更時（ログイン・ログアウト）の固定化攻撃対策に使用する。
func (m *Manager) RotateCSRF(ctx context.Context, session *model.Session) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	if err := m.sessionRepo.UpdateCSRFToken(ctx, session.ID, token); err != nil {
		return "", fmt.Errorf("failed to rotate csrf token: %w", err)
	}
	session.CSRFToken = token
	return token, nil
}

// CleanupExpired は期限切れ・失効済みセッションを削除する。
// バックグラウンドジョブから定期的に呼び出すことを想定している。
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	return m.sessionRepo.DeleteExpired(ctx, m.now())
}

// sign はトークンに署名を付与したCookie値を返す。形式は "token.signature"。
func (m *Manager) sign(token string) string {
	mac := hmac.New(sha256.New, []byte(m.config.Secret))
	mac.Write([]byte(token))
	return token + "." + hex.EncodeToString(mac.Sum(nil))
}

// verifySignature はCookie値の署名を検証し、トークン部分を返す。
// 署名不一致や形式不正の場合はfalseを返す。
func (m *Manager) verifySignature(cookieValue string) (string, bool) {
	token, sig, found := strings.Cut(cookieValue, ".")
	if !found || token == "" {
		return "", false
	}

	mac := hmac.New(sha256.New, []byte(m.config.Secret))
	mac.Write([]byte(token))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return "", false
	}
	return token, true
}

// generateToken は暗号的に安全な32バイトのトークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
