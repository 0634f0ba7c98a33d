// Package auth はログイン・サインアップ・ログアウトのオーケストレーションを提供する。
// 各チェックは失敗した時点で処理を打ち切り、部分的な副作用を残さない。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/stagehub/internal/credential"
	"github.com/hitoshi/stagehub/internal/lockout"
	"github.com/hitoshi/stagehub/internal/metrics"
	"github.com/hitoshi/stagehub/internal/model"
	"github.com/hitoshi/stagehub/internal/security"
	"github.com/hitoshi/stagehub/internal/session"
)

// ServiceConfig は認証ゲートウェイの設定。
type ServiceConfig struct {
	// FallbackPath はリダイレクト先の既定値。
	FallbackPath string
}

// Service は認証フローのオーケストレータ。
// ロックアウト → 認証情報 → セッション発行 → リダイレクト検証 の順で
// 処理し、最初に失敗したチェックで打ち切る。
type Service struct {
	creds    *credential.Service
	sessions *session.Manager
	tracker  lockout.Tracker
	recorder metrics.Recorder
	config   ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	creds *credential.Service,
	sessions *session.Manager,
	tracker lockout.Tracker,
	recorder metrics.Recorder,
	config ServiceConfig,
) *Service {
	if config.FallbackPath == "" {
		config.FallbackPath = "/feed"
	}
	return &Service{
		creds:    creds,
		sessions: sessions,
		tracker:  tracker,
		recorder: recorder,
		config:   config,
	}
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	User        *model.User
	Session     *model.Session
	CookieValue string
	RedirectTo  string
}

// Login は認証を行いセッションを発行する。
// ロックアウト判定はユーザー名単位とIP単位の両方で行い、どちらかが
// ロック中であれば認証情報ストアに触れずに拒否する（パスワード正誤に
// 依存するタイミング差を漏らさない）。認証失敗は両方のキーに記録し、
// 成功時は両方をリセットする。
func (s *Service) Login(ctx context.Context, username, password, sourceIP, nextCandidate string) (*LoginResult, error) {
	userKey := lockout.UsernameKey(username)
	ipKey := lockout.IPKey(sourceIP)

	for _, key := range []string{userKey, ipKey} {
		if err := s.tracker.Check(ctx, key); err != nil {
			if errors.Is(err, lockout.ErrTooManyAttempts) {
				s.recorder.RecordLockout()
				slog.Warn("login rejected by lockout", slog.String("key_kind", keyKind(key)))
			}
			return nil, err
		}
	}

	user, err := s.creds.Verify(ctx, username, password)
	if err != nil {
		if errors.Is(err, credential.ErrInvalidCredentials) {
			s.registerFailure(ctx, userKey, ipKey)
			s.recorder.RecordLoginFailure("invalid_credentials")
		}
		return nil, err
	}

	if err := s.resetTracking(ctx, userKey, ipKey); err != nil {
		return nil, err
	}

	sess, cookieValue, err := s.sessions.Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.recorder.RecordLoginSuccess()
	slog.Info("user logged in", slog.String("user_id", user.ID))

	return &LoginResult{
		User:        user,
		Session:     sess,
		CookieValue: cookieValue,
		RedirectTo:  security.SanitizeReturnPath(nextCandidate, s.config.FallbackPath),
	}, nil
}

// Signup はユーザーを登録し、そのままセッションを発行する。
func (s *Service) Signup(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.creds.Register(ctx, username, password)
	if err != nil {
		return nil, err
	}

	sess, cookieValue, err := s.sessions.Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.recorder.RecordSignup()
	slog.Info("user registered", slog.String("user_id", user.ID))

	return &LoginResult{
		User:        user,
		Session:     sess,
		CookieValue: cookieValue,
		RedirectTo:  s.config.FallbackPath,
	}, nil
}

// Logout はセッションを失効させる。セッションに紐づくCSRFトークンは
// セッションと運命を共にするため、同時に無効になる。
func (s *Service) Logout(ctx context.Context, cookieValue string) error {
	if cookieValue == "" {
		return nil
	}
	if err := s.sessions.Revoke(ctx, cookieValue); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// registerFailure は失敗を両方のキーに記録する。
// 記録の失敗は認証結果に影響させず、ログにのみ残す。
func (s *Service) registerFailure(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := s.tracker.RegisterFailure(ctx, key); err != nil {
			slog.Error("failed to register auth failure",
				slog.String("key_kind", keyKind(key)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// resetTracking は両方のキーのカウンタをリセットする。
func (s *Service) resetTracking(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := s.tracker.Reset(ctx, key); err != nil {
			return fmt.Errorf("failed to reset lockout tracking: %w", err)
		}
	}
	return nil
}

// keyKind は追跡キーの種別（"user" / "ip"）を返す。ログ出力用。
// キーの値そのものはログに残さない。
func keyKind(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return "unknown"
}
