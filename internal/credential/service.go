// Package credential はパスワード認証情報の登録と検証を提供する。
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/stagehub/internal/model"
	"github.com/hitoshi/stagehub/internal/repository"
)

var (
	// ErrInvalidCredentials はユーザー名またはパスワードの不一致を示す。
	// ユーザー名の存在有無によらず同一のエラーを返す（列挙攻撃対策）。
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrWeakPassword はパスワードポリシー違反を示す。
	// どのルールに違反したかは呼び出し元に開示しない。
	ErrWeakPassword = errors.New("password does not meet policy")
	// ErrDuplicateUsername はユーザー名の重複を示す。
	ErrDuplicateUsername = errors.New("username already taken")
	// ErrInvalidUsername はユーザー名の形式違反を示す。
	ErrInvalidUsername = errors.New("invalid username")
)

// ServiceConfig は認証情報サービスの設定。
type ServiceConfig struct {
	BcryptCost        int
	PasswordMinLength int
}

// Service はパスワードのハッシュ化・検証とユーザー登録を提供する。
type Service struct {
	userRepo  repository.UserRepository
	config    ServiceConfig
	dummyHash []byte
}

// NewService はServiceを生成する。
// 未知ユーザーへのverifyでもハッシュ比較を1回実行できるよう、
// ダミーハッシュを事前に生成しておく（タイミング差の抑制）。
func NewService(userRepo repository.UserRepository, config ServiceConfig) (*Service, error) {
	if config.BcryptCost < bcrypt.MinCost || config.BcryptCost > bcrypt.MaxCost {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.PasswordMinLength <= 0 {
		config.PasswordMinLength = 8
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("stagehub-equalizer"), config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to generate dummy hash: %w", err)
	}

	return &Service{
		userRepo:  userRepo,
		config:    config,
		dummyHash: dummy,
	}, nil
}

// Register はユーザーを新規登録する。
// ユーザー名は小文字正規化後の値で一意性を判定する。重複判定は
// ストレージ側の一意制約に委ね、同時登録の競合でも二重作成されない。
func (s *Service) Register(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if !passwordMeetsPolicy(password, s.config.PasswordMinLength) {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// Verify はユーザー名とパスワードを検証し、一致すればユーザーを返す。
// ユーザーが存在しない場合もダミーハッシュとの比較を実行してから
// ErrInvalidCredentialsを返す。未知ユーザーとパスワード不一致は
// 呼び出し元から区別できない。
func (s *Service) Verify(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// validateUsername はユーザー名の形式を検証する。
func validateUsername(username string) error {
	if len(username) < 3 || len(username) > 64 {
		return ErrInvalidUsername
	}
	for _, r := range username {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return ErrInvalidUsername
		}
	}
	return nil
}

// passwordMeetsPolicy はパスワードポリシーを判定する。
// 最低長を満たし、{大文字, 小文字, 数字, 記号} のうち2種類以上を含むこと。
func passwordMeetsPolicy(password string, minLength int) bool {
	if len(password) < minLength {
		return false
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}

	classes := 0
	for _, ok := range []bool{hasUpper, hasLower, hasDigit, hasSymbol} {
		if ok {
			classes++
		}
	}
	return classes >= 2
}
