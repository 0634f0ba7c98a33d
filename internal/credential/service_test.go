package credential

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/stagehub/internal/model"
	"github.com/hitoshi/stagehub/internal/repository"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn       func(ctx context.Context, id string) (*model.User, error)
	findByUsernameFn func(ctx context.Context, username string) (*model.User, error)
	createFn         func(ctx context.Context, user *model.User) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	if m.findByUsernameFn != nil {
		return m.findByUsernameFn(ctx, username)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func newTestService(t *testing.T, repo repository.UserRepository) *Service {
	t.Helper()
	// テストではコストを最小にしてbcryptの実行時間を抑える
	svc, err := NewService(repo, ServiceConfig{BcryptCost: bcrypt.MinCost, PasswordMinLength: 8})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

// --- テスト ---

// TestService_Register はユーザー登録を検証する。
func TestService_Register(t *testing.T) {
	var created *model.User
	repo := &mockUserRepo{
		createFn: func(ctx context.Context, user *model.User) error {
			created = user
			return nil
		},
	}
	svc := newTestService(t, repo)

	user, err := svc.Register(context.Background(), "  alice  ", "correct-horse1")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if user.Username != "alice" {
		t.Errorf("Username = %q, want trimmed %q", user.Username, "alice")
	}
	if user.ID == "" {
		t.Error("ID should be assigned")
	}
	if created == nil {
		t.Fatal("user was not persisted")
	}
	if created.PasswordHash == "" || created.PasswordHash == "correct-horse1" {
		t.Error("password must be stored as a hash")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("correct-horse1")); err != nil {
		t.Errorf("stored hash does not match password: %v", err)
	}
}

// TestService_Register_DuplicateUsername は重複ユーザー名の登録失敗を検証する。
func TestService_Register_DuplicateUsername(t *testing.T) {
	repo := &mockUserRepo{
		createFn: func(ctx context.Context, user *model.User) error {
			return fmt.Errorf("insert failed: %w", repository.ErrDuplicateKey)
		},
	}
	svc := newTestService(t, repo)

	_, err := svc.Register(context.Background(), "alice", "correct-horse1")
	if !errors.Is(err, ErrDuplicateUsername) {
		t.Errorf("Register returned %v, want ErrDuplicateUsername", err)
	}
}

// TestService_Register_Validation はユーザー名とパスワードの検証を網羅する。
func TestService_Register_Validation(t *testing.T) {
	svc := newTestService(t, &mockUserRepo{})

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{name: "短すぎるユーザー名", username: "ab", password: "correct-horse1", wantErr: ErrInvalidUsername},
		{name: "不正な文字を含むユーザー名", username: "alice!", password: "correct-horse1", wantErr: ErrInvalidUsername},
		{name: "空白のみのユーザー名", username: "   ", password: "correct-horse1", wantErr: ErrInvalidUsername},
		{name: "短すぎるパスワード", username: "alice", password: "abc1", wantErr: ErrWeakPassword},
		{name: "文字種が1種類のみ", username: "alice", password: "abcdefgh", wantErr: ErrWeakPassword},
		{name: "許可された記号を含むユーザー名", username: "alice.b_c-d", password: "correct-horse1", wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.username, tt.password)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Register returned %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Register returned %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestService_Verify は認証情報の検証を検証する。
// 未知ユーザーとパスワード不一致が同一のエラーになることを確認する。
func TestService_Verify(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	alice := &model.User{ID: "user-1", Username: "alice", PasswordHash: string(hash)}
	repo := &mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*model.User, error) {
			if username == "alice" {
				return alice, nil
			}
			return nil, nil
		},
	}
	svc := newTestService(t, repo)

	t.Run("正しいパスワード", func(t *testing.T) {
		user, err := svc.Verify(context.Background(), "alice", "correct-horse1")
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if user.ID != "user-1" {
			t.Errorf("user.ID = %q, want user-1", user.ID)
		}
	})

	t.Run("誤ったパスワード", func(t *testing.T) {
		_, err := svc.Verify(context.Background(), "alice", "wrong-password1")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Verify returned %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("未知ユーザー", func(t *testing.T) {
		_, err := svc.Verify(context.Background(), "nobody", "correct-horse1")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Verify returned %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("未知ユーザーとパスワード不一致は区別できない", func(t *testing.T) {
		_, errUnknown := svc.Verify(context.Background(), "nobody", "whatever1")
		_, errWrong := svc.Verify(context.Background(), "alice", "wrong-password1")
		if errUnknown.Error() != errWrong.Error() {
			t.Errorf("error surfaces differ: %q vs %q", errUnknown, errWrong)
		}
	})
}
