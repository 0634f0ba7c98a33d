package repository

import (
	"context"
	"testing"
)

// 各リポジトリがインターフェースを満たすことを検証
func TestPostgresRepos_ImplementInterfaces(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
	var _ ListingRepository = (*PostgresListingRepo)(nil)
	var _ ConversationRepository = (*PostgresConversationRepo)(nil)
	var _ MessageRepository = (*PostgresMessageRepo)(nil)
}

// ユニットテスト: UUID型カラムへの検索はUUID形式でないIDを
// 問い合わせなしで未検出として返すこと（DB接続なしで検証）。
// 形式不正なIDがキャストエラー経由で500になることを防ぐ。
func TestFindByID_MalformedID_ReturnsNotFound(t *testing.T) {
	malformed := []string{
		"",
		"bob",
		"L1",
		"garbage",
		"123",
		"4a0ff4e4-355b-4a96-b57f",                  // 途中で切れたUUID
		"4a0ff4e4-355b-4a96-b57f-1d8f5a4c0e2g",     // 不正な16進文字
		"'; DROP TABLE users; --",
	}

	// dbはnilのまま。ガードが先に効けば到達しない。
	userRepo := NewPostgresUserRepo(nil)
	listingRepo := NewPostgresListingRepo(nil)
	convoRepo := NewPostgresConversationRepo(nil)

	ctx := context.Background()

	for _, id := range malformed {
		t.Run("user:"+id, func(t *testing.T) {
			user, err := userRepo.FindByID(ctx, id)
			if err != nil {
				t.Fatalf("FindByID(%q) error = %v, want nil", id, err)
			}
			if user != nil {
				t.Errorf("FindByID(%q) = %+v, want nil", id, user)
			}
		})
		t.Run("listing:"+id, func(t *testing.T) {
			listing, err := listingRepo.FindByID(ctx, id)
			if err != nil {
				t.Fatalf("FindByID(%q) error = %v, want nil", id, err)
			}
			if listing != nil {
				t.Errorf("FindByID(%q) = %+v, want nil", id, listing)
			}
		})
		t.Run("conversation:"+id, func(t *testing.T) {
			convo, err := convoRepo.FindByID(ctx, id)
			if err != nil {
				t.Fatalf("FindByID(%q) error = %v, want nil", id, err)
			}
			if convo != nil {
				t.Errorf("FindByID(%q) = %+v, want nil", id, convo)
			}
		})
	}
}

// 正規形のUUIDはガードを通過すること（大文字・ブレース付きの別記法を含む）
func TestIsValidUUID(t *testing.T) {
	valid := []string{
		"4a0ff4e4-355b-4a96-b57f-1d8f5a4c0e2a",
		"4A0FF4E4-355B-4A96-B57F-1D8F5A4C0E2A",
	}
	for _, id := range valid {
		if !isValidUUID(id) {
			t.Errorf("isValidUUID(%q) = false, want true", id)
		}
	}

	invalid := []string{"", "bob", "4a0ff4e4355b4a96"}
	for _, id := range invalid {
		if isValidUUID(id) {
			t.Errorf("isValidUUID(%q) = true, want false", id)
		}
	}
}
