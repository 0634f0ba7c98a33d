// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, message, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeWeakPassword      = "WEAK_PASSWORD"
	ErrCodeDuplicateUsername = "DUPLICATE_USERNAME"
	ErrCodeNoSession         = "NO_SESSION"
	ErrCodeSessionExpired    = "SESSION_EXPIRED"
	ErrCodeSessionRevoked    = "SESSION_REVOKED"
	ErrCodeCSRFMismatch      = "CSRF_MISMATCH"
	ErrCodeBodyTooLong       = "BODY_TOO_LONG"
	ErrCodeEmptyBody         = "EMPTY_BODY"
	ErrCodeInvalidBody       = "INVALID_BODY"
	ErrCodeSelfConversation  = "SELF_CONVERSATION"
	ErrCodeListingNotFound   = "LISTING_NOT_FOUND"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeConvoNotFound     = "CONVERSATION_NOT_FOUND"
	ErrCodeInternal          = "INTERNAL_ERROR"
)
