package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/stagehub/internal/conversation"
	"github.com/hitoshi/stagehub/internal/credential"
	"github.com/hitoshi/stagehub/internal/lockout"
	"github.com/hitoshi/stagehub/internal/model"
	"github.com/hitoshi/stagehub/internal/session"
)

// errNoSessionCookie はセッションCookie自体が無いリクエストを示す。
// session.ErrNoSessionと同じ扱いでレンダリングされる。
var errNoSessionCookie = session.ErrNoSession

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// loginFailedBody は認証失敗の統一レスポンス。
// 認証情報の不一致とロックアウトを区別できない同一のボディを返す。
// 内部の区別はログとメトリクスにのみ残す（列挙・推測攻撃対策）。
var loginFailedBody = &model.APIError{
	Code:     "LOGIN_FAILED",
	Message:  "ログインに失敗しました。入力内容を確認するか、しばらく待ってから再度お試しください。",
	Category: "auth",
	Action:   "ユーザー名とパスワードを確認してください。",
}

// WriteServiceError はサービス層のエラーを統一フォーマットで書き込む。
// 外部に開示するエラーの粒度をこの1箇所で集約する。
// 呼び出し箇所ごとに汎用メッセージを複製しない（将来の漏えい防止）。
func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	// 認証失敗とロックアウトは外部から区別できない単一のレスポンスに畳む
	case errors.Is(err, credential.ErrInvalidCredentials),
		errors.Is(err, lockout.ErrTooManyAttempts):
		WriteErrorResponse(w, http.StatusUnauthorized, loginFailedBody)

	case errors.Is(err, credential.ErrWeakPassword):
		WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeWeakPassword,
			Message:  "パスワードは8文字以上で、大文字・小文字・数字・記号のうち2種類以上を含めてください。",
			Category: "validation",
			Action:   "より強いパスワードを設定してください。",
		})

	case errors.Is(err, credential.ErrDuplicateUsername):
		WriteErrorResponse(w, http.StatusConflict, &model.APIError{
			Code:     model.ErrCodeDuplicateUsername,
			Message:  "このユーザー名は既に使用されています。",
			Category: "validation",
			Action:   "別のユーザー名を選んでください。",
		})

	case errors.Is(err, credential.ErrInvalidUsername):
		WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_USERNAME",
			Message:  "ユーザー名は3〜64文字の英数字と . _ - で指定してください。",
			Category: "validation",
			Action:   "ユーザー名の形式を確認してください。",
		})

	case errors.Is(err, session.ErrNoSession):
		WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     model.ErrCodeNoSession,
			Message:  "ログインが必要です。",
			Category: "auth",
			Action:   "ログインしてください。",
		})

	case errors.Is(err, session.ErrExpired):
		WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     model.ErrCodeSessionExpired,
			Message:  "セッションの有効期限が切れました。",
			Category: "auth",
			Action:   "再度ログインしてください。",
		})

	case errors.Is(err, session.ErrRevoked):
		WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     model.ErrCodeSessionRevoked,
			Message:  "セッションは無効化されています。",
			Category: "auth",
			Action:   "再度ログインしてください。",
		})

	case errors.Is(err, session.ErrCSRFMismatch):
		WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
			Code:     model.ErrCodeCSRFMismatch,
			Message:  "リクエストを受け付けられませんでした。",
			Category: "auth",
			Action:   "ページを再読み込みして再度お試しください。",
		})

	case errors.Is(err, conversation.ErrNotParticipant):
		// 参加していない会話の存在有無を漏らさないため404と同等に扱う
		WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     model.ErrCodeConvoNotFound,
			Message:  "会話が見つかりません。",
			Category: "message",
			Action:   "受信箱から会話を選び直してください。",
		})

	case errors.Is(err, conversation.ErrNotFound):
		WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     model.ErrCodeConvoNotFound,
			Message:  "会話が見つかりません。",
			Category: "message",
			Action:   "受信箱から会話を選び直してください。",
		})

	case errors.Is(err, conversation.ErrSelfConversation):
		WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeSelfConversation,
			Message:  "自分自身にメッセージを送ることはできません。",
			Category: "message",
			Action:   "別のユーザーを選んでください。",
		})

	case errors.Is(err, conversation.ErrUserNotFound):
		WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     model.ErrCodeUserNotFound,
			Message:  "ユーザーが見つかりません。",
			Category: "message",
			Action:   "宛先を確認してください。",
		})

	case errors.Is(err, conversation.ErrListingNotFound):
		WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     model.ErrCodeListingNotFound,
			Message:  "リスティングが見つかりません。",
			Category: "message",
			Action:   "リスティングを選び直してください。",
		})

	case errors.Is(err, conversation.ErrEmptyBody):
		WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeEmptyBody,
			Message:  "メッセージ本文を入力してください。",
			Category: "validation",
			Action:   "本文を入力してください。",
		})

	case errors.Is(err, conversation.ErrBodyTooLong):
		WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeBodyTooLong,
			Message:  "メッセージ本文が長すぎます（最大4000文字）。",
			Category: "validation",
			Action:   "本文を短くしてください。",
		})

	case errors.Is(err, conversation.ErrInvalidBody):
		WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidBody,
			Message:  "メッセージ本文に使用できない文字が含まれています。",
			Category: "validation",
			Action:   "本文を修正してください。",
		})

	default:
		slog.Error("unhandled service error", slog.String("error", err.Error()))
		WriteInternalServerError(w)
	}
}
