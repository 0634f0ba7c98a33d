package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/stagehub/internal/conversation"
	"github.com/hitoshi/stagehub/internal/credential"
	"github.com/hitoshi/stagehub/internal/lockout"
	"github.com/hitoshi/stagehub/internal/session"
)

// TestWriteServiceError_StatusMapping はエラーとステータスコードの対応を検証する。
func TestWriteServiceError_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "認証失敗", err: credential.ErrInvalidCredentials, wantStatus: http.StatusUnauthorized},
		{name: "ロックアウト", err: lockout.ErrTooManyAttempts, wantStatus: http.StatusUnauthorized},
		{name: "弱いパスワード", err: credential.ErrWeakPassword, wantStatus: http.StatusBadRequest},
		{name: "重複ユーザー名", err: credential.ErrDuplicateUsername, wantStatus: http.StatusConflict},
		{name: "セッションなし", err: session.ErrNoSession, wantStatus: http.StatusUnauthorized},
		{name: "セッション期限切れ", err: session.ErrExpired, wantStatus: http.StatusUnauthorized},
		{name: "セッション失効", err: session.ErrRevoked, wantStatus: http.StatusUnauthorized},
		{name: "CSRF不一致", err: session.ErrCSRFMismatch, wantStatus: http.StatusForbidden},
		{name: "非参加者", err: conversation.ErrNotParticipant, wantStatus: http.StatusNotFound},
		{name: "会話なし", err: conversation.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "自分宛て会話", err: conversation.ErrSelfConversation, wantStatus: http.StatusBadRequest},
		{name: "本文が空", err: conversation.ErrEmptyBody, wantStatus: http.StatusBadRequest},
		{name: "ラップされたエラーも判定される", err: fmt.Errorf("login: %w", credential.ErrInvalidCredentials), wantStatus: http.StatusUnauthorized},
		{name: "未知のエラーは500", err: errors.New("database exploded"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteServiceError(rec, tt.err)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

// TestWriteServiceError_LoginFailureIndistinguishable は認証情報不一致と
// ロックアウトのレスポンスがバイト単位で同一であることを検証する。
func TestWriteServiceError_LoginFailureIndistinguishable(t *testing.T) {
	recInvalid := httptest.NewRecorder()
	WriteServiceError(recInvalid, credential.ErrInvalidCredentials)

	recLocked := httptest.NewRecorder()
	WriteServiceError(recLocked, lockout.ErrTooManyAttempts)

	if recInvalid.Code != recLocked.Code {
		t.Errorf("status codes differ: %d vs %d", recInvalid.Code, recLocked.Code)
	}
	if recInvalid.Body.String() != recLocked.Body.String() {
		t.Errorf("response bodies differ:\n%s\nvs\n%s", recInvalid.Body.String(), recLocked.Body.String())
	}
}

// TestWriteServiceError_NotParticipantHidesExistence は非参加者への応答が
// 存在しない会話への応答と同一であることを検証する。
func TestWriteServiceError_NotParticipantHidesExistence(t *testing.T) {
	recOutsider := httptest.NewRecorder()
	WriteServiceError(recOutsider, conversation.ErrNotParticipant)

	recMissing := httptest.NewRecorder()
	WriteServiceError(recMissing, conversation.ErrNotFound)

	if recOutsider.Code != recMissing.Code {
		t.Errorf("status codes differ: %d vs %d", recOutsider.Code, recMissing.Code)
	}
	if recOutsider.Body.String() != recMissing.Body.String() {
		t.Errorf("response bodies differ:\n%s\nvs\n%s", recOutsider.Body.String(), recMissing.Body.String())
	}
}

// TestWriteServiceError_InternalErrorHidesDetail は内部エラーの詳細が
// レスポンスに漏れないことを検証する。
func TestWriteServiceError_InternalErrorHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteServiceError(rec, errors.New("pq: connection refused to db-internal:5432"))
	raw := rec.Body.String()

	var body ErrorResponseBody
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
	for _, field := range []string{body.Message, body.Action} {
		if len(field) == 0 {
			t.Error("response fields should be populated")
		}
	}
	if strings.Contains(raw, "pq:") || strings.Contains(raw, "db-internal") {
		t.Errorf("internal detail leaked into response: %s", raw)
	}
}
