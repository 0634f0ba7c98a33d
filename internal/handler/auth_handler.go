// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/stagehub/internal/auth"
	"github.com/hitoshi/stagehub/internal/middleware"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, username, password, sourceIP, nextCandidate string) (*auth.LoginResult, error)
	Signup(ctx context.Context, username, password string) (*auth.LoginResult, error)
	Logout(ctx context.Context, cookieValue string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はログイン・サインアップ・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	csrf    *middleware.CSRFGuard
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, csrf *middleware.CSRFGuard, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		csrf:    csrf,
		config:  config,
	}
}

// credentialsRequest はログイン・サインアップリクエストのボディ。
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// authResponse はログイン・サインアップ成功時のレスポンス。
type authResponse struct {
	User       userResponse `json:"user"`
	RedirectTo string       `json:"redirect_to"`
}

// userResponse はユーザー情報のAPIレスポンス。
// パスワードハッシュは決して含めない。
type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Login は認証を行いセッションを開始する。
// POST /auth/login?next=/path
// 失敗時のレスポンスは原因（ユーザー不在・パスワード不一致・ロック中）に
// よらず同一となる。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	result, err := h.service.Login(r.Context(), req.Username, req.Password, middleware.ClientIP(r), r.URL.Query().Get("next"))
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	h.setSessionCookie(w, result.CookieValue)
	h.csrf.SetSessionCookie(w, result.Session.CSRFToken)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(authResponse{
		User:       toUserResponse(result),
		RedirectTo: result.RedirectTo,
	})
}

// Signup はユーザーを登録し、そのままログイン状態にする。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	result, err := h.service.Signup(r.Context(), req.Username, req.Password)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	h.setSessionCookie(w, result.CookieValue)
	h.csrf.SetSessionCookie(w, result.Session.CSRFToken)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(authResponse{
		User:       toUserResponse(result),
		RedirectTo: result.RedirectTo,
	})
}

// Logout はセッションを失効させCookieを削除する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	h.clearSessionCookie(w)
	h.csrf.ClearCookie(w)

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
// セッションミドルウェアの後に配置すること。
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(userResponse{
		ID:       user.ID,
		Username: user.Username,
	})
}

// setSessionCookie はセッションCookieを設定する（HTTP Only）。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func toUserResponse(result *auth.LoginResult) userResponse {
	return userResponse{
		ID:       result.User.ID,
		Username: result.User.Username,
	}
}
