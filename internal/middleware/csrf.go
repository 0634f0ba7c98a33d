package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/stagehub/internal/metrics"
	"github.com/hitoshi/stagehub/internal/model"
	"github.com/hitoshi/stagehub/internal/session"
)

const (
	// CSRFCookieName はCSRFトークンを保持するCookieの名前。
	// フロントエンドからJavaScriptで読み取れるよう、HttpOnlyではない。
	CSRFCookieName = "stagehub_csrf"

	// csrfHeaderName はリクエストヘッダーからCSRFトークンを読み取る際のヘッダー名。
	csrfHeaderName = "X-CSRF-Token"

	// csrfFormField はフォーム送信からCSRFトークンを読み取る際のフィールド名。
	csrfFormField = "csrf_token"
)

// CSRFConfig はCSRFガードの設定。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
}

// CSRFVerifier はセッション紐付きCSRFトークンの検証インターフェース。
// session.Managerの部分集合として定義する。
type CSRFVerifier interface {
	VerifyCSRF(sess *model.Session, presented string) error
}

// CSRFGuard はCSRFトークンの発行・検証を提供する。
// 未認証フローではdouble-submit cookie方式、認証済みフローでは
// セッション行に紐づくトークンとの照合を行う。
// トークンはURLに載せない（Cookie・ヘッダー・フォームフィールドのみ）。
type CSRFGuard struct {
	config   CSRFConfig
	recorder metrics.Recorder
}

// NewCSRFGuard はCSRFGuardを生成する。
func NewCSRFGuard(config CSRFConfig, recorder metrics.Recorder) *CSRFGuard {
	return &CSRFGuard{config: config, recorder: recorder}
}

// Anonymous は未認証の状態変更リクエスト（ログイン・サインアップ）向けの
// 検証ミドルウェアを返す。CookieのトークンとリクエストのトークンをHTTPS
// 双方向で照合する。安全なメソッドは検証せず、Cookie未設定なら設定する。
func (g *CSRFGuard) Anonymous() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				g.ensureCookie(w, r)
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(CSRFCookieName)
			if err != nil || cookie.Value == "" {
				g.reject(w, r, "missing cookie token")
				return
			}

			presented := presentedCSRFToken(r)
			if presented == "" {
				g.reject(w, r, "missing request token")
				return
			}

			if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(presented)) != 1 {
				g.reject(w, r, "token mismatch")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SessionBound は認証済みの状態変更リクエスト向けの検証ミドルウェアを返す。
// セッションミドルウェアの後に配置すること。提示されたトークンを
// セッションに紐づくトークンと照合し、不一致ならハンドラーに到達する前に
// 拒否する（部分的な副作用は発生しない）。
func (g *CSRFGuard) SessionBound(verifier CSRFVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			sess, err := SessionFromContext(r.Context())
			if err != nil {
				WriteServiceError(w, session.ErrNoSession)
				return
			}

			if err := verifier.VerifyCSRF(sess, presentedCSRFToken(r)); err != nil {
				g.reject(w, r, "session token mismatch")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TokenHandler はCSRFトークン取得エンドポイントのハンドラーを返す。
// GET /auth/csrf
// 認証済みリクエストにはセッションに紐づくトークンを、未認証リクエストには
// double-submit用のCookieトークンを返す。
func (g *CSRFGuard) TokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sess, err := SessionFromContext(r.Context()); err == nil {
			g.setCookie(w, sess.CSRFToken)
			writeCSRFToken(w, sess.CSRFToken)
			return
		}

		var token string
		if cookie, err := r.Cookie(CSRFCookieName); err == nil && cookie.Value != "" {
			token = cookie.Value
		} else {
			var err error
			token, err = generateCSRFToken()
			if err != nil {
				slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
			g.setCookie(w, token)
		}

		writeCSRFToken(w, token)
	}
}

// SetSessionCookie はログイン成功後にセッション紐付きトークンをCookieへ反映する。
// 権限変更時のトークンローテーションをクライアントに伝える。
func (g *CSRFGuard) SetSessionCookie(w http.ResponseWriter, token string) {
	g.setCookie(w, token)
}

// ClearCookie はCSRFトークンCookieを削除する。ログアウト時に使用する。
func (g *CSRFGuard) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    "",
		Path:     "/",
		Domain:   g.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: false,
		Secure:   g.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// reject はCSRF検証失敗を記録して403を返す。
// 失敗理由はログにのみ残し、レスポンスには含めない。
func (g *CSRFGuard) reject(w http.ResponseWriter, r *http.Request, reason string) {
	g.recorder.RecordCSRFRejection()
	slog.Warn("CSRF validation failed",
		slog.String("reason", reason),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	WriteServiceError(w, session.ErrCSRFMismatch)
}

// ensureCookie はCSRFトークンCookieが未設定の場合に設定する。
// 発行したトークンはリクエスト側にも反映し、同一リクエスト内の後続処理
// （TokenHandlerなど）が別トークンを重ねて発行しないようにする。
func (g *CSRFGuard) ensureCookie(w http.ResponseWriter, r *http.Request) {
	if _, err := r.Cookie(CSRFCookieName); err == nil {
		return
	}

	token, err := generateCSRFToken()
	if err != nil {
		slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
		return
	}
	g.setCookie(w, token)
	r.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: token})
}

func (g *CSRFGuard) setCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		Domain:   g.config.CookieDomain,
		MaxAge:   86400,
		HttpOnly: false, // フロントエンドから読み取り可能
		Secure:   g.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// presentedCSRFToken はリクエストからCSRFトークンを取り出す。
// ヘッダーを優先し、無ければフォームフィールドを参照する。
func presentedCSRFToken(r *http.Request) string {
	if token := r.Header.Get(csrfHeaderName); token != "" {
		return token
	}
	return r.PostFormValue(csrfFormField)
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func writeCSRFToken(w http.ResponseWriter, token string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"token": token,
	})
}

// generateCSRFToken は暗号的に安全なCSRFトークンを生成する。
func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
