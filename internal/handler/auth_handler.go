// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/auth"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/middleware"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	RequestSignIn(ctx context.Context, email string) error
	CompleteSignIn(ctx context.Context, email, token string) (*model.Session, error)
	GetSession(ctx context.Context, sessionToken string) (*model.SessionAndUser, error)
	SignOut(ctx context.Context, sessionToken string) error

	OAuthEnabled() bool
	GetOAuthLoginURL(state string) string
	CompleteOAuthSignIn(ctx context.Context, code, currentUserID string) (*model.Session, error)
}

// SignInLimiter はメールアドレス単位のサインイン制限インターフェース。
type SignInLimiter interface {
	AllowSignInEmail(email string) bool
	SignInRetryAfter() int
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string
	CookieDomain string
	CookieSecure bool
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	limiter SignInLimiter
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。limiterはnilでもよい。
func NewAuthHandler(service AuthServiceInterface, limiter SignInLimiter, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		limiter: limiter,
		config:  config,
	}
}

type signInEmailRequest struct {
	Email string `json:"email" validate:"required,email,max=320"`
}

type sessionResponse struct {
	User    *model.User `json:"user"`
	Expires time.Time   `json:"expires"`
}

// SignInEmail はサインインリンクをメールで送信する。
// POST /auth/signin/email
// メールアドレスの登録有無にかかわらず204を返す。
func (h *AuthHandler) SignInEmail(w http.ResponseWriter, r *http.Request) {
	var req signInEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	email, err := auth.NormalizeEmail(req.Email)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	if h.limiter != nil && !h.limiter.AllowSignInEmail(email) {
		slog.Warn("rate limit exceeded", slog.String("limit_type", "signin_email"))
		middleware.WriteRateLimitExceeded(w, h.limiter.SignInRetryAfter())
		return
	}

	if err := h.service.RequestSignIn(r.Context(), email); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CallbackEmail はサインインリンクを検証し、セッションCookieを発行する。
// GET /auth/callback/email?email=xxx&token=yyy
func (h *AuthHandler) CallbackEmail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	session, err := h.service.CompleteSignIn(r.Context(), q.Get("email"), q.Get("token"))
	if err != nil {
		h.redirectWithError(w, r, err)
		return
	}

	h.setSessionCookie(w, session)
	http.Redirect(w, r, h.config.BaseURL, http.StatusFound)
}

// Session は現在のセッションとユーザーを返す。
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	result, err := h.service.GetSession(r.Context(), cookie.Value)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if result == nil {
		h.clearSessionCookie(w)
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	// 延長された有効期限をCookieにも反映する
	h.setSessionCookie(w, &result.Session)
	writeJSON(w, http.StatusOK, sessionResponse{
		User:    &result.User,
		Expires: result.Session.Expires,
	})
}

// SignOut はセッションを破棄する。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if err := h.service.SignOut(r.Context(), cookie.Value); err != nil {
			// 失敗してもCookieはクリアする
			slog.Error("failed to sign out", slog.String("error", err.Error()))
		}
	}

	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// GoogleSignIn はGoogle OAuthフローを開始する。
// GET /auth/signin/google
func (h *AuthHandler) GoogleSignIn(w http.ResponseWriter, r *http.Request) {
	if !h.service.OAuthEnabled() {
		http.NotFound(w, r)
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/callback/google",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetOAuthLoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback はGoogle OAuthコールバックを処理する。
// GET /auth/callback/google?code=xxx&state=yyy
// ログイン中に呼ばれた場合は、現在のユーザーにGoogleアカウントを紐付ける。
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if !h.service.OAuthEnabled() {
		http.NotFound(w, r)
		return
	}

	// 1. stateの検証
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidStateError())
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth/callback/google",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("認可コードがありません"))
		return
	}

	// 3. ログイン中のユーザー（アカウント連携の場合）
	currentUserID := ""
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		current, err := h.service.GetSession(r.Context(), cookie.Value)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		if current != nil {
			currentUserID = current.User.ID
		}
	}

	// 4. 認証処理
	session, err := h.service.CompleteOAuthSignIn(r.Context(), code, currentUserID)
	if err != nil {
		h.redirectWithError(w, r, err)
		return
	}

	h.setSessionCookie(w, session)
	http.Redirect(w, r, h.config.BaseURL, http.StatusFound)
}

// redirectWithError はユーザー向けのエラーをフロントエンドにクエリで伝える。
// APIError以外は500を返す。
func (h *AuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		middleware.WriteError(w, r, err)
		return
	}

	slog.Warn("sign-in rejected", slog.String("code", apiErr.Code))
	http.Redirect(w, r, h.config.BaseURL+"/?"+url.Values{"error": {apiErr.Code}}.Encode(), http.StatusFound)
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, session *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.SessionToken,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		Expires:  session.Expires,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	clearSessionCookie(w, h.config)
}

// clearSessionCookie はセッションCookieを削除する。
// 発行時と同じDomain・Secure属性を指定しないとブラウザは削除しない。
func clearSessionCookie(w http.ResponseWriter, config AuthHandlerConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はOAuthのstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
