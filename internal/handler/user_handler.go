package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/middleware"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/model"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Profile(ctx context.Context, userID string) (*model.User, error)
	UpdateProfile(ctx context.Context, userID string, update user.ProfileUpdate) (*model.User, error)
	ListAccounts(ctx context.Context, userID string) ([]*model.Account, error)
	UnlinkAccount(ctx context.Context, userID, provider, providerAccountID string) error
	// Withdraw はユーザーと紐付くアカウント・セッションを削除する。
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	cookies AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。
// cookiesは退会時にセッションCookieを削除するための属性に使う。
func NewUserHandler(service UserServiceInterface, cookies AuthHandlerConfig) *UserHandler {
	return &UserHandler{
		service: service,
		cookies: cookies,
	}
}

type updateProfileRequest struct {
	Name  optionalString `json:"name"`
	Image optionalString `json:"image"`
}

// accountResponse はトークン類を除いた外部アカウントの公開表現。
type accountResponse struct {
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"providerAccountId"`
	Type              string `json:"type"`
}

// GetMe はログイン中のユーザー情報を返す。
// GET /api/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	u, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// UpdateMe はプロフィール（名前・画像）を部分更新する。
// PATCH /api/users/me
// 省略したフィールドは変更せず、nullを指定したフィールドはクリアする。
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := req.Name.check("name", "max=100"); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := req.Image.check("image", "url,max=2048"); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if !req.Name.Set && !req.Image.Set {
		middleware.WriteError(w, r, model.NewInvalidRequestError("更新する項目がありません"))
		return
	}

	u, err := h.service.UpdateProfile(r.Context(), userID, user.ProfileUpdate{
		Name:  req.Name.Optional,
		Image: req.Image.Optional,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	clearSessionCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// ListAccounts は連携済みの外部アカウント一覧を返す。
// GET /api/accounts
func (h *UserHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	accounts, err := h.service.ListAccounts(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	resp := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, accountResponse{
			Provider:          a.Provider,
			ProviderAccountID: a.ProviderAccountID,
			Type:              a.Type,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// UnlinkAccount は外部アカウントの連携を解除する。
// DELETE /api/accounts/{provider}/{providerAccountId}
func (h *UserHandler) UnlinkAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	provider := chi.URLParam(r, "provider")
	providerAccountID := chi.URLParam(r, "providerAccountId")
	if provider == "" || providerAccountID == "" {
		middleware.WriteError(w, r, model.NewInvalidRequestError("provider"))
		return
	}

	if err := h.service.UnlinkAccount(r.Context(), userID, provider, providerAccountID); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// requireUserID はコンテキストからユーザーIDを取得し、なければ401を書き込む。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}
