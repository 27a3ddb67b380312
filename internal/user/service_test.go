package user

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/model"
)

// --- モック ---

type mockStore struct {
	getUserFn       func(ctx context.Context, id string) (*model.User, error)
	updateUserFn    func(ctx context.Context, patch model.UserPatch) (*model.User, error)
	deleteUserFn    func(ctx context.Context, id string) error
	listAccountsFn  func(ctx context.Context, userID string) ([]*model.Account, error)
	unlinkAccountFn func(ctx context.Context, provider, providerAccountID string) error
}

func (m *mockStore) CreateUser(_ context.Context, _ model.NewUser) (*model.User, error) {
	return nil, nil
}
func (m *mockStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	if m.getUserFn != nil {
		return m.getUserFn(ctx, id)
	}
	return nil, nil
}
func (m *mockStore) GetUserByEmail(_ context.Context, _ string) (*model.User, error) {
	return nil, nil
}
func (m *mockStore) GetUserByAccount(_ context.Context, _, _ string) (*model.User, error) {
	return nil, nil
}
func (m *mockStore) UpdateUser(ctx context.Context, patch model.UserPatch) (*model.User, error) {
	return m.updateUserFn(ctx, patch)
}
func (m *mockStore) DeleteUser(ctx context.Context, id string) error {
	return m.deleteUserFn(ctx, id)
}
func (m *mockStore) LinkAccount(_ context.Context, account model.Account) (*model.Account, error) {
	return &account, nil
}
func (m *mockStore) UnlinkAccount(ctx context.Context, provider, providerAccountID string) error {
	return m.unlinkAccountFn(ctx, provider, providerAccountID)
}
func (m *mockStore) ListAccounts(ctx context.Context, userID string) ([]*model.Account, error) {
	if m.listAccountsFn != nil {
		return m.listAccountsFn(ctx, userID)
	}
	return nil, nil
}

var _ Store = (*mockStore)(nil)

func apiErrorCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// --- テスト ---

// TestService_Profile はユーザー情報の取得を検証する。
func TestService_Profile(t *testing.T) {
	store := &mockStore{
		getUserFn: func(_ context.Context, id string) (*model.User, error) {
			if id == "user-1" {
				return &model.User{ID: id, Email: "alice@example.com"}, nil
			}
			return nil, nil
		},
	}
	svc := NewService(store)

	user, err := svc.Profile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Profile returned error: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("email = %q", user.Email)
	}

	_, err = svc.Profile(context.Background(), "missing")
	if apiErrorCode(err) != model.ErrCodeUserNotFound {
		t.Errorf("expected USER_NOT_FOUND, got %v", err)
	}
}

// TestService_UpdateProfile は指定したフィールドのみが更新対象になることを検証する。
func TestService_UpdateProfile(t *testing.T) {
	var got model.UserPatch
	store := &mockStore{
		updateUserFn: func(_ context.Context, patch model.UserPatch) (*model.User, error) {
			got = patch
			return &model.User{ID: patch.ID, Name: patch.Name.Value}, nil
		},
	}
	svc := NewService(store)

	user, err := svc.UpdateProfile(context.Background(), "user-1", ProfileUpdate{
		Name:  model.Some("Alice"),
		Image: model.Null[string](),
	})
	if err != nil {
		t.Fatalf("UpdateProfile returned error: %v", err)
	}
	if user.Name == nil || *user.Name != "Alice" {
		t.Errorf("name = %v", user.Name)
	}
	if got.ID != "user-1" {
		t.Errorf("patch id = %q", got.ID)
	}
	if !got.Image.Set || got.Image.Value != nil {
		t.Errorf("image should be cleared, got %+v", got.Image)
	}
	if got.Email.Set || got.EmailVerified.Set {
		t.Error("email fields must not be part of profile update")
	}
}

// TestService_UpdateProfile_UserNotFound は存在しないユーザーの更新がUSER_NOT_FOUNDになることを検証する。
func TestService_UpdateProfile_UserNotFound(t *testing.T) {
	store := &mockStore{
		updateUserFn: func(_ context.Context, patch model.UserPatch) (*model.User, error) {
			return nil, fmt.Errorf("updateUser %s: %w", patch.ID, model.ErrUserNotFound)
		},
	}
	svc := NewService(store)

	_, err := svc.UpdateProfile(context.Background(), "gone", ProfileUpdate{Name: model.Some("x")})
	if apiErrorCode(err) != model.ErrCodeUserNotFound {
		t.Fatalf("expected USER_NOT_FOUND, got %v", err)
	}
}

// TestService_UpdateProfile_SanitizesName は名前からHTMLが除去されることを検証する。
func TestService_UpdateProfile_SanitizesName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantNull bool
		want     string
	}{
		{"tags stripped", "<b>Alice</b>", false, "Alice"},
		{"only markup becomes null", "<script>x</script>", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got model.UserPatch
			store := &mockStore{
				updateUserFn: func(_ context.Context, patch model.UserPatch) (*model.User, error) {
					got = patch
					return &model.User{ID: patch.ID}, nil
				},
			}
			svc := NewService(store)

			if _, err := svc.UpdateProfile(context.Background(), "user-1", ProfileUpdate{Name: model.Some(tt.input)}); err != nil {
				t.Fatalf("UpdateProfile returned error: %v", err)
			}
			if !got.Name.Set {
				t.Fatal("name should be set")
			}
			if tt.wantNull {
				if got.Name.Value != nil {
					t.Errorf("name = %q, want null", *got.Name.Value)
				}
				return
			}
			if got.Name.Value == nil || *got.Name.Value != tt.want {
				t.Errorf("name = %v, want %q", got.Name.Value, tt.want)
			}
		})
	}
}

// TestService_UpdateProfile_RejectsUnsafeImage は内部ネットワークを指す画像URLを拒否することを検証する。
func TestService_UpdateProfile_RejectsUnsafeImage(t *testing.T) {
	store := &mockStore{
		updateUserFn: func(_ context.Context, patch model.UserPatch) (*model.User, error) {
			t.Fatal("UpdateUser should not be called")
			return nil, nil
		},
	}
	svc := NewService(store)

	for _, u := range []string{"http://cdn.example.com/a.png", "https://169.254.169.254/a.png"} {
		_, err := svc.UpdateProfile(context.Background(), "user-1", ProfileUpdate{Image: model.Some(u)})
		if apiErrorCode(err) != model.ErrCodeInvalidRequest {
			t.Errorf("image %q: expected INVALID_REQUEST, got %v", u, err)
		}
	}
}

// TestService_UnlinkAccount は自分の紐付けのみ解除できることを検証する。
func TestService_UnlinkAccount(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).Unix()
	var unlinked []string
	store := &mockStore{
		listAccountsFn: func(_ context.Context, userID string) ([]*model.Account, error) {
			return []*model.Account{
				{UserID: userID, Type: "oauth", Provider: "google", ProviderAccountID: "sub-1", ExpiresAt: &expiresAt},
			}, nil
		},
		unlinkAccountFn: func(_ context.Context, provider, providerAccountID string) error {
			unlinked = append(unlinked, provider+":"+providerAccountID)
			return nil
		},
	}
	svc := NewService(store)

	if err := svc.UnlinkAccount(context.Background(), "user-1", "google", "sub-1"); err != nil {
		t.Fatalf("UnlinkAccount returned error: %v", err)
	}
	if len(unlinked) != 1 || unlinked[0] != "google:sub-1" {
		t.Errorf("unlinked = %v", unlinked)
	}

	err := svc.UnlinkAccount(context.Background(), "user-1", "google", "someone-else")
	if apiErrorCode(err) != model.ErrCodeAccountNotLinked {
		t.Fatalf("expected ACCOUNT_NOT_LINKED, got %v", err)
	}
	if len(unlinked) != 1 {
		t.Error("account owned by another user must not be unlinked")
	}
}

// TestService_Withdraw は退会処理がユーザーを削除することを検証する。
func TestService_Withdraw(t *testing.T) {
	userDeleteCalled := false

	store := &mockStore{
		getUserFn: func(_ context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "test@example.com"}, nil
		},
		deleteUserFn: func(_ context.Context, id string) error {
			userDeleteCalled = true
			return nil
		},
	}

	svc := NewService(store)

	err := svc.Withdraw(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Withdraw returned error: %v", err)
	}
	if !userDeleteCalled {
		t.Error("expected DeleteUser to be called")
	}
}

// TestService_Withdraw_UserNotFound は存在しないユーザーの退会がエラーになることを検証する。
func TestService_Withdraw_UserNotFound(t *testing.T) {
	store := &mockStore{
		deleteUserFn: func(_ context.Context, _ string) error {
			t.Error("DeleteUser should not be called")
			return nil
		},
	}

	svc := NewService(store)

	err := svc.Withdraw(context.Background(), "nonexistent-user")
	if apiErrorCode(err) != model.ErrCodeUserNotFound {
		t.Fatalf("expected USER_NOT_FOUND, got %v", err)
	}
}
