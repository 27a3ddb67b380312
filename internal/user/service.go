// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/model"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/repository"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/security"
)

// Store はユーザー管理に必要な永続化インターフェース。
type Store interface {
	repository.UserStore
	repository.AccountStore
}

// ProfileUpdate はプロフィールの部分更新入力。
// Setでないフィールドは変更しない。
type ProfileUpdate struct {
	Name  model.Optional[string]
	Image model.Optional[string]
}

// Service はユーザー管理のサービス層。
// プロフィール参照・更新、外部アカウント管理、退会処理を提供する。
type Service struct {
	store Store
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Profile はユーザー情報を取得する。
func (s *Service) Profile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateProfile は名前とアイコン画像を部分更新する。
// 名前はHTMLを除去し、空になった場合はnullとして保存する。
// 画像URLはhttpsの公開ホストのみ受け付ける。
func (s *Service) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*model.User, error) {
	name := update.Name
	if name.Set && name.Value != nil {
		if cleaned := security.SanitizeDisplayName(*name.Value); cleaned != "" {
			name = model.Some(cleaned)
		} else {
			name = model.Null[string]()
		}
	}
	if update.Image.Set && update.Image.Value != nil {
		if err := security.ValidateImageURL(*update.Image.Value); err != nil {
			return nil, model.NewInvalidRequestError(fmt.Sprintf("image: %v", err))
		}
	}

	user, err := s.store.UpdateUser(ctx, model.UserPatch{
		ID:    userID,
		Name:  name,
		Image: update.Image,
	})
	if errors.Is(err, model.ErrUserNotFound) {
		return nil, model.NewUserNotFoundError()
	}
	if err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	slog.Info("プロフィールを更新しました",
		slog.String("user_id", userID),
	)
	return user, nil
}

// ListAccounts はユーザーに紐付く外部アカウントの一覧を返す。
func (s *Service) ListAccounts(ctx context.Context, userID string) ([]*model.Account, error) {
	accounts, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("外部アカウントの取得に失敗しました: %w", err)
	}
	return accounts, nil
}

// UnlinkAccount はユーザー自身の外部アカウントの紐付けを解除する。
// 他のユーザーの紐付け、または存在しない紐付けを指定した場合はACCOUNT_NOT_LINKEDエラーを返す。
func (s *Service) UnlinkAccount(ctx context.Context, userID, provider, providerAccountID string) error {
	accounts, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return fmt.Errorf("外部アカウントの取得に失敗しました: %w", err)
	}

	owned := false
	for _, a := range accounts {
		if a.Provider == provider && a.ProviderAccountID == providerAccountID {
			owned = true
			break
		}
	}
	if !owned {
		return model.NewAccountNotLinkedError()
	}

	if err := s.store.UnlinkAccount(ctx, provider, providerAccountID); err != nil {
		return fmt.Errorf("外部アカウントの紐付け解除に失敗しました: %w", err)
	}

	slog.Info("外部アカウントの紐付けを解除しました",
		slog.String("user_id", userID),
		slog.String("provider", provider),
	)
	return nil
}

// Withdraw はユーザーの退会処理を実行する。
// accountsとsessionsはCASCADE削除される。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	// ユーザー存在確認
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)
	return nil
}
