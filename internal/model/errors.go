// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrUserNotFound は更新対象のユーザーが存在しないことを表す。
var ErrUserNotFound = errors.New("user not found")

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidEmail   = "INVALID_EMAIL"
	ErrCodeInvalidToken   = "INVALID_TOKEN"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeUserNotFound   = "USER_NOT_FOUND"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeEmailTaken     = "EMAIL_TAKEN"

	ErrCodeAccountNotLinked = "ACCOUNT_NOT_LINKED"
	ErrCodeAccountInUse     = "ACCOUNT_IN_USE"
	ErrCodeInvalidState     = "INVALID_STATE"
)

// NewInvalidEmailError は無効なメールアドレスエラーを生成する。
func NewInvalidEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  fmt.Sprintf("無効なメールアドレスです: %s", email),
		Category: "validation",
		Action:   "正しいメールアドレスを入力してください。",
	}
}

// NewInvalidTokenError はログインリンクが無効な場合のエラーを生成する。
// 使用済み、期限切れ、未発行のいずれも同じエラーとする。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "ログインリンクが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "もう一度ログインリンクを送信してください。",
	}
}

// NewInvalidRequestError はリクエスト形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUnauthorizedError は認証が必要な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewEmailTakenError はメールアドレスが既に使用されている場合のエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に使用されています。",
		Category: "validation",
		Action:   "別のメールアドレスを指定してください。",
	}
}

// NewAccountNotLinkedError は同じメールアドレスのユーザーが別の方法で登録済みの場合のエラーを生成する。
func NewAccountNotLinkedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotLinked,
		Message:  "このメールアドレスは別のログイン方法で登録されています。",
		Category: "auth",
		Action:   "以前と同じ方法でログインし、設定画面からアカウントを連携してください。",
	}
}

// NewAccountInUseError は外部アカウントが既に別のユーザーに連携されている場合のエラーを生成する。
func NewAccountInUseError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountInUse,
		Message:  "この外部アカウントは既に別のユーザーに連携されています。",
		Category: "auth",
		Action:   "連携済みのユーザーでログインしてください。",
	}
}

// NewInvalidStateError はOAuthのstate検証に失敗した場合のエラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "ログイン要求の検証に失敗しました。",
		Category: "auth",
		Action:   "もう一度ログインしてください。",
	}
}
