// Package repository はデータ永続化のインターフェースと実装を定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/model"
)

// DBTX は1ステートメント単位のSQL実行を抽象化するインターフェース。
// *sql.DB（プロセス共有のコネクションプール）や *sql.Tx を受け付けることができる。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UserStore はユーザーの永続化インターフェース。
type UserStore interface {
	// CreateUser はユーザーを作成し、採番済みのユーザーを返す。
	CreateUser(ctx context.Context, user model.NewUser) (*model.User, error)

	// GetUser は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	GetUser(ctx context.Context, id string) (*model.User, error)

	// GetUserByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)

	// GetUserByAccount はproviderとproviderAccountIdで紐付くユーザーを取得する。
	// 紐付けが存在しない場合はnilを返す。
	GetUserByAccount(ctx context.Context, provider, providerAccountID string) (*model.User, error)

	// UpdateUser は指定されたフィールドのみを更新し、更新後のユーザーを返す。
	// 対象が存在しない場合は model.ErrUserNotFound をラップしたエラーを返す。
	UpdateUser(ctx context.Context, patch model.UserPatch) (*model.User, error)

	// DeleteUser は指定IDのユーザーを削除する。存在しない場合もエラーにならない。
	// 関連するaccounts、sessionsはCASCADE削除される。
	DeleteUser(ctx context.Context, id string) error
}

// AccountStore は外部IdP紐付けの永続化インターフェース。
type AccountStore interface {
	// LinkAccount は紐付けを作成し、入力をそのまま返す（再読み込みはしない）。
	LinkAccount(ctx context.Context, account model.Account) (*model.Account, error)

	// UnlinkAccount は紐付けを削除する。存在しない場合もエラーにならない。
	UnlinkAccount(ctx context.Context, provider, providerAccountID string) error

	// ListAccounts はユーザーに紐付く外部IdPの一覧を返す。
	ListAccounts(ctx context.Context, userID string) ([]*model.Account, error)
}

// SessionStore はセッションの永続化インターフェース。
type SessionStore interface {
	// CreateSession はセッションを作成する。
	CreateSession(ctx context.Context, session model.Session) (*model.Session, error)

	// GetSessionAndUser はセッションと紐付くユーザーを1回のJOINで取得する。
	// トークンが未知、またはユーザーが削除済みの場合はnilを返す。
	// 有効期限の判定は行わない。
	GetSessionAndUser(ctx context.Context, sessionToken string) (*model.SessionAndUser, error)

	// UpdateSession はセッションの有効期限を更新する。見つからない場合はnilを返す。
	UpdateSession(ctx context.Context, sessionToken string, expires time.Time) (*model.Session, error)

	// DeleteSession はセッションを削除する。存在しない場合もエラーにならない。
	DeleteSession(ctx context.Context, sessionToken string) error
}

// VerificationTokenStore はメールリンク認証トークンの永続化インターフェース。
type VerificationTokenStore interface {
	// CreateVerificationToken はトークンを作成する。
	CreateVerificationToken(ctx context.Context, token model.VerificationToken) (*model.VerificationToken, error)

	// UseVerificationToken はトークンを取得すると同時に削除する。
	// DELETE ... RETURNING の1ステートメントで実行するため、
	// 同時に呼び出されても行を受け取れるのは1回のみ。見つからない場合はnilを返す。
	UseVerificationToken(ctx context.Context, identifier, token string) (*model.VerificationToken, error)
}

// AuthStorage は認証レイヤーが必要とする永続化操作の全体。
type AuthStorage interface {
	UserStore
	AccountStore
	SessionStore
	VerificationTokenStore
}

// OperationObserver はアダプタ操作の結果を受け取るインターフェース。
// メトリクス収集に使用する。
type OperationObserver interface {
	ObserveAdapterOperation(op string, outcome string, duration time.Duration)
}
