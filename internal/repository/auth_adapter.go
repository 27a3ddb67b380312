package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/database"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/model"
)

// 操作結果の区分（メトリクスのラベル値）
const (
	outcomeOK       = "ok"
	outcomeNotFound = "not_found"
	outcomeError    = "error"
)

// SQLAuthAdapter は認証レイヤーの操作をリレーショナルテーブルへの操作に変換するアダプタ。
//
// 各操作は1ステートメント（getSessionAndUserは1回のJOIN）のみを発行し、
// 複数ステートメントにまたがるトランザクションやリトライは行わない。
// 見つからない場合はnilを返し、ストレージのエラーは操作名とともにログ出力してから呼び出し側へ返す。
type SQLAuthAdapter struct {
	db       DBTX
	dialect  database.Dialect
	logger   *slog.Logger
	observer OperationObserver
	newID    func() string
}

// NewAuthAdapter はSQLAuthAdapterを生成する。
// dbには共有のコネクションプールを渡す。loggerとobserverはnilでもよい。
func NewAuthAdapter(db DBTX, dialect database.Dialect, logger *slog.Logger, observer OperationObserver) *SQLAuthAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLAuthAdapter{
		db:       db,
		dialect:  dialect,
		logger:   logger,
		observer: observer,
		newID:    uuid.NewString,
	}
}

// CreateUser はユーザーを作成し、採番済みのユーザーを返す。
// emailが空、または一意制約に違反する場合はストレージのエラーを返す。
func (a *SQLAuthAdapter) CreateUser(ctx context.Context, user model.NewUser) (created *model.User, err error) {
	const op = "createUser"
	defer a.observe(op, time.Now(), &err, nil)

	row := a.db.QueryRowContext(ctx,
		a.dialect.Rebind(`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+userColumns),
		userInsertArgs(a.newID(), user)...,
	)
	created, err = scanUser(row)
	if err != nil {
		return nil, a.fail(op, err)
	}
	return created, nil
}

// GetUser は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (a *SQLAuthAdapter) GetUser(ctx context.Context, id string) (user *model.User, err error) {
	const op = "getUser"
	defer a.observe(op, time.Now(), &err, func() bool { return user == nil })

	row := a.db.QueryRowContext(ctx,
		a.dialect.Rebind(`SELECT `+userColumns+` FROM users WHERE id = $1`),
		id,
	)
	return scanOptional(a, op, func() (*model.User, error) { return scanUser(row) })
}

// GetUserByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (a *SQLAuthAdapter) GetUserByEmail(ctx context.Context, email string) (user *model.User, err error) {
	const op = "getUserByEmail"
	defer a.observe(op, time.Now(), &err, func() bool { return user == nil })

	row := a.db.QueryRowContext(ctx,
		a.dialect.Rebind(`SELECT `+userColumns+` FROM users WHERE email = $1`),
		email,
	)
	return scanOptional(a, op, func() (*model.User, error) { return scanUser(row) })
}

// GetUserByAccount はaccountsとのJOINで紐付くユーザーを取得する。
// 紐付けが存在しない場合はnilを返す。
func (a *SQLAuthAdapter) GetUserByAccount(ctx context.Context, provider, providerAccountID string) (user *model.User, err error) {
	const op = "getUserByAccount"
	defer a.observe(op, time.Now(), &err, func() bool { return user == nil })

	row := a.db.QueryRowContext(ctx,
		a.dialect.Rebind(`SELECT u.id, u.name, u.email, u."emailVerified", u.image
		 FROM users u
		 JOIN accounts a ON a."userId" = u.id
		 WHERE a.provider = $1 AND a."providerAccountId" = $2`),
		provider, providerAccountID,
	)
	return scanOptional(a, op, func() (*model.User, error) { return scanUser(row) })
}

// UpdateUser はpatchのうち指定されたフィールドのみを更新し、更新後の行を返す。
// 対象が存在しない場合は model.ErrUserNotFound をラップしたエラーを返す。
func (a *SQLAuthAdapter) UpdateUser(ctx context.Context, patch model.UserPatch) (updated *model.User, err error) {
	const op = "updateUser"
	defer a.observe(op, time.Now(), &err, nil)

	query, args := buildUserUpdate(patch)
	row := a.db.QueryRowContext(ctx, a.dialect.Rebind(query), args...)

	updated, err = scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		a.logger.Warn("auth adapter update target not found",
			slog.String("op", op),
			slog.String("user_id", patch.ID),
		)
		return nil, fmt.Errorf("%s: %w: %s", op, model.ErrUserNotFound, patch.ID)
	}
	if err != nil {
		return nil, a.fail(op, err)
	}
	return updated, nil
}

// DeleteUser は指定IDのユーザーを削除する。存在しない場合もエラーにならない。
func (a *SQLAuthAdapter) DeleteUser(ctx context.Context, id string) (err error) {
	const op = "deleteUser"
	defer a.observe(op, time.Now(), &err, nil)

	if _, err = a.db.ExecContext(ctx, a.dialect.Rebind(`DELETE FROM users WHERE id = $1`), id); err != nil {
		return a.fail(op, err)
	}
	return nil
}

// LinkAccount は外部IdPとの紐付けを作成する。
// 入力をそのまま返し、ストレージからの再読み込みは行わない。IDが空の場合は採番する。
func (a *SQLAuthAdapter) LinkAccount(ctx context.Context, account model.Account) (linked *model.Account, err error) {
	const op = "linkAccount"
	defer a.observe(op, time.Now(), &err, nil)

	if account.ID == "" {
		account.ID = a.newID()
	}

	_, err = a.db.ExecContext(ctx,
		a.dialect.Rebind(`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`),
		accountInsertArgs(account)...,
	)
	if err != nil {
		return nil, a.fail(op, err)
	}
	return &account, nil
}

// UnlinkAccount は紐付けを削除する。存在しない場合もエラーにならない。
func (a *SQLAuthAdapter) UnlinkAccount(ctx context.Context, provider, providerAccountID string) (err error) {
	const op = "unlinkAccount"
	defer a.observe(op, time.Now(), &err, nil)

	_, err = a.db.ExecContext(ctx,
		a.dialect.Rebind(`DELETE FROM accounts WHERE provider = $1 AND "providerAccountId" = $2`),
		provider, providerAccountID,
	)
	if err != nil {
		return a.fail(op, err)
	}
	return nil
}

// ListAccounts はユーザーに紐付く外部IdPの一覧をprovider順に返す。
func (a *SQLAuthAdapter) ListAccounts(ctx context.Context, userID string) (accounts []*model.Account, err error) {
	const op = "listAccounts"
	defer a.observe(op, time.Now(), &err, nil)

	rows, err := a.db.QueryContext(ctx,
		a.dialect.Rebind(`SELECT `+accountColumns+` FROM accounts WHERE "userId" = $1 ORDER BY provider, "providerAccountId"`),
		userID,
	)
	if err != nil {
		return nil, a.fail(op, err)
	}
	defer rows.Close()

	accounts = []*model.Account{}
	for rows.Next() {
		account, scanErr := scanAccount(rows)
		if scanErr != nil {
			err = scanErr
			return nil, a.fail(op, err)
		}
		accounts = append(accounts, account)
	}
	if err = rows.Err(); err != nil {
		return nil, a.fail(op, err)
	}
	return accounts, nil
}

// CreateSession はセッションを作成する。IDが空の場合は採番する。
func (a *SQLAuthAdapter) CreateSession(ctx context.Context, session model.Session) (created *model.Session, err error) {
	const op = "createSession"
	defer a.observe(op, time.Now(), &err, nil)

	if session.ID == "" {
		session.ID = a.newID()
	}

	row := a.db.QueryRowContext(ctx,
		a.dialect.Rebind(`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+sessionColumns),
		sessionInsertArgs(session)...,
	)
	created, err = scanSession(row)
	if err != nil {
		return nil, a.fail(op, err)
	}
	return created, nil
}

// GetSessionAndUser はセッションと紐付くユーザーを1回のJOINで取得する。
// トークンが未知、またはユーザーが存在しない場合はnilを返す。
func (a *SQLAuthAdapter) GetSessionAndUser(ctx context.Context, sessionToken string) (result *model.SessionAndUser, err error) {
	const op = "getSessionAndUser"
	defer a.observe(op, time.Now(), &err, func() bool { return result == nil })

	row := a.db.QueryRowContext(ctx,
		a.dialect.Rebind(`SELECT s.id, s."sessionToken", s."userId", s.expires,
		        u.id, u.name, u.email, u."emailVerified", u.image
		 FROM sessions s
		 JOIN users u ON u.id = s."userId"
		 WHERE s."sessionToken" = $1`),
		sessionToken,
	)
	return scanOptional(a, op, func() (*model.SessionAndUser, error) { return scanSessionAndUser(row) })
}

// UpdateSession はセッションの有効期限を更新する。見つからない場合はnilを返す。
func (a *SQLAuthAdapter) UpdateSession(ctx context.Context, sessionToken string, expires time.Time) (updated *model.Session, err error) {
	const op = "updateSession"
	defer a.observe(op, time.Now(), &err, func() bool { return updated == nil })

	b := newUpdateBuilder("sessions", `"sessionToken"`, sessionToken)
	b.set("expires", timestampArg(expires))
	query, args := b.build(sessionColumns)

	row := a.db.QueryRowContext(ctx, a.dialect.Rebind(query), args...)
	return scanOptional(a, op, func() (*model.Session, error) { return scanSession(row) })
}

// DeleteSession はセッションを削除する。存在しない場合もエラーにならない。
func (a *SQLAuthAdapter) DeleteSession(ctx context.Context, sessionToken string) (err error) {
	const op = "deleteSession"
	defer a.observe(op, time.Now(), &err, nil)

	_, err = a.db.ExecContext(ctx,
		a.dialect.Rebind(`DELETE FROM sessions WHERE "sessionToken" = $1`),
		sessionToken,
	)
	if err != nil {
		return a.fail(op, err)
	}
	return nil
}

// CreateVerificationToken はメールリンク認証トークンを作成する。
// 同じ (identifier, token) が既に存在する場合はストレージのエラーをそのまま返す。
func (a *SQLAuthAdapter) CreateVerificationToken(ctx context.Context, token model.VerificationToken) (created *model.VerificationToken, err error) {
	const op = "createVerificationToken"
	defer a.observe(op, time.Now(), &err, nil)

	row := a.db.QueryRowContext(ctx,
		a.dialect.Rebind(`INSERT INTO verification_token (`+tokenColumns+`)
		 VALUES ($1, $2, $3)
		 RETURNING `+tokenColumns),
		tokenInsertArgs(token)...,
	)
	created, err = scanToken(row)
	if err != nil {
		return nil, a.fail(op, err)
	}
	return created, nil
}

// UseVerificationToken はトークンを削除し、削除した行を返す。
// 取得と無効化を DELETE ... RETURNING の1ステートメントで行うため、
// 同時に複数回呼び出されても行を受け取れるのは1回のみ。見つからない場合はnilを返す。
func (a *SQLAuthAdapter) UseVerificationToken(ctx context.Context, identifier, token string) (used *model.VerificationToken, err error) {
	const op = "useVerificationToken"
	defer a.observe(op, time.Now(), &err, func() bool { return used == nil })

	row := a.db.QueryRowContext(ctx,
		a.dialect.Rebind(`DELETE FROM verification_token
		 WHERE identifier = $1 AND token = $2
		 RETURNING `+tokenColumns),
		identifier, token,
	)
	return scanOptional(a, op, func() (*model.VerificationToken, error) { return scanToken(row) })
}

// scanOptional はsql.ErrNoRowsを「見つからない」(nil, nil) に変換する。
func scanOptional[T any](a *SQLAuthAdapter, op string, scan func() (*T, error)) (*T, error) {
	v, err := scan()
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, a.fail(op, err)
	}
	return v, nil
}

// fail はストレージのエラーを操作名とともにログ出力し、ラップして返す。
func (a *SQLAuthAdapter) fail(op string, err error) error {
	attrs := []any{
		slog.String("op", op),
		slog.String("error", err.Error()),
	}
	if code := ErrorCode(err); code != "" {
		attrs = append(attrs, slog.String("sqlstate", code))
	}
	a.logger.Error("auth adapter operation failed", attrs...)
	return fmt.Errorf("%s: %w", op, err)
}

// observe は操作の結果と所要時間をobserverへ通知する。
// notFoundがnilでない場合、エラーなしでtrueを返した操作はnot_foundとして記録する。
func (a *SQLAuthAdapter) observe(op string, start time.Time, err *error, notFound func() bool) {
	if a.observer == nil {
		return
	}
	outcome := outcomeOK
	switch {
	case *err != nil:
		outcome = outcomeError
	case notFound != nil && notFound():
		outcome = outcomeNotFound
	}
	a.observer.ObserveAdapterOperation(op, outcome, time.Since(start))
}

// compile-time interface check
var _ AuthStorage = (*SQLAuthAdapter)(nil)
