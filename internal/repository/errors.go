package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// PostgreSQLの一意制約違反のSQLSTATE
const pgUniqueViolation = "23505"

// ErrorCode はドライバ固有のエラーコードを返す。
// PostgreSQLの場合はSQLSTATE、SQLiteの場合は "sqlite:<拡張コード>" 形式。
// コードを取得できない場合は空文字を返す。
func ErrorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return fmt.Sprintf("sqlite:%d", liteErr.Code())
	}

	return ""
}

// IsUniqueViolation は一意制約（主キーを含む）違反のエラーかどうかを判定する。
// アダプタ自身はこの判定で回復を行わない。呼び出し側の判断に使用する。
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	return false
}
