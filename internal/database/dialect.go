// Package database はデータベース接続、SQL方言、マイグレーション管理を提供する。
package database

import (
	"fmt"
	"strings"
)

// Dialect はSQL方言を表す。
// クエリは$1形式のプレースホルダで記述し、Rebindで方言ごとの形式に変換する。
type Dialect string

const (
	// DialectPostgres はPostgreSQL方言。プレースホルダは$1形式。
	DialectPostgres Dialect = "postgres"
	// DialectSQLite はSQLite方言。プレースホルダは?1形式。
	DialectSQLite Dialect = "sqlite"
)

// DialectForDriver はドライバ名に対応する方言を返す。
func DialectForDriver(driver string) (Dialect, error) {
	switch driver {
	case DriverPostgres, DriverPgx:
		return DialectPostgres, nil
	case DriverSQLite:
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %q", driver)
	}
}

// Rebind は$N形式のプレースホルダを方言の形式に変換する。
// PostgreSQLの場合はそのまま返す。
func (d Dialect) Rebind(query string) string {
	if d != DialectSQLite {
		return query
	}

	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && isDigit(query[i+1]) {
			b.WriteByte('?')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
