package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/model"
)

// 各テーブルの列リスト。大文字小文字を含む列名はダブルクォートで囲む。
const (
	userColumns    = `id, name, email, "emailVerified", image`
	accountColumns = `id, "userId", type, provider, "providerAccountId", refresh_token, access_token, expires_at, token_type, scope, id_token, session_state`
	sessionColumns = `id, "sessionToken", "userId", expires`
	tokenColumns   = `identifier, token, expires`
)

// rowScanner は *sql.Row と *sql.Rows の共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

// timestampLayouts はドライバが文字列で返すタイムスタンプの解析形式。
// PostgreSQLドライバはtime.Timeを返すが、SQLiteはTEXTで保持する場合がある。
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// nullTimestamp はNULL許容のタイムスタンプ列を読み取るsql.Scanner。
// time.Time、文字列、UNIX秒の整数を受け付け、常にUTCに正規化する。
type nullTimestamp struct {
	Time  time.Time
	Valid bool
}

// Scan はsql.Scannerを実装する。
func (n *nullTimestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case int64:
		n.Time, n.Valid = time.Unix(v, 0).UTC(), true
		return nil
	case []byte:
		return n.parse(string(v))
	case string:
		return n.parse(v)
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (n *nullTimestamp) parse(s string) error {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", s)
}

// ptr はNULLの場合nilを返す。
func (n nullTimestamp) ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

// timestampArg は書き込み用のタイムスタンプ引数をUTCに正規化する。
func timestampArg(t time.Time) any {
	return t.UTC()
}

func nullTimestampArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullStringArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt64Arg(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}

// requiredStringArg は空文字をNULLとして渡し、NOT NULL制約でストレージに拒否させる。
func requiredStringArg(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	i := ni.Int64
	return &i
}

// --- users ---

type userRow struct {
	ID            string
	Name          sql.NullString
	Email         string
	EmailVerified nullTimestamp
	Image         sql.NullString
}

func (r *userRow) dest() []any {
	return []any{&r.ID, &r.Name, &r.Email, &r.EmailVerified, &r.Image}
}

func userFromRow(r userRow) *model.User {
	return &model.User{
		ID:            r.ID,
		Name:          stringPtr(r.Name),
		Email:         r.Email,
		EmailVerified: r.EmailVerified.ptr(),
		Image:         stringPtr(r.Image),
	}
}

// userInsertArgs はuserColumnsの順に引数を並べる。
func userInsertArgs(id string, u model.NewUser) []any {
	return []any{
		id,
		nullStringArg(u.Name),
		requiredStringArg(u.Email),
		nullTimestampArg(u.EmailVerified),
		nullStringArg(u.Image),
	}
}

func scanUser(s rowScanner) (*model.User, error) {
	var r userRow
	if err := s.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return userFromRow(r), nil
}

// --- accounts ---

// accountInsertArgs はaccountColumnsの順に引数を並べる。
func accountInsertArgs(a model.Account) []any {
	return []any{
		a.ID,
		a.UserID,
		a.Type,
		a.Provider,
		a.ProviderAccountID,
		nullStringArg(a.RefreshToken),
		nullStringArg(a.AccessToken),
		nullInt64Arg(a.ExpiresAt),
		nullStringArg(a.TokenType),
		nullStringArg(a.Scope),
		nullStringArg(a.IDToken),
		nullStringArg(a.SessionState),
	}
}

type accountRow struct {
	ID                string
	UserID            string
	Type              string
	Provider          string
	ProviderAccountID string
	RefreshToken      sql.NullString
	AccessToken       sql.NullString
	ExpiresAt         sql.NullInt64
	TokenType         sql.NullString
	Scope             sql.NullString
	IDToken           sql.NullString
	SessionState      sql.NullString
}

func (r *accountRow) dest() []any {
	return []any{
		&r.ID, &r.UserID, &r.Type, &r.Provider, &r.ProviderAccountID,
		&r.RefreshToken, &r.AccessToken, &r.ExpiresAt, &r.TokenType,
		&r.Scope, &r.IDToken, &r.SessionState,
	}
}

func accountFromRow(r accountRow) *model.Account {
	return &model.Account{
		ID:                r.ID,
		UserID:            r.UserID,
		Type:              r.Type,
		Provider:          r.Provider,
		ProviderAccountID: r.ProviderAccountID,
		RefreshToken:      stringPtr(r.RefreshToken),
		AccessToken:       stringPtr(r.AccessToken),
		ExpiresAt:         int64Ptr(r.ExpiresAt),
		TokenType:         stringPtr(r.TokenType),
		Scope:             stringPtr(r.Scope),
		IDToken:           stringPtr(r.IDToken),
		SessionState:      stringPtr(r.SessionState),
	}
}

func scanAccount(s rowScanner) (*model.Account, error) {
	var r accountRow
	if err := s.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return accountFromRow(r), nil
}

// --- sessions ---

type sessionRow struct {
	ID           string
	SessionToken string
	UserID       string
	Expires      nullTimestamp
}

func (r *sessionRow) dest() []any {
	return []any{&r.ID, &r.SessionToken, &r.UserID, &r.Expires}
}

func sessionFromRow(r sessionRow) *model.Session {
	return &model.Session{
		ID:           r.ID,
		SessionToken: r.SessionToken,
		UserID:       r.UserID,
		Expires:      r.Expires.Time,
	}
}

func sessionInsertArgs(s model.Session) []any {
	return []any{s.ID, s.SessionToken, s.UserID, timestampArg(s.Expires)}
}

func scanSession(s rowScanner) (*model.Session, error) {
	var r sessionRow
	if err := s.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return sessionFromRow(r), nil
}

// scanSessionAndUser はsessionColumnsに続けてuserColumnsを並べた行を読み取る。
func scanSessionAndUser(s rowScanner) (*model.SessionAndUser, error) {
	var sr sessionRow
	var ur userRow
	if err := s.Scan(append(sr.dest(), ur.dest()...)...); err != nil {
		return nil, err
	}
	return &model.SessionAndUser{
		Session: *sessionFromRow(sr),
		User:    *userFromRow(ur),
	}, nil
}

// --- verification_token ---

type tokenRow struct {
	Identifier string
	Token      string
	Expires    nullTimestamp
}

func (r *tokenRow) dest() []any {
	return []any{&r.Identifier, &r.Token, &r.Expires}
}

func tokenFromRow(r tokenRow) *model.VerificationToken {
	return &model.VerificationToken{
		Identifier: r.Identifier,
		Token:      r.Token,
		Expires:    r.Expires.Time,
	}
}

func tokenInsertArgs(t model.VerificationToken) []any {
	return []any{t.Identifier, t.Token, timestampArg(t.Expires)}
}

func scanToken(s rowScanner) (*model.VerificationToken, error) {
	var r tokenRow
	if err := s.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return tokenFromRow(r), nil
}
