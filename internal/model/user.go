// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// 任意項目は未設定の場合nilとなり、JSONではnullとして出力される。
type User struct {
	ID            string     `json:"id"`
	Name          *string    `json:"name"`
	Email         string     `json:"email"`
	EmailVerified *time.Time `json:"emailVerified"`
	Image         *string    `json:"image"`
}

// NewUser はID採番前のユーザー作成入力を表す。
type NewUser struct {
	Name          *string    `json:"name"`
	Email         string     `json:"email"`
	EmailVerified *time.Time `json:"emailVerified"`
	Image         *string    `json:"image"`
}

// UserPatch はユーザーの部分更新入力を表す。
// Setでないフィールドは書き込まれない。
type UserPatch struct {
	ID            string
	Name          Optional[string]
	Email         Optional[string]
	EmailVerified Optional[time.Time]
	Image         Optional[string]
}

// Account は外部IdPとの紐付け情報を表す。
// (Provider, ProviderAccountID) が検索キーとなる。
type Account struct {
	ID                string  `json:"id"`
	UserID            string  `json:"userId"`
	Type              string  `json:"type"`
	Provider          string  `json:"provider"`
	ProviderAccountID string  `json:"providerAccountId"`
	RefreshToken      *string `json:"refresh_token"`
	AccessToken       *string `json:"access_token"`
	ExpiresAt         *int64  `json:"expires_at"`
	TokenType         *string `json:"token_type"`
	Scope             *string `json:"scope"`
	IDToken           *string `json:"id_token"`
	SessionState      *string `json:"session_state"`
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID           string    `json:"id"`
	SessionToken string    `json:"sessionToken"`
	UserID       string    `json:"userId"`
	Expires      time.Time `json:"expires"`
}

// SessionAndUser はセッションと紐付くユーザーの組を表す。
type SessionAndUser struct {
	Session Session `json:"session"`
	User    User    `json:"user"`
}

// VerificationToken はメールリンク認証用の使い捨てトークンを表す。
// (Identifier, Token) の組で一意となる。
type VerificationToken struct {
	Identifier string    `json:"identifier"`
	Token      string    `json:"token"`
	Expires    time.Time `json:"expires"`
}
