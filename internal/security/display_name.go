// Package security はユーザー入力と外部通信の安全性を確保する機能を提供する。
//
// 表示名からHTMLを除去するサニタイザ、プロフィール画像URLの静的検証、
// 外部IdPへのリクエストに使うSSRF防止HTTPクライアントを含む。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// strictPolicy は全てのタグと属性を除去するポリシー。
// bluemonday.Policyは生成後の並行利用が安全。
var strictPolicy = bluemonday.StrictPolicy()

// SanitizeDisplayName は表示名からHTMLタグを除去したプレーンテキストを返す。
// エンティティはデコードし、前後の空白と連続する空白を1つにまとめる。
// 同一入力に対して常に同一出力を返す（冪等）。
func SanitizeDisplayName(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := html.UnescapeString(strictPolicy.Sanitize(raw))
	return strings.Join(strings.Fields(stripped), " ")
}
