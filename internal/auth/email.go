package auth

import (
	"strings"

	"golang.org/x/net/idna"

	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/model"
)

// NormalizeEmail はメールアドレスを正規化する。
// 前後の空白を除いて小文字化し、ドメイン部はIDNAでASCII形式に変換する。
// verification_tokenのidentifierとusers.emailは常にこの形式で保存する。
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))

	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", model.NewInvalidEmailError(raw)
	}
	local, domain := email[:at], email[at+1:]
	if strings.ContainsAny(local, " \t\r\n<>(),;:\"") {
		return "", model.NewInvalidEmailError(raw)
	}

	asciiDomain, err := idna.Lookup.ToASCII(domain)
	if err != nil || asciiDomain == "" {
		return "", model.NewInvalidEmailError(raw)
	}

	return local + "@" + asciiDomain, nil
}
