// Package mailer はSMTP経由のメール送信を提供する。
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"
)

// Message は送信するメール。
type Message struct {
	To       string
	Subject  string
	Body     string
	HTMLBody string
}

// Sender はメール送信のインターフェース。
// サインインサービスがリンク送信に使用する。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Config はSMTP接続設定。
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// dialer は *gomail.Dialer のうち送信に使用する部分。
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer はgomailでメールを送信するSender実装。
type SMTPMailer struct {
	from   string
	dialer dialer
	logger *slog.Logger
}

// NewSMTPMailer はSMTPMailerを生成する。
// Usernameが空の場合は認証なしで接続する（ローカルのMailpit等を想定）。
func NewSMTPMailer(cfg Config, logger *slog.Logger) *SMTPMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPMailer{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: logger,
	}
}

// Send はメールを1通送信する。
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("no recipient specified")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := m.dialer.DialAndSend(m.buildMessage(msg)); err != nil {
		m.logger.Error("failed to send email",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("email sent", slog.String("subject", msg.Subject))
	return nil
}

func (m *SMTPMailer) buildMessage(msg Message) *gomail.Message {
	gm := gomail.NewMessage()
	gm.SetHeader("From", m.from)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)

	if msg.HTMLBody != "" {
		gm.SetBody("text/html", msg.HTMLBody)
		if msg.Body != "" {
			gm.AddAlternative("text/plain", msg.Body)
		}
	} else {
		gm.SetBody("text/plain", msg.Body)
	}
	return gm
}

// compile-time interface check
var _ Sender = (*SMTPMailer)(nil)
