package mailer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"gopkg.in/gomail.v2"
)

// mockDialer はdialerのモック実装。
type mockDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *mockDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func newTestMailer(d dialer) (*SMTPMailer, *bytes.Buffer) {
	var buf bytes.Buffer
	return &SMTPMailer{
		from:   "twin@example.com",
		dialer: d,
		logger: slog.New(slog.NewJSONHandler(&buf, nil)),
	}, &buf
}

func TestSMTPMailer_Send_SetsHeaders(t *testing.T) {
	d := &mockDialer{}
	m, _ := newTestMailer(d)

	err := m.Send(context.Background(), Message{
		To:      "user@example.com",
		Subject: "Sign in",
		Body:    "https://example.com/auth/callback/email?token=abc",
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}

	if len(d.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(d.sent))
	}
	msg := d.sent[0]
	if got := msg.GetHeader("From"); len(got) != 1 || got[0] != "twin@example.com" {
		t.Errorf("From = %v, want twin@example.com", got)
	}
	if got := msg.GetHeader("To"); len(got) != 1 || got[0] != "user@example.com" {
		t.Errorf("To = %v, want user@example.com", got)
	}
	if got := msg.GetHeader("Subject"); len(got) != 1 || got[0] != "Sign in" {
		t.Errorf("Subject = %v, want Sign in", got)
	}
}

func TestSMTPMailer_Send_WritesHTMLWithPlainAlternative(t *testing.T) {
	d := &mockDialer{}
	m, _ := newTestMailer(d)

	err := m.Send(context.Background(), Message{
		To:       "user@example.com",
		Subject:  "Sign in",
		Body:     "plain link",
		HTMLBody: "<a href=\"https://example.com\">html link</a>",
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}

	var raw bytes.Buffer
	if _, err := d.sent[0].WriteTo(&raw); err != nil {
		t.Fatalf("WriteTo error: %v", err)
	}
	out := raw.String()
	if !strings.Contains(out, "text/html") || !strings.Contains(out, "text/plain") {
		t.Errorf("message should contain both html and plain parts:\n%s", out)
	}
}

func TestSMTPMailer_Send_NoRecipient(t *testing.T) {
	d := &mockDialer{}
	m, _ := newTestMailer(d)

	if err := m.Send(context.Background(), Message{Subject: "x"}); err == nil {
		t.Fatal("expected error for missing recipient")
	}
	if len(d.sent) != 0 {
		t.Error("nothing should be sent without recipient")
	}
}

func TestSMTPMailer_Send_DialerError_IsWrappedAndLogged(t *testing.T) {
	dialErr := errors.New("connection refused")
	m, logs := newTestMailer(&mockDialer{err: dialErr})

	err := m.Send(context.Background(), Message{To: "user@example.com", Subject: "Sign in"})
	if !errors.Is(err, dialErr) {
		t.Errorf("err = %v, want wrapping %v", err, dialErr)
	}
	if !strings.Contains(logs.String(), "failed to send email") {
		t.Errorf("expected failure log, got %q", logs.String())
	}
}

func TestSMTPMailer_Send_CanceledContext(t *testing.T) {
	d := &mockDialer{}
	m, _ := newTestMailer(d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Send(ctx, Message{To: "user@example.com"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(d.sent) != 0 {
		t.Error("nothing should be sent after cancel")
	}
}

func TestNewSMTPMailer_Initializes(t *testing.T) {
	m := NewSMTPMailer(Config{Host: "localhost", Port: 1025, From: "twin@example.com"}, nil)
	if m == nil {
		t.Fatal("expected non-nil mailer")
	}
	if m.from != "twin@example.com" {
		t.Errorf("from = %q, want %q", m.from, "twin@example.com")
	}
}
