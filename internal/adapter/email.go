package adapter

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// SMTPSecurity enumerates the connection-security modes spec.md §4.11
// names, grounded on original_source/app/email.py.
type SMTPSecurity string

const (
	SMTPNone     SMTPSecurity = "none"
	SMTPStartTLS SMTPSecurity = "starttls"
	SMTPSSL      SMTPSecurity = "ssl"
)

// SMTPProvider sends mail over net/smtp + crypto/tls, supporting the
// none|starttls|ssl security modes spec.md names.
type SMTPProvider struct{}

// NewSMTPProvider returns an SMTPProvider.
func NewSMTPProvider() *SMTPProvider { return &SMTPProvider{} }

func (p *SMTPProvider) Send(ctx context.Context, msg EmailMessage, conn EmailConnection, secret string, workspaceID string) (EmailSendResult, error) {
	host, _ := conn.Config["host"].(string)
	port, _ := conn.Config["port"].(string)
	if port == "" {
		port = "587"
	}
	username, _ := conn.Config["username"].(string)
	security := SMTPSecurity(fmt.Sprintf("%v", conn.Config["security"]))
	if security == "" {
		security = SMTPStartTLS
	}

	addr := host + ":" + port
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, secret, host)
	}

	body := buildMIME(msg)
	to := append(append([]string{}, msg.To...), append(msg.CC, msg.BCC...)...)

	errCh := make(chan error, 1)
	go func() {
		switch security {
		case SMTPSSL:
			errCh <- sendTLS(addr, host, auth, msg.From, to, body)
		case SMTPNone:
			errCh <- smtp.SendMail(addr, nil, msg.From, to, body)
		default: // starttls
			errCh <- smtp.SendMail(addr, auth, msg.From, to, body)
		}
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return EmailSendResult{}, fmt.Errorf("EMAIL_SEND_FAILED: %w", err)
		}
		return EmailSendResult{ProviderMessageID: "smtp-" + uuid.NewString()}, nil
	case <-ctx.Done():
		return EmailSendResult{}, fmt.Errorf("EMAIL_SEND_FAILED: %w", ctx.Err())
	}
}

func sendTLS(addr, host string, auth smtp.Auth, from string, to []string, body []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return err
	}
	defer conn.Close()
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer client.Close()
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	if err := client.Rcpt(to[0]); err != nil {
		return err
	}
	for _, r := range to[1:] {
		if err := client.Rcpt(r); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return w.Close()
}

func buildMIME(msg EmailMessage) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	if len(msg.CC) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(msg.CC, ", "))
	}
	if msg.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", msg.ReplyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	if msg.BodyHTML != "" {
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.BodyHTML)
	} else {
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.BodyText)
	}
	return []byte(b.String())
}

// HostedAPIProvider is a test/stub "hosted API" email provider
// (spec.md §4.11: "SMTP and hosted API implementations") — it never
// performs network I/O, recording sent messages for assertions instead.
type HostedAPIProvider struct {
	Sent []EmailMessage
}

// NewHostedAPIProvider returns a stub provider.
func NewHostedAPIProvider() *HostedAPIProvider { return &HostedAPIProvider{} }

func (p *HostedAPIProvider) Send(_ context.Context, msg EmailMessage, _ EmailConnection, _ string, _ string) (EmailSendResult, error) {
	p.Sent = append(p.Sent, msg)
	return EmailSendResult{ProviderMessageID: "api-" + strconv.Itoa(len(p.Sent))}, nil
}
