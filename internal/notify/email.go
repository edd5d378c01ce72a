package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/alert"
)

// smtpTimeout bounds the whole SMTP exchange when the caller's context
// carries no deadline of its own.
const smtpTimeout = 30 * time.Second

// EmailChannel sends via SMTP. Server settings come from the environment
// (SMTP_HOST, SMTP_PORT, SMTP_USERNAME, SMTP_PASSWORD, SMTP_USE_TLS,
// SMTP_FROM_ADDRESS); recipients and subject come from the alert config.
type EmailChannel struct {
	cfg  alert.ChannelConfig
	host string
	port int
	user string
	pass string
	tls  bool
	from string
}

func NewEmailChannel(cfg alert.ChannelConfig) *EmailChannel {
	port := 587
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			port = parsed
		}
	}
	useTLS := true
	if v := os.Getenv("SMTP_USE_TLS"); v != "" {
		useTLS = v == "true" || v == "1"
	}
	user := os.Getenv("SMTP_USERNAME")
	from := os.Getenv("SMTP_FROM_ADDRESS")
	if from == "" {
		from = user
	}
	if from == "" {
		from = "sqlsentinel@localhost"
	}
	return &EmailChannel{
		cfg:  cfg,
		host: os.Getenv("SMTP_HOST"),
		port: port,
		user: user,
		pass: os.Getenv("SMTP_PASSWORD"),
		tls:  useTLS,
		from: from,
	}
}

func (c *EmailChannel) Kind() string { return "email" }

func (c *EmailChannel) NotifyOnRecovery() bool { return c.cfg.NotifyOnRecovery }

func (c *EmailChannel) Validate() error {
	if c.host == "" {
		return Permanent(fmt.Errorf("SMTP_HOST is not set"))
	}
	if len(c.cfg.Recipients) == 0 {
		return Permanent(fmt.Errorf("email channel has no recipients"))
	}
	for _, addr := range c.cfg.Recipients {
		if !strings.Contains(addr, "@") {
			return Permanent(fmt.Errorf("invalid recipient address %q", addr))
		}
	}
	return nil
}

func (c *EmailChannel) Send(ctx context.Context, msg Message) error {
	subject := c.subject(msg)
	body := formatBody(msg)
	mail := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		c.from, strings.Join(c.cfg.Recipients, ", "), subject, body)

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	conn, err := (&net.Dialer{Timeout: smtpTimeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	// Every read and write after the dial inherits the caller's deadline,
	// so a hung server can never block the dispatch worker.
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(smtpTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return err
	}

	client, err := smtp.NewClient(conn, c.host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer client.Close()

	if c.tls {
		if err := client.StartTLS(&tls.Config{ServerName: c.host}); err != nil {
			return err
		}
	}
	if c.user != "" {
		auth := smtp.PlainAuth("", c.user, c.pass, c.host)
		if err := client.Auth(auth); err != nil {
			return Permanent(fmt.Errorf("smtp auth rejected: %w", err))
		}
	}
	if err := client.Mail(c.from); err != nil {
		return err
	}
	for _, rcpt := range c.cfg.Recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	writer, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := writer.Write([]byte(mail)); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (c *EmailChannel) subject(msg Message) string {
	if c.cfg.Subject != "" {
		subject := strings.ReplaceAll(c.cfg.Subject, "{alert_name}", msg.AlertName)
		subject = strings.ReplaceAll(subject, "{status}", string(msg.Verdict))
		return subject
	}
	return fmt.Sprintf("[SQL Sentinel] %s: %s", msg.Verdict, msg.AlertName)
}

func formatBody(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert: %s\n", msg.AlertName)
	if msg.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", msg.Description)
	}
	fmt.Fprintf(&b, "Status: %s\n", msg.Verdict)
	if msg.ActualValue != nil {
		fmt.Fprintf(&b, "Actual value: %v\n", msg.ActualValue)
	}
	if msg.Threshold != nil {
		fmt.Fprintf(&b, "Threshold: %v\n", msg.Threshold)
	}
	for _, field := range msg.Context {
		fmt.Fprintf(&b, "%s: %v\n", field.Name, field.Value)
	}
	fmt.Fprintf(&b, "Time: %s\n", msg.Timestamp.UTC().Format(time.RFC3339))
	return b.String()
}
