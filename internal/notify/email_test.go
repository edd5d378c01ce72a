package notify

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/alert"
)

// silentSMTPServer accepts connections and then says nothing, like a hung
// relay.
func silentSMTPServer(t *testing.T) (host, port string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			t.Cleanup(func() { conn.Close() })
		}
	}()
	host, port, err = net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	return host, port
}

func TestEmailSendHonorsContextDeadline(t *testing.T) {
	host, port := silentSMTPServer(t)
	t.Setenv("SMTP_HOST", host)
	t.Setenv("SMTP_PORT", port)
	t.Setenv("SMTP_USE_TLS", "false")

	ch := NewEmailChannel(alert.ChannelConfig{
		Kind:       "email",
		Recipients: []string{"ops@example.com"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := ch.Send(ctx, testMessage())
	elapsed := time.Since(start)
	if err == nil {
		t.Fatalf("expected an error from a server that never greets")
	}
	if elapsed > 2*time.Second {
		t.Fatalf("Send blocked %v past its 200ms deadline", elapsed)
	}
}

func TestEmailSendDialFailsFast(t *testing.T) {
	// Nothing listens on this port; the dial must honor cancellation.
	t.Setenv("SMTP_HOST", "127.0.0.1")
	t.Setenv("SMTP_PORT", "1")
	t.Setenv("SMTP_USE_TLS", "false")

	ch := NewEmailChannel(alert.ChannelConfig{
		Kind:       "email",
		Recipients: []string{"ops@example.com"},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ch.Send(ctx, testMessage()); err == nil {
		t.Fatalf("expected an error with a cancelled context")
	}
}
