package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/alert"
)

type fakeChannel struct {
	kind        string
	validateErr error
	sendErrs    []error // consumed one per Send; nil entry means success
	sends       int
	recovery    bool
}

func (f *fakeChannel) Kind() string           { return f.kind }
func (f *fakeChannel) Validate() error        { return f.validateErr }
func (f *fakeChannel) NotifyOnRecovery() bool { return f.recovery }

func (f *fakeChannel) Send(ctx context.Context, msg Message) error {
	idx := f.sends
	f.sends++
	if idx < len(f.sendErrs) {
		return f.sendErrs[idx]
	}
	return nil
}

func testDispatcher() *Dispatcher {
	d := NewDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.initialInterval = time.Millisecond
	return d
}

func testMessage() Message {
	return Message{
		RunID:     "run-1",
		AlertName: "rev",
		Verdict:   alert.VerdictAlert,
		Timestamp: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
	}
}

func TestDispatchSendsToEveryChannel(t *testing.T) {
	a := &fakeChannel{kind: "email"}
	b := &fakeChannel{kind: "slack"}
	outcomes := testDispatcher().Dispatch(context.Background(), testMessage(), []Channel{a, b}, false)
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	for _, out := range outcomes {
		if out.Status != StatusSent || out.Attempts != 1 {
			t.Fatalf("unexpected outcome: %+v", out)
		}
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	broken := &fakeChannel{kind: "slack", validateErr: Permanent(errors.New("bad webhook"))}
	healthy := &fakeChannel{kind: "email"}
	outcomes := testDispatcher().Dispatch(context.Background(), testMessage(), []Channel{broken, healthy}, false)
	if outcomes[0].Status != StatusFailed {
		t.Fatalf("broken channel should fail: %+v", outcomes[0])
	}
	if outcomes[1].Status != StatusSent {
		t.Fatalf("healthy channel must still send: %+v", outcomes[1])
	}
}

func TestDispatchRetriesTransientErrors(t *testing.T) {
	flaky := &fakeChannel{kind: "webhook", sendErrs: []error{errors.New("status 500"), errors.New("status 500"), nil}}
	outcomes := testDispatcher().Dispatch(context.Background(), testMessage(), []Channel{flaky}, false)
	out := outcomes[0]
	if out.Status != StatusSent {
		t.Fatalf("expected eventual success: %+v", out)
	}
	if out.Attempts != 3 || flaky.sends != 3 {
		t.Fatalf("expected 3 attempts, got %d (%d sends)", out.Attempts, flaky.sends)
	}
}

func TestDispatchGivesUpAfterMaxRetries(t *testing.T) {
	dead := &fakeChannel{kind: "webhook", sendErrs: []error{
		errors.New("status 500"), errors.New("status 500"),
		errors.New("status 500"), errors.New("status 500"),
		errors.New("status 500"),
	}}
	outcomes := testDispatcher().Dispatch(context.Background(), testMessage(), []Channel{dead}, false)
	out := outcomes[0]
	if out.Status != StatusFailed || out.Err == nil {
		t.Fatalf("expected failure after retries: %+v", out)
	}
	// initial attempt plus maxRetries
	if out.Attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", out.Attempts)
	}
}

func TestDispatchDoesNotRetryPermanentErrors(t *testing.T) {
	rejected := &fakeChannel{kind: "slack", sendErrs: []error{Permanent(errors.New("status 404"))}}
	outcomes := testDispatcher().Dispatch(context.Background(), testMessage(), []Channel{rejected}, false)
	out := outcomes[0]
	if out.Status != StatusFailed {
		t.Fatalf("expected failure: %+v", out)
	}
	if rejected.sends != 1 {
		t.Fatalf("permanent errors must not retry, got %d sends", rejected.sends)
	}
}

func TestDispatchDryRunSkipsSend(t *testing.T) {
	ch := &fakeChannel{kind: "email"}
	outcomes := testDispatcher().Dispatch(context.Background(), testMessage(), []Channel{ch}, true)
	if outcomes[0].Status != StatusSkipped {
		t.Fatalf("dry run must skip: %+v", outcomes[0])
	}
	if ch.sends != 0 {
		t.Fatalf("dry run must never call Send")
	}
}

func TestDispatchDryRunReportsInvalidConfig(t *testing.T) {
	ch := &fakeChannel{kind: "email", validateErr: Permanent(errors.New("no recipients"))}
	outcomes := testDispatcher().Dispatch(context.Background(), testMessage(), []Channel{ch}, true)
	out := outcomes[0]
	if out.Status != StatusSkipped || out.Err == nil {
		t.Fatalf("dry run should surface validation problems: %+v", out)
	}
}

func TestBuildKnownKinds(t *testing.T) {
	cases := []alert.ChannelConfig{
		{Kind: "email", Recipients: []string{"ops@example.com"}},
		{Kind: "slack", WebhookURL: "https://hooks.slack.com/services/T/B/x"},
		{Kind: "webhook", URL: "https://example.com/hook"},
		{Kind: "nats", URL: "nats://localhost:4222", NATSSubject: "alerts"},
	}
	for _, cfg := range cases {
		ch, err := Build(cfg)
		if err != nil {
			t.Fatalf("%s: %v", cfg.Kind, err)
		}
		if ch.Kind() != cfg.Kind {
			t.Fatalf("kind mismatch: %s vs %s", ch.Kind(), cfg.Kind)
		}
	}
}

func TestBuildUnknownKind(t *testing.T) {
	if _, err := Build(alert.ChannelConfig{Kind: "pager"}); err == nil {
		t.Fatalf("expected error for unknown channel kind")
	}
}

func TestBuildAllCollectsErrors(t *testing.T) {
	channels, errs := BuildAll([]alert.ChannelConfig{
		{Kind: "email"},
		{Kind: "pager"},
		{Kind: "webhook", URL: "https://example.com/hook"},
	})
	if len(channels) != 2 {
		t.Fatalf("expected 2 built channels, got %d", len(channels))
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 build error, got %v", errs)
	}
}
