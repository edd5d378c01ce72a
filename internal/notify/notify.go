// Package notify delivers alert verdicts to external channels. Channels
// fail independently; one broken target never blocks its siblings.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/alert"
)

// Message is the payload handed to every channel for one execution.
type Message struct {
	RunID       string        `json:"runId"`
	AlertName   string        `json:"alertName"`
	Description string        `json:"description,omitempty"`
	Verdict     alert.Verdict `json:"verdict"`
	ActualValue any           `json:"actualValue,omitempty"`
	Threshold   any           `json:"threshold,omitempty"`
	Context     alert.Context `json:"context,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Channel is one notification backend.
type Channel interface {
	Kind() string

	// Validate checks the channel configuration without touching the
	// network. Dry-run invokes only this.
	Validate() error

	Send(ctx context.Context, msg Message) error

	// NotifyOnRecovery reports whether the channel opted into OK
	// notifications after an alert clears.
	NotifyOnRecovery() bool
}

// permanentError marks a failure that retrying cannot fix: bad
// configuration, rejected credentials, 4xx responses.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the dispatcher fails immediately instead of
// retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Delivery statuses.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Outcome is the final delivery state for one channel.
type Outcome struct {
	Channel  string
	Status   string
	Attempts int
	Err      error
}

type Dispatcher struct {
	logger          *slog.Logger
	maxRetries      uint64
	initialInterval time.Duration
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger:          logger,
		maxRetries:      3,
		initialInterval: time.Second,
	}
}

// Dispatch fans msg out to every channel. Outcomes are returned in channel
// order; failures are collected, never raised past the batch. With dryRun
// set, channels are validated but Send is never invoked and every outcome
// reports StatusSkipped.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message, channels []Channel, dryRun bool) []Outcome {
	outcomes := make([]Outcome, 0, len(channels))
	for _, ch := range channels {
		outcomes = append(outcomes, d.dispatchOne(ctx, msg, ch, dryRun))
	}
	return outcomes
}

func (d *Dispatcher) dispatchOne(ctx context.Context, msg Message, ch Channel, dryRun bool) Outcome {
	if err := ch.Validate(); err != nil {
		if dryRun {
			return Outcome{Channel: ch.Kind(), Status: StatusSkipped, Err: err}
		}
		return Outcome{Channel: ch.Kind(), Status: StatusFailed, Attempts: 0, Err: err}
	}
	if dryRun {
		return Outcome{Channel: ch.Kind(), Status: StatusSkipped}
	}

	attempts := 0
	op := func() error {
		attempts++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := ch.Send(ctx, msg)
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		d.logger.Warn("notification attempt failed",
			slog.String("channel", ch.Kind()),
			slog.String("alert", msg.AlertName),
			slog.Int("attempt", attempts),
			slog.String("error", err.Error()))
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.initialInterval
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, d.maxRetries), ctx))
	if err != nil {
		return Outcome{Channel: ch.Kind(), Status: StatusFailed, Attempts: attempts, Err: fmt.Errorf("send via %s: %w", ch.Kind(), err)}
	}
	d.logger.Info("notification sent",
		slog.String("channel", ch.Kind()),
		slog.String("alert", msg.AlertName),
		slog.String("verdict", string(msg.Verdict)))
	return Outcome{Channel: ch.Kind(), Status: StatusSent, Attempts: attempts}
}

// Build constructs the channel implementation for a config entry.
func Build(cfg alert.ChannelConfig) (Channel, error) {
	switch cfg.Kind {
	case "email":
		return NewEmailChannel(cfg), nil
	case "slack":
		return NewSlackChannel(cfg), nil
	case "webhook":
		return NewWebhookChannel(cfg), nil
	case "nats":
		return NewNATSChannel(cfg), nil
	default:
		return nil, fmt.Errorf("unknown notification channel %q", cfg.Kind)
	}
}

// BuildAll constructs every channel for an alert, collecting build errors
// per channel rather than failing the set.
func BuildAll(cfgs []alert.ChannelConfig) ([]Channel, []error) {
	channels := make([]Channel, 0, len(cfgs))
	var errs []error
	for _, cfg := range cfgs {
		ch, err := Build(cfg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		channels = append(channels, ch)
	}
	return channels, errs
}
