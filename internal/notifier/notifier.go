// Package notifier delivers alert pushes to external services.
package notifier

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

type Priority int

const (
	PriorityLow     Priority = 2
	PriorityDefault Priority = 3
	PriorityHigh    Priority = 4
	PriorityUrgent  Priority = 5
)

// Push is one outgoing alert.
type Push struct {
	Title    string
	Message  string
	Priority Priority
	// URL is opened when the recipient taps the alert. Optional.
	URL string
}

type Sender interface {
	Send(ctx context.Context, p Push) error
}

// Nop drops every push. Used when no sink is configured.
type Nop struct{}

func (Nop) Send(context.Context, Push) error { return nil }

// Multi sends to every sink and joins their errors.
type Multi []Sender

func (m Multi) Send(ctx context.Context, p Push) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Breaker stops calling a sink after repeated failures and lets a single
// trial request through once the cool-down expires.
type Breaker struct {
	next Sender
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(name string, next Sender, logger *slog.Logger) *Breaker {
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    10 * time.Minute,
			Timeout:     2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("push sink breaker", "sink", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (b *Breaker) Send(ctx context.Context, p Push) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, p)
	})
	return err
}

func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Options selects the sinks built by New.
type Options struct {
	NtfyURL          string
	NtfyTopic        string
	NtfyToken        string
	TelegramBotToken string
	TelegramChatID   string
}

// New returns the configured sinks, each behind its own breaker, or Nop
// when nothing is configured.
func New(opts Options, logger *slog.Logger) Sender {
	var sinks Multi
	if n := NewNtfy(opts.NtfyURL, opts.NtfyTopic, opts.NtfyToken); n.Enabled() {
		sinks = append(sinks, NewBreaker("ntfy", n, logger))
	}
	if t := NewTelegram(opts.TelegramBotToken, opts.TelegramChatID); t.Enabled() {
		sinks = append(sinks, NewBreaker("telegram", t, logger))
	}
	switch len(sinks) {
	case 0:
		logger.Info("no push sink configured")
		return Nop{}
	case 1:
		return sinks[0]
	}
	return sinks
}
