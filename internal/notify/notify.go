// Package notify delivers user-facing side effects: outbound email through
// a Notifier and persisted in-app notifications through a Recorder. Every
// failure here is logged and swallowed; callers never roll back a state
// transition because a notice could not be delivered.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrBacklogFull is returned by Async when too many sends are in flight.
var ErrBacklogFull = errors.New("notifier backlog full")

// Message is a rendered email.
type Message struct {
	To       string `json:"to"`
	From     string `json:"from,omitempty"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Template string `json:"template"`
}

// Notifier sends a message to an email address.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Log is a Notifier that only logs. It is the default when no broker is configured.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Send(ctx context.Context, msg Message) error {
	l.Logger.InfoContext(ctx, "email",
		slog.String("to", msg.To),
		slog.String("template", msg.Template),
		slog.String("subject", msg.Subject),
	)
	return nil
}

// FailureCounter receives a tick for every swallowed failure.
type FailureCounter interface {
	IncSideEffectFailure(kind string)
}

// Async runs Send on a background goroutine so callers never wait on the
// mail transport. At most max sends are in flight; beyond that messages
// are dropped.
type Async struct {
	next     Notifier
	logger   *slog.Logger
	failures FailureCounter
	slots    chan struct{}
	wg       sync.WaitGroup
}

// NewAsync wraps next. failures may be nil.
func NewAsync(next Notifier, max int, logger *slog.Logger, failures FailureCounter) *Async {
	if max <= 0 {
		max = 1
	}
	return &Async{
		next:     next,
		logger:   logger,
		failures: failures,
		slots:    make(chan struct{}, max),
	}
}

// Send schedules msg and returns immediately.
func (a *Async) Send(ctx context.Context, msg Message) error {
	select {
	case a.slots <- struct{}{}:
	default:
		a.fail(ctx, msg, ErrBacklogFull)
		return ErrBacklogFull
	}

	ctx = context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() { <-a.slots }()
		if err := a.next.Send(ctx, msg); err != nil {
			a.fail(ctx, msg, err)
		}
	}()
	return nil
}

// Wait blocks until every scheduled send has finished.
func (a *Async) Wait() {
	a.wg.Wait()
}

func (a *Async) fail(ctx context.Context, msg Message, err error) {
	a.logger.WarnContext(ctx, "email not sent",
		slog.String("to", msg.To),
		slog.String("template", msg.Template),
		slog.Any("error", err),
	)
	if a.failures != nil {
		a.failures.IncSideEffectFailure("email")
	}
}
