package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ytsclub/sophbot/internal/bus"
)

// ErrForwardingDisabled means email to Discord forwarding is not configured.
var ErrForwardingDisabled = errors.New("email forwarding not configured")

// Scheduler hands jobs to the chat loop. *bus.Loop satisfies it.
type Scheduler interface {
	WaitReady(ctx context.Context, timeout, interval time.Duration) error
	Submit(job bus.Job) (string, error)
}

// MailForwarder runs on the chat loop. *Forwarder satisfies it.
type MailForwarder interface {
	Forward(ctx context.Context, mail bus.InboundMail) error
}

// Intake is the entry point for inbound email from outside the chat loop.
// It never calls the gateway itself.
type Intake struct {
	sched        Scheduler
	fwd          MailForwarder
	enabled      bool
	readyTimeout time.Duration
	readyPoll    time.Duration
}

// NewIntake creates an intake. When enabled is false every Accept fails
// with ErrForwardingDisabled.
func NewIntake(sched Scheduler, fwd MailForwarder, enabled bool, readyTimeout, readyPoll time.Duration) *Intake {
	return &Intake{
		sched:        sched,
		fwd:          fwd,
		enabled:      enabled && sched != nil && fwd != nil,
		readyTimeout: readyTimeout,
		readyPoll:    readyPoll,
	}
}

// Enabled reports whether Accept can schedule forwards.
func (i *Intake) Enabled() bool { return i.enabled }

// Accept waits (bounded) for the chat loop, then schedules the forward and
// returns its job ID. It does not wait for the forward to run.
// Errors: ErrForwardingDisabled, bus.ErrNotReady, bus.ErrClosed, bus.ErrQueueFull.
func (i *Intake) Accept(ctx context.Context, mail bus.InboundMail) (string, error) {
	if !i.enabled {
		return "", ErrForwardingDisabled
	}
	if err := i.sched.WaitReady(ctx, i.readyTimeout, i.readyPoll); err != nil {
		return "", err
	}

	jobID := uuid.NewString()
	id, err := i.sched.Submit(bus.Job{
		ID:   jobID,
		Name: "forward-email",
		Run: func(ctx context.Context) error {
			return i.fwd.Forward(ctx, mail)
		},
		OnDone: func(err error) {
			logForwardResult(jobID, mail, err)
		},
	})
	if err != nil {
		return "", fmt.Errorf("schedule forward: %w", err)
	}
	return id, nil
}

func logForwardResult(jobID string, mail bus.InboundMail, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, ErrNoDestination):
		slog.Warn("relay: could not find channel for email", "job_id", jobID, "subject", mail.Subject, "source", mail.Source)
	case errors.Is(err, bus.ErrClosed):
		slog.Warn("relay: forward dropped, chat loop closed", "job_id", jobID, "subject", mail.Subject)
	case IsPartialDelivery(err):
		slog.Warn("relay: email partially delivered", "job_id", jobID, "subject", mail.Subject, "error", err)
	default:
		slog.Error("relay: forward failed", "job_id", jobID, "subject", mail.Subject, "error", err)
	}
}
