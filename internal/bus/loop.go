package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotReady means the loop has not reached StateReady (or never will).
	ErrNotReady = errors.New("chat loop not ready")
	// ErrClosed means the loop shut down before the job could be queued.
	ErrClosed = errors.New("chat loop closed")
	// ErrQueueFull means the job queue is at capacity.
	ErrQueueFull = errors.New("chat loop queue full")
)

const (
	DefaultQueueSize         = 256
	DefaultJobTimeout        = 2 * time.Minute
	DefaultReadyTimeout      = 15 * time.Second
	DefaultReadyPollInterval = 500 * time.Millisecond
)

// Loop is the chat client's single execution context. All chat gateway calls
// run on its goroutine, one job at a time, in queue order. Other goroutines
// (HTTP handlers, pollers, gateway event callbacks) only hand it jobs.
type Loop struct {
	state      atomic.Int32
	jobs       chan Job
	done       chan struct{} // closed by Close
	exited     chan struct{} // closed when the run goroutine returns
	mu         sync.RWMutex  // write-held by state transitions that must not race a send
	closeOnce  sync.Once
	jobTimeout time.Duration
}

// NewLoop creates a loop in StateNotStarted.
// queueSize <= 0 and jobTimeout <= 0 fall back to defaults.
func NewLoop(queueSize int, jobTimeout time.Duration) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	return &Loop{
		jobs:       make(chan Job, queueSize),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
		jobTimeout: jobTimeout,
	}
}

// State returns the current lifecycle state.
func (l *Loop) State() State { return State(l.state.Load()) }

// IsReady reports whether the loop accepts submissions.
func (l *Loop) IsReady() bool { return l.State() == StateReady }

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.exited }

// Start spawns the loop goroutine and moves NotStarted → Starting.
// Cancelling ctx closes the loop.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.state.CompareAndSwap(int32(StateNotStarted), int32(StateStarting)) {
		return fmt.Errorf("chat loop already %s", l.State())
	}
	go l.run(ctx)
	slog.Info("chat loop starting")
	return nil
}

// MarkReady moves Starting → Ready. Called once the gateway handshake completes.
// Returns false when the loop is in any other state.
func (l *Loop) MarkReady() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.state.CompareAndSwap(int32(StateStarting), int32(StateReady)) {
		return false
	}
	slog.Info("chat loop ready")
	return true
}

// Close moves the loop to the terminal Closed state. Queued jobs that have not
// started are completed with ErrClosed. Safe to call more than once.
func (l *Loop) Close() {
	l.mu.Lock()
	prev := State(l.state.Swap(int32(StateClosed)))
	l.closeOnce.Do(func() { close(l.done) })
	l.mu.Unlock()

	if prev == StateNotStarted {
		// No goroutine to close exited for us.
		l.closeExited()
	}
	if prev != StateClosed {
		slog.Info("chat loop closed", "previous_state", prev.String())
	}
}

func (l *Loop) closeExited() {
	select {
	case <-l.exited:
	default:
		close(l.exited)
	}
}

// Submit queues a job from outside the loop. Only accepted while Ready.
// Never blocks: a full queue returns ErrQueueFull.
func (l *Loop) Submit(job Job) (string, error) {
	return l.enqueue(job, StateReady)
}

// Post queues a job raised by the gateway itself (event callbacks).
// Accepted while Starting or Ready so events delivered during the handshake are kept.
func (l *Loop) Post(job Job) (string, error) {
	return l.enqueue(job, StateStarting)
}

func (l *Loop) enqueue(job Job, minState State) (string, error) {
	if job.Run == nil {
		return "", fmt.Errorf("job %q has no run func", job.Name)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	switch st := l.State(); {
	case st == StateClosed:
		return "", ErrClosed
	case st < minState:
		return "", ErrNotReady
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	select {
	case l.jobs <- job:
		return job.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// WaitReady polls the loop state every interval until it is Ready or timeout
// elapses. A Closed loop returns ErrNotReady immediately.
func (l *Loop) WaitReady(ctx context.Context, timeout, interval time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	if interval <= 0 {
		interval = DefaultReadyPollInterval
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		switch l.State() {
		case StateReady:
			return nil
		case StateClosed:
			return ErrNotReady
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
		case <-deadline.C:
			if l.IsReady() {
				return nil
			}
			return ErrNotReady
		case <-ticker.C:
		}
	}
}

func (l *Loop) run(ctx context.Context) {
	defer l.closeExited()

	for {
		select {
		case <-ctx.Done():
			l.Close()
			l.drain()
			return
		case <-l.done:
			l.drain()
			return
		case job := <-l.jobs:
			// select picks randomly among ready cases; close wins over queued work.
			select {
			case <-l.done:
				complete(job, ErrClosed)
				l.drain()
				return
			default:
			}
			l.execute(ctx, job)
		}
	}
}

func (l *Loop) drain() {
	for {
		select {
		case job := <-l.jobs:
			slog.Debug("chat loop dropping job on close", "job", job.Name, "job_id", job.ID)
			complete(job, ErrClosed)
		default:
			return
		}
	}
}

func (l *Loop) execute(ctx context.Context, job Job) {
	runCtx, cancel := context.WithTimeout(ctx, l.jobTimeout)
	defer cancel()

	start := time.Now()
	err := runJob(runCtx, job)
	slog.Debug("chat loop job finished",
		"job", job.Name,
		"job_id", job.ID,
		"duration", time.Since(start),
		"error", err,
	)
	complete(job, err)
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("chat loop job panicked",
				"job", job.Name,
				"job_id", job.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}

func complete(job Job, err error) {
	if job.OnDone == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("chat loop completion callback panicked", "job", job.Name, "job_id", job.ID, "panic", r)
		}
	}()
	job.OnDone(err)
}
