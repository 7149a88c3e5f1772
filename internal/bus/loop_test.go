package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startedLoop(t *testing.T, queueSize int) *Loop {
	t.Helper()
	l := NewLoop(queueSize, time.Second)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(l.Close)
	return l
}

func TestLoop_StateMachine(t *testing.T) {
	req := require.New(t)

	l := NewLoop(0, 0)
	req.Equal(StateNotStarted, l.State())
	req.False(l.MarkReady(), "cannot become ready before starting")

	req.NoError(l.Start(context.Background()))
	req.Equal(StateStarting, l.State())
	req.Error(l.Start(context.Background()), "second start must fail")

	req.True(l.MarkReady())
	req.Equal(StateReady, l.State())
	req.False(l.MarkReady())

	l.Close()
	req.Equal(StateClosed, l.State())
	req.False(l.MarkReady(), "closed is terminal")

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop goroutine did not exit")
	}
}

func TestLoop_CloseBeforeStart(t *testing.T) {
	l := NewLoop(0, 0)
	l.Close()
	require.Equal(t, StateClosed, l.State())
	require.Error(t, l.Start(context.Background()))
	<-l.Done()
}

func TestLoop_SubmitRequiresReady(t *testing.T) {
	req := require.New(t)
	noop := Job{Name: "noop", Run: func(context.Context) error { return nil }}

	l := NewLoop(0, 0)
	_, err := l.Submit(noop)
	req.ErrorIs(err, ErrNotReady)

	req.NoError(l.Start(context.Background()))
	defer l.Close()

	_, err = l.Submit(noop)
	req.ErrorIs(err, ErrNotReady, "starting loop rejects external submissions")

	id, err := l.Post(noop)
	req.NoError(err, "gateway events are accepted while starting")
	req.NotEmpty(id)

	l.MarkReady()
	id, err = l.Submit(noop)
	req.NoError(err)
	req.NotEmpty(id)
}

func TestLoop_SubmitAfterClose(t *testing.T) {
	l := startedLoop(t, 0)
	l.MarkReady()
	l.Close()

	_, err := l.Submit(Job{Name: "late", Run: func(context.Context) error { return nil }})
	require.ErrorIs(t, err, ErrClosed)
	_, err = l.Post(Job{Name: "late", Run: func(context.Context) error { return nil }})
	require.ErrorIs(t, err, ErrClosed)
}

func TestLoop_RejectsJobWithoutRun(t *testing.T) {
	l := startedLoop(t, 0)
	l.MarkReady()
	_, err := l.Submit(Job{Name: "empty"})
	require.Error(t, err)
}

func TestLoop_RunsJobsSeriallyInOrder(t *testing.T) {
	req := require.New(t)
	l := startedLoop(t, 64)
	l.MarkReady()

	const n = 50
	var (
		mu      sync.Mutex
		order   []int
		running int
		overlap bool
		wg      sync.WaitGroup
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		_, err := l.Submit(Job{
			Name: "seq",
			Run: func(context.Context) error {
				mu.Lock()
				running++
				if running > 1 {
					overlap = true
				}
				order = append(order, i)
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				running--
				mu.Unlock()
				return nil
			},
			OnDone: func(error) { wg.Done() },
		})
		req.NoError(err)
	}
	wg.Wait()

	req.False(overlap, "jobs must never run concurrently")
	for i := range order {
		req.Equal(i, order[i])
	}
}

func TestLoop_OnDoneReceivesResult(t *testing.T) {
	l := startedLoop(t, 0)
	l.MarkReady()

	boom := errors.New("boom")
	got := make(chan error, 1)
	_, err := l.Submit(Job{
		Name:   "fail",
		Run:    func(context.Context) error { return boom },
		OnDone: func(err error) { got <- err },
	})
	require.NoError(t, err)
	require.ErrorIs(t, <-got, boom)
}

func TestLoop_RecoversPanics(t *testing.T) {
	req := require.New(t)
	l := startedLoop(t, 0)
	l.MarkReady()

	got := make(chan error, 1)
	_, err := l.Submit(Job{
		Name:   "panicky",
		Run:    func(context.Context) error { panic("kaboom") },
		OnDone: func(err error) { got <- err },
	})
	req.NoError(err)
	perr := <-got
	req.Error(perr)
	req.Contains(perr.Error(), "kaboom")

	// The loop survives and keeps executing.
	_, err = l.Submit(Job{
		Name:   "after",
		Run:    func(context.Context) error { return nil },
		OnDone: func(err error) { got <- err },
	})
	req.NoError(err)
	req.NoError(<-got)
}

func TestLoop_QueueFull(t *testing.T) {
	req := require.New(t)
	l := startedLoop(t, 1)
	l.MarkReady()

	release := make(chan struct{})
	started := make(chan struct{})
	_, err := l.Submit(Job{Name: "block", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})
	req.NoError(err)
	<-started

	_, err = l.Submit(Job{Name: "fills", Run: func(context.Context) error { return nil }})
	req.NoError(err)
	_, err = l.Submit(Job{Name: "overflow", Run: func(context.Context) error { return nil }})
	req.ErrorIs(err, ErrQueueFull)

	close(release)
}

func TestLoop_CloseDrainsQueuedJobs(t *testing.T) {
	req := require.New(t)
	l := startedLoop(t, 4)
	l.MarkReady()

	release := make(chan struct{})
	started := make(chan struct{})
	_, err := l.Submit(Job{Name: "block", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})
	req.NoError(err)
	<-started

	got := make(chan error, 1)
	_, err = l.Submit(Job{
		Name:   "queued",
		Run:    func(context.Context) error { return nil },
		OnDone: func(err error) { got <- err },
	})
	req.NoError(err)

	l.Close()
	close(release)

	select {
	case err := <-got:
		req.ErrorIs(err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("queued job was not completed on close")
	}
}

func TestLoop_ContextCancelCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewLoop(0, 0)
	require.NoError(t, l.Start(ctx))
	cancel()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit on context cancel")
	}
	require.Equal(t, StateClosed, l.State())
}

func TestLoop_WaitReady(t *testing.T) {
	t.Run("already ready", func(t *testing.T) {
		l := startedLoop(t, 0)
		l.MarkReady()
		require.NoError(t, l.WaitReady(context.Background(), time.Second, 10*time.Millisecond))
	})

	t.Run("becomes ready while waiting", func(t *testing.T) {
		l := startedLoop(t, 0)
		go func() {
			time.Sleep(30 * time.Millisecond)
			l.MarkReady()
		}()
		require.NoError(t, l.WaitReady(context.Background(), time.Second, 5*time.Millisecond))
	})

	t.Run("times out after the full budget", func(t *testing.T) {
		l := NewLoop(0, 0)
		start := time.Now()
		err := l.WaitReady(context.Background(), 150*time.Millisecond, 10*time.Millisecond)
		elapsed := time.Since(start)

		require.ErrorIs(t, err, ErrNotReady)
		require.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
		require.Less(t, elapsed, time.Second)
	})

	t.Run("closed returns immediately", func(t *testing.T) {
		l := NewLoop(0, 0)
		l.Close()
		start := time.Now()
		require.ErrorIs(t, l.WaitReady(context.Background(), 5*time.Second, 10*time.Millisecond), ErrNotReady)
		require.Less(t, time.Since(start), time.Second)
	})

	t.Run("context cancel", func(t *testing.T) {
		l := NewLoop(0, 0)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, l.WaitReady(ctx, 5*time.Second, 5*time.Millisecond), ErrNotReady)
	})
}
