package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ytsclub/sophbot/internal/config"
	"github.com/ytsclub/sophbot/internal/notify"
	"github.com/ytsclub/sophbot/internal/notify/mocks"
)

func TestDispatcher_Notify(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		n := mocks.NewMockNotifier(ctrl)
		n.EXPECT().Deliver(gomock.Any(), "[Discord] #general - alice", "body").Return(nil).Times(1)

		d := notify.NewDispatcher(n, time.Second, 0)
		require.True(t, d.Enabled())
		require.True(t, d.Notify(context.Background(), "[Discord] #general - alice", "body"))
	})

	t.Run("failure is reported once, not retried", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		n := mocks.NewMockNotifier(ctrl)
		n.EXPECT().Deliver(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("upstream 500")).Times(1)

		d := notify.NewDispatcher(n, time.Second, 0)
		require.False(t, d.Notify(context.Background(), "s", "b"))
	})

	t.Run("empty subject gets default", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		n := mocks.NewMockNotifier(ctrl)
		n.EXPECT().Deliver(gomock.Any(), notify.DefaultSubject, "b").Return(nil)

		require.True(t, notify.NewDispatcher(n, time.Second, 0).Notify(context.Background(), "", "b"))
	})

	t.Run("deadline is applied", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		n := mocks.NewMockNotifier(ctrl)
		n.EXPECT().Deliver(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, _, _ string) error {
				deadline, ok := ctx.Deadline()
				require.True(t, ok)
				require.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 40*time.Millisecond)
				<-ctx.Done()
				return ctx.Err()
			})

		start := time.Now()
		require.False(t, notify.NewDispatcher(n, 50*time.Millisecond, 0).Notify(context.Background(), "s", "b"))
		require.Less(t, time.Since(start), time.Second)
	})

	t.Run("rate limit drops excess within the timeout", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		n := mocks.NewMockNotifier(ctrl)
		n.EXPECT().Deliver(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)

		// One per minute with a burst of one: the second call cannot get a token in time.
		d := notify.NewDispatcher(n, 50*time.Millisecond, 1)
		require.True(t, d.Notify(context.Background(), "s", "b"))
		require.False(t, d.Notify(context.Background(), "s", "b"))
	})
}

func TestDispatcher_Disabled(t *testing.T) {
	d := notify.NewDispatcher(notify.Disabled{}, time.Second, 0)
	require.False(t, d.Enabled())
	require.False(t, d.Notify(context.Background(), "s", "b"))
	require.ErrorIs(t, notify.Disabled{}.Deliver(context.Background(), "s", "b"), notify.ErrDisabled)
}

func TestNew_SelectsProvider(t *testing.T) {
	cfg := config.Default().Mail
	_, ok := notify.New(cfg).(notify.Disabled)
	require.True(t, ok, "missing credentials disable notifications")

	cfg.Maileroo.APIKey = "k"
	cfg.Maileroo.FromEmail = "bot@example.com"
	cfg.Maileroo.ToEmail = "club@example.com"
	_, ok = notify.New(cfg).(*notify.Maileroo)
	require.True(t, ok)

	cfg.Provider = "smtp"
	cfg.SMTP.Host = "smtp.example.com"
	cfg.SMTP.From = "bot@example.com"
	cfg.SMTP.To = config.FlexibleStringSlice{"5551234567@mms.att.net"}
	_, ok = notify.New(cfg).(*notify.SMTP)
	require.True(t, ok)
}
