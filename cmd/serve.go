package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ytsclub/sophbot/internal/bus"
	"github.com/ytsclub/sophbot/internal/channels"
	"github.com/ytsclub/sophbot/internal/channels/discord"
	"github.com/ytsclub/sophbot/internal/config"
	"github.com/ytsclub/sophbot/internal/gateway"
	"github.com/ytsclub/sophbot/internal/inbound/imap"
	"github.com/ytsclub/sophbot/internal/notify"
	"github.com/ytsclub/sophbot/internal/relay"
	"github.com/ytsclub/sophbot/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Discord bot and the HTTP webhook server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

	cfgPath := resolveConfigPath()
	if loaded := config.LoadDotEnv(".env", filepath.Join(filepath.Dir(cfgPath), ".env.local")); len(loaded) > 0 {
		slog.Info("loaded env files", "files", loaded)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		slog.Error("sophbot exited", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout())
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	dispatcher := notify.NewDispatcher(notify.New(cfg.Mail), cfg.Mail.Timeout(), cfg.Mail.RatePerMinute)

	loop := bus.NewLoop(bus.DefaultQueueSize, bus.DefaultJobTimeout)
	manager := channels.NewManager()

	var forwarder relay.MailForwarder
	if cfg.IsBotEnabled() {
		dc, err := discord.New(cfg.Discord, loop, dispatcher)
		if err != nil {
			return err
		}
		manager.RegisterChannel(dc)
		forwarder = newForwarder(cfg.Discord, dc)
	} else {
		slog.Error("Discord token not found, bot will not start")
		// Nothing will ever make the loop ready: fail readiness waits fast.
		loop.Close()
	}

	forwarding := cfg.IsForwardingEnabled() && forwarder != nil
	if !forwarding {
		slog.Warn("email to Discord forwarding not configured")
	}
	intake := relay.NewIntake(loop, forwarder, forwarding, cfg.Gateway.ReadyTimeout(), cfg.Gateway.ReadyPoll())

	webhookIntake := intake
	if cfg.Inbound.Webhook.Disabled {
		slog.Info("email webhook forwarding disabled by config")
		webhookIntake = relay.NewIntake(nil, nil, false, 0, 0)
	}
	server := gateway.NewServer(cfg.Gateway, webhookIntake)

	if cfg.Inbound.IMAP.IsConfigured() {
		manager.RegisterChannel(imap.New(cfg.Inbound.IMAP, intake))
	}

	// The listener comes up first so health checks pass while Discord connects.
	if err := server.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		if err := manager.StartAll(gctx); err != nil && !errors.Is(err, channels.ErrNoChannels) {
			// A failed channel is logged by the manager; the HTTP surface keeps serving.
			slog.Warn("some channels failed to start", "error", err)
		}
		slog.Info("channels started", "status", manager.GetStatus())
		<-gctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout())
		defer cancel()
		return manager.StopAll(stopCtx)
	})

	slog.Info("sophbot started",
		"version", Version,
		"config", cfg.Hash(),
		"bot", cfg.IsBotEnabled(),
		"forwarding", intake.Enabled(),
		"webhook", webhookIntake.Enabled(),
		"notifications", dispatcher.Enabled(),
		"channels", manager.GetEnabledChannels(),
	)
	return g.Wait()
}

// newForwarder wires the email to Discord path onto the bot session.
func newForwarder(cfg config.DiscordConfig, dc *discord.Channel) *relay.Forwarder {
	session := dc.Session()

	var avatar relay.AvatarSource
	if cfg.AvatarUserID != "" {
		avatar = discord.NewMemberAvatar(session, cfg.AvatarUserID, nil)
	}
	selector := relay.NewSelector(session, cfg.WebhookName, avatar)
	resolver := relay.NewResolver(session, cfg.GuildID, cfg.FallbackChannelID)
	return relay.NewForwarder(session, resolver, selector)
}
