package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ytsclub/sophbot/internal/channels"
	"github.com/ytsclub/sophbot/internal/config"
	httpapi "github.com/ytsclub/sophbot/internal/http"
)

// Server is the bot's HTTP listener: liveness routes plus the email webhook.
type Server struct {
	cfg     config.GatewayConfig
	intake  httpapi.MailIntake
	limiter *channels.WebhookRateLimiter

	httpServer *http.Server
	mux        *http.ServeMux
	ln         net.Listener
}

// NewServer creates a gateway server. Webhook hits are rate limited per
// client IP when cfg.WebhookRateLimit > 0.
func NewServer(cfg config.GatewayConfig, intake httpapi.MailIntake) *Server {
	return &Server{
		cfg:     cfg,
		intake:  intake,
		limiter: channels.NewWebhookRateLimiter(cfg.WebhookRateLimit),
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()

	httpapi.StatusHandler{}.RegisterRoutes(mux)
	httpapi.NewEmailWebhookHandler(s.intake, s.limiter, s.cfg.MaxBodyBytes).RegisterRoutes(mux)

	s.mux = mux
	return mux
}

// Handler returns the mux wrapped with panic recovery.
func (s *Server) Handler() http.Handler {
	return httpapi.Recoverer(s.BuildMux())
}

// Listen binds the configured address. Start calls it when needed.
func (s *Server) Listen() error {
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.ln = ln
	return nil
}

// ListenAddr returns the bound address, or "" before Listen.
func (s *Server) ListenAddr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway starting", "addr", s.ListenAddr())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout())
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("gateway shutdown", "error", err)
		}
	}()

	if err := s.httpServer.Serve(s.ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server: %w", err)
	}
	slog.Info("gateway stopped")
	return nil
}
