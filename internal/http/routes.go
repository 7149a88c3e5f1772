// Package http serves the bot's HTTP surface: liveness routes and the
// inbound email webhook.
package http

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/ytsclub/sophbot/pkg/protocol"
)

// StatusHandler serves the liveness routes and the JSON 404.
type StatusHandler struct{}

// RegisterRoutes registers the liveness routes on the given mux.
// GET patterns also match HEAD; other methods on a known path get 405.
func (h StatusHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+protocol.RouteRoot+"{$}", h.handleRoot)
	mux.HandleFunc("GET "+protocol.RouteHealth, h.handleHealth)
	mux.HandleFunc("GET "+protocol.RouteTest, h.handleTest)
	for _, route := range []string{protocol.RouteRoot + "{$}", protocol.RouteHealth, protocol.RouteTest} {
		mux.HandleFunc(route, methodNotAllowed("GET, HEAD"))
	}
	mux.HandleFunc("/", h.handleNotFound)
}

func (StatusHandler) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write([]byte(protocol.MessageRunning))
	}
}

func (StatusHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.HealthResponse{Status: protocol.StatusOK, Bot: "online"})
}

func (StatusHandler) handleTest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.TestResponse{Message: protocol.MessageHTTPWorking, App: "main"})
}

func (StatusHandler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	slog.Debug("http: route not found", "method", r.Method, "path", r.URL.Path)
	writeJSON(w, http.StatusNotFound, protocol.NotFoundResponse{
		Error:   "Not Found",
		Message: protocol.MessageRouteNotFound,
	})
}

// methodNotAllowed answers a known path hit with the wrong method. The
// catch-all would otherwise report it as an unknown route.
func methodNotAllowed(allow string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allow)
		writeJSON(w, http.StatusMethodNotAllowed, protocol.WebhookResponse{
			Status:  protocol.StatusError,
			Message: protocol.MessageNotAllowed,
		})
	}
}

// Recoverer turns handler panics into a logged 500.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("http: handler panic",
				"method", r.Method,
				"path", r.URL.Path,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			writeJSON(w, http.StatusInternalServerError, protocol.WebhookResponse{
				Status:  protocol.StatusError,
				Message: protocol.MessageInternal,
			})
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// clientIP returns the host part of a request's remote address.
func clientIP(remoteAddr string) string {
	host := strings.TrimSpace(remoteAddr)
	if strings.Contains(host, ":") {
		if h, _, err := net.SplitHostPort(remoteAddr); err == nil && strings.TrimSpace(h) != "" {
			return strings.TrimSpace(h)
		}
	}
	return host
}
