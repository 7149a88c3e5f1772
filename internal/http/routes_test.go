package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ytsclub/sophbot/pkg/protocol"
)

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestStatusRoutes(t *testing.T) {
	h := newTestMux(&stubIntake{}, nil, 0)

	tests := []struct {
		method, path string
		status       int
		body         string
	}{
		{http.MethodGet, "/", http.StatusOK, "Bot is running!"},
		{http.MethodHead, "/", http.StatusOK, ""},
		{http.MethodGet, "/health", http.StatusOK, `{"status":"ok","bot":"online"}` + "\n"},
		{http.MethodGet, "/test", http.StatusOK, `{"message":"HTTP server is working!","app":"main"}` + "\n"},
		{http.MethodGet, "/nope", http.StatusNotFound, `{"error":"Not Found","message":"` + protocol.MessageRouteNotFound + `"}` + "\n"},
		{http.MethodGet, "/email-webhook", http.StatusMethodNotAllowed, `{"status":"error","message":"Method not allowed"}` + "\n"},
		{http.MethodPost, "/health", http.StatusMethodNotAllowed, `{"status":"error","message":"Method not allowed"}` + "\n"},
		{http.MethodDelete, "/", http.StatusMethodNotAllowed, `{"status":"error","message":"Method not allowed"}` + "\n"},
		{http.MethodPost, "/nope", http.StatusNotFound, `{"error":"Not Found","message":"` + protocol.MessageRouteNotFound + `"}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := serve(h, tt.method, tt.path)
			require.Equal(t, tt.status, rec.Code)
			require.Equal(t, tt.body, rec.Body.String())
		})
	}

	require.Equal(t, http.StatusOK, serve(h, http.MethodHead, "/health").Code)
	require.Equal(t, "POST", serve(h, http.MethodGet, "/email-webhook").Header().Get("Allow"))
	require.Equal(t, "GET, HEAD", serve(h, http.MethodPut, "/test").Header().Get("Allow"))
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map")
	}))
	rec := serve(h, http.MethodGet, "/")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"status":"error","message":"Internal server error"}`, rec.Body.String())
}

func TestClientIP(t *testing.T) {
	require.Equal(t, "192.0.2.1", clientIP("192.0.2.1:1234"))
	require.Equal(t, "::1", clientIP("[::1]:80"))
	require.Equal(t, "10.0.0.7", clientIP("10.0.0.7"))
}
