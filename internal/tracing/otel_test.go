package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ytsclub/sophbot/internal/config"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{Protocol: "http"}, "dev")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetup_UnknownProtocol(t *testing.T) {
	_, err := Setup(context.Background(), config.TelemetryConfig{Enabled: true, Protocol: "carrier-pigeon"}, "dev")
	require.ErrorContains(t, err, "carrier-pigeon")
}

func TestSetup_HTTPExporter(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{
		Enabled:  true,
		Protocol: "http",
		Endpoint: "127.0.0.1:4318",
		Insecure: true,
	}, "dev")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()), "shutdown with no spans exports nothing")
}
