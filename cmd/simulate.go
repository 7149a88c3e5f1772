package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ytsclub/sophbot/pkg/protocol"
)

func simulateEmailCmd() *cobra.Command {
	var (
		url     string
		channel string
		from    string
		body    string
	)
	cmd := &cobra.Command{
		Use:   "simulate-email",
		Short: "Post a sample inbound email to a running server",
		Run: func(cmd *cobra.Command, args []string) {
			status, resp, err := simulateEmail(cmd.Context(), url, protocol.SampleInboundEmail(channel, from, body, time.Now()))
			if err != nil {
				fmt.Fprintf(os.Stderr, "simulate-email: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%d %s\n", status, resp)
			if status != http.StatusOK {
				os.Exit(1)
			}
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:8080"+protocol.RouteEmailWebhook, "webhook URL")
	cmd.Flags().StringVar(&channel, "channel", "general", "channel named in the reply subject")
	cmd.Flags().StringVar(&from, "from", "test@example.com", "sender address")
	cmd.Flags().StringVar(&body, "body", "This is a test email sent from the simulator.", "email body")
	return cmd
}

// simulateEmail posts payload and returns the response status and body.
func simulateEmail(ctx context.Context, url string, payload protocol.InboundEmail) (int, string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	data, err := json.Marshal(payload)
	if err != nil {
		return 0, "", fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, string(bytes.TrimSpace(respBody)), nil
}
