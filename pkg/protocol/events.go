package protocol

// ProtocolVersion is bumped when the webhook payload or response envelope changes shape.
const ProtocolVersion = 1

// HTTP routes served by the gateway.
const (
	RouteRoot         = "/"
	RouteHealth       = "/health"
	RouteTest         = "/test"
	RouteEmailWebhook = "/email-webhook"
)

// Response envelope status values.
const (
	StatusOK      = "ok"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Response messages.
const (
	MessageForwarded     = "Email forwarded to Discord"
	MessageNoData        = "No data received"
	MessageInvalidJSON   = "Invalid JSON payload"
	MessageTooLarge      = "Payload too large"
	MessageNotConfigured = "Email-to-Discord not configured"
	MessageNotReady      = "Bot not ready yet"
	MessageScheduleFail  = "Failed to schedule forward"
	MessageRateLimited   = "Too many requests"
	MessageNotAllowed    = "Method not allowed"
	MessageInternal      = "Internal server error"
	MessageRunning       = "Bot is running!"
	MessageHTTPWorking   = "HTTP server is working!"
	MessageRouteNotFound = "Route not found. Available routes: /, /health, /test, /email-webhook"
)

// WebhookResponse is the JSON envelope returned by POST /email-webhook.
type WebhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Bot    string `json:"bot"`
}

// TestResponse is returned by GET /test.
type TestResponse struct {
	Message string `json:"message"`
	App     string `json:"app"`
}

// NotFoundResponse is returned for unknown routes.
type NotFoundResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
