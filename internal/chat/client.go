// Package chat forwards free-text questions to an external assistant
// webhook and returns its answer.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// FallbackAnswer is returned whenever the assistant cannot be reached or
// replies with something unusable. Callers always get an answer; webhook
// trouble is never surfaced as an error to the user.
const FallbackAnswer = "Could not reach the assistant. Please try again later."

const requestTimeout = 15 * time.Second

type Client struct {
	httpClient *http.Client
	webhookURL string
}

func NewClient(webhookURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		webhookURL: webhookURL,
	}
}

// NewFromEnv builds a client from CHAT_WEBHOOK_URL.
func NewFromEnv() (*Client, error) {
	url := os.Getenv("CHAT_WEBHOOK_URL")
	if url == "" {
		return nil, fmt.Errorf("CHAT_WEBHOOK_URL is required")
	}
	return NewClient(url), nil
}

type request struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type response struct {
	Status string `json:"status"`
	Answer string `json:"answer"`
}

// Ask sends the message to the webhook and returns the assistant's answer.
// The session ID groups messages into a conversation on the assistant
// side. A single attempt is made; any failure yields FallbackAnswer.
func (c *Client) Ask(ctx context.Context, message, sessionID string) string {
	body, err := json.Marshal(request{Message: message, SessionID: sessionID})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal chat request", "error", err)
		return FallbackAnswer
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to build chat request", "error", err)
		return FallbackAnswer
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "Chat webhook unreachable", "error", err)
		return FallbackAnswer
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.WarnContext(ctx, "Chat webhook returned non-2xx status", "status", resp.StatusCode)
		return FallbackAnswer
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		slog.WarnContext(ctx, "Failed to read chat response", "error", err)
		return FallbackAnswer
	}

	return parseAnswer(ctx, data)
}

// parseAnswer accepts either a JSON object with status/answer fields or a
// bare JSON string, which some webhook configurations return.
func parseAnswer(ctx context.Context, data []byte) string {
	var r response
	if err := json.Unmarshal(data, &r); err == nil {
		if r.Answer != "" {
			return r.Answer
		}
		if r.Status != "" {
			return r.Status
		}
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil && s != "" {
		return s
	}

	slog.WarnContext(ctx, "Chat webhook returned an unusable payload", "bytes", len(data))
	return FallbackAnswer
}
