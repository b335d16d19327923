// Package notify delivers WhatsApp group messages through the Watzap
// HTTP API and builds the localized message bodies for alerts,
// recoveries, incident escalations, and shift reports.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client sends group messages through the Watzap API. Messages are
// attempted once; a failed delivery is logged and dropped, never queued.
type Client struct {
	BaseURL   string
	APIKey    string
	NumberKey string
	GroupID   string

	HTTPClient *http.Client
	Log        *zap.Logger
}

// NewClient returns a client with the standard 30 second timeout.
func NewClient(baseURL, apiKey, numberKey, groupID string, log *zap.Logger) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		NumberKey:  numberKey,
		GroupID:    groupID,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Log:        log,
	}
}

// Configured reports whether credentials are present. An unconfigured
// client turns every send into a logged no-op.
func (c *Client) Configured() bool {
	return c.APIKey != "" && c.NumberKey != "" && c.GroupID != ""
}

type sendRequest struct {
	APIKey    string `json:"api_key"`
	NumberKey string `json:"number_key"`
	GroupID   string `json:"group_id"`
	Message   string `json:"message"`
}

type sendResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Ack     string `json:"ack"`
}

// SendGroupMessage posts one message to the configured group. The API
// reports some failures inside a 200 response; status codes 1001 and
// 1003 and a fatal_error ack all count as delivery failure.
func (c *Client) SendGroupMessage(ctx context.Context, message string) error {
	if !c.Configured() {
		c.Log.Debug("notification skipped, watzap not configured")
		return nil
	}

	body, err := json.Marshal(sendRequest{
		APIKey:    c.APIKey,
		NumberKey: c.NumberKey,
		GroupID:   c.GroupID,
		Message:   message,
	})
	if err != nil {
		return fmt.Errorf("encode watzap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/send_message_group", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build watzap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("send watzap message: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("watzap returned HTTP %d: %s", resp.StatusCode, raw)
	}

	var sr sendResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return fmt.Errorf("decode watzap response: %w", err)
	}
	if sr.Status == "1001" || sr.Status == "1003" || sr.Ack == "fatal_error" {
		return fmt.Errorf("watzap rejected message: status=%s ack=%s message=%s",
			sr.Status, sr.Ack, sr.Message)
	}

	c.Log.Debug("watzap message delivered", zap.String("status", sr.Status))
	return nil
}

// Broadcast sends one message to every group, aggregating failures.
// Groups after a failed one are still attempted.
func (c *Client) Broadcast(ctx context.Context, groups []string, message string) error {
	var errs []error
	for _, group := range groups {
		gc := *c
		gc.GroupID = group
		if err := gc.SendGroupMessage(ctx, message); err != nil {
			errs = append(errs, fmt.Errorf("group %s: %w", group, err))
		}
	}
	return errors.Join(errs...)
}
