package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/raphaelgruber/oraclebot/internal/metrics"
)

// Client is an HTTP client for the Telegram bot API send surface.
type Client struct {
	apiURL     string
	token      string
	httpClient *http.Client
	collector  *metrics.Collector
	logger     *slog.Logger
}

// NewClient creates a bot API client. apiURL is the API base
// (https://api.telegram.org in production, an httptest server in tests).
func NewClient(apiURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiURL: apiURL,
		token:  token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// SetCollector attaches a metrics collector recording send timings.
func (c *Client) SetCollector(collector *metrics.Collector) {
	c.collector = collector
}

// sendMessageRequest is the payload for the sendMessage method.
type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// setWebhookRequest is the payload for the setWebhook method.
type setWebhookRequest struct {
	URL string `json:"url"`
}

// apiResponse is the envelope every bot API method returns.
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendMessage delivers a plain-text reply to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.send(ctx, sendMessageRequest{ChatID: chatID, Text: text})
}

// SendMarkdown delivers a Markdown-formatted reply to a chat.
func (c *Client) SendMarkdown(ctx context.Context, chatID int64, text string) error {
	return c.send(ctx, sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "Markdown"})
}

func (c *Client) send(ctx context.Context, req sendMessageRequest) error {
	start := time.Now()
	err := c.call(ctx, "sendMessage", req)
	if c.collector != nil {
		if err != nil {
			c.collector.RecordFailure(metrics.OpSendMessage)
		} else {
			c.collector.RecordTiming(metrics.OpSendMessage, time.Since(start))
		}
	}
	return err
}

// SetWebhook registers the ingress callback URL with the bot API.
func (c *Client) SetWebhook(ctx context.Context, url string) error {
	c.logger.Info("registering webhook", "url", url)
	return c.call(ctx, "setWebhook", setWebhookRequest{URL: url})
}

// call posts one bot API method and checks the response envelope.
func (c *Client) call(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.apiURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("unmarshal %s response (%s): %w", method, resp.Status, err)
	}
	if !envelope.OK {
		return fmt.Errorf("%s rejected: %s", method, envelope.Description)
	}
	return nil
}
