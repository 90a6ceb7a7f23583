package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"RedditRelay/internal/config"
	"RedditRelay/internal/ports"
)

// Notifier posts announcements to a Telegram channel via bot API.
type Notifier struct {
	botToken  string
	channelID string
	baseURL   string
	client    *http.Client
	logger    *slog.Logger
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and channel identifier; a nil client gets a default one.
func NewNotifier(cfg config.TelegramConfig, client *http.Client, log *slog.Logger) *Notifier {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Notifier{
		botToken:  cfg.BotToken,
		channelID: cfg.ChannelID,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		client:    client,
		logger:    log,
	}
}

// Notify sends a plain-text message to the channel.
func (n *Notifier) Notify(ctx context.Context, message string) error {
	if n.botToken == "" || n.channelID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.channelID)
	form.Set("text", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		// the token is part of the URL, keep it out of logs
		return fmt.Errorf("do request: %w", redact(err, n.botToken))
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("telegram error %s: decode response: %w", resp.Status, err)
	}
	if n.logger != nil {
		n.logger.Debug("telegram response", "status", resp.Status, "ok", out.OK, "description", out.Description)
	}

	if resp.StatusCode != http.StatusOK || !out.OK {
		return fmt.Errorf("telegram error %s: %s", resp.Status, out.Description)
	}

	return nil
}

func redact(err error, secret string) error {
	if secret == "" {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), secret, "<redacted>"))
}
