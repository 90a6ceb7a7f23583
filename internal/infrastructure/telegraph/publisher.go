package telegraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"RedditRelay/internal/config"
	"RedditRelay/internal/domain"
	"RedditRelay/internal/ports"
)

// Limits applied before submission.
const (
	MaxBodyRunes    = 65000
	MaxExcerptRunes = 500
	MaxTitleRunes   = 256
)

// ErrMissingToken is returned without any request when no access token is configured.
var ErrMissingToken = errors.New("telegraph access token is not set")

// Node is a Telegraph DOM node.
type Node struct {
	Tag      string `json:"tag"`
	Children []any  `json:"children,omitempty"`
}

// Publisher creates Telegraph pages.
type Publisher struct {
	cfg    config.TelegraphConfig
	client *http.Client
	logger *slog.Logger
}

var _ ports.Publisher = (*Publisher)(nil)

// NewPublisher wires the access token and author name; a nil client gets a default one.
func NewPublisher(cfg config.TelegraphConfig, client *http.Client, log *slog.Logger) *Publisher {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Publisher{cfg: cfg, client: client, logger: log}
}

type createPageRequest struct {
	AccessToken string `json:"access_token"`
	Title       string `json:"title"`
	Content     []Node `json:"content"`
	AuthorName  string `json:"author_name,omitempty"`
}

type createPageResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Result *struct {
		Path string `json:"path"`
		URL  string `json:"url"`
	} `json:"result"`
}

// Publish creates a page and returns its public URL.
func (p *Publisher) Publish(ctx context.Context, title, body string, excerpts []domain.Excerpt) (string, error) {
	if p.cfg.AccessToken == "" {
		return "", ErrMissingToken
	}

	payload, err := json.Marshal(createPageRequest{
		AccessToken: p.cfg.AccessToken,
		Title:       truncate(title, MaxTitleRunes),
		Content:     BuildContent(title, body, p.cfg.CommentsHeading, excerpts),
		AuthorName:  p.cfg.AuthorName,
	})
	if err != nil {
		return "", fmt.Errorf("marshal page: %w", err)
	}

	endpoint := strings.TrimSuffix(p.cfg.BaseURL, "/") + "/createPage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var out createPageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response (%s): %w", resp.Status, err)
	}
	p.debug("telegraph response", "status", resp.Status, "ok", out.OK, "error", out.Error)

	if out.Result == nil || out.Result.URL == "" {
		return "", fmt.Errorf("telegraph createPage failed (%s): %s", resp.Status, out.Error)
	}

	return out.Result.URL, nil
}

// BuildContent renders the title, body and comment excerpts into Telegraph nodes.
func BuildContent(title, body, commentsHeading string, excerpts []domain.Excerpt) []Node {
	nodes := []Node{
		{Tag: "h3", Children: []any{title}},
		{Tag: "p", Children: []any{truncate(body, MaxBodyRunes)}},
	}
	if len(excerpts) == 0 {
		return nodes
	}

	nodes = append(nodes, Node{Tag: "h4", Children: []any{commentsHeading}})
	for _, ex := range excerpts {
		nodes = append(nodes, Node{
			Tag:      "blockquote",
			Children: []any{fmt.Sprintf("%s: %s", ex.Author, truncate(ex.Body, MaxExcerptRunes))},
		})
	}
	return nodes
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func (p *Publisher) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
