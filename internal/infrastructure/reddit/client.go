package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"RedditRelay/internal/config"
	"RedditRelay/internal/domain"
	"RedditRelay/internal/ports"
)

const (
	// MaxExcerpts caps the number of comments attached to an item.
	MaxExcerpts = 10

	// DefaultUnknownAuthor replaces deleted or blank comment authors.
	DefaultUnknownAuthor = "Неизвестный"

	kindComment     = "t1"
	deletedAuthor   = "[deleted]"
	tokenSafetySkew = 30 * time.Second
)

// Client fetches top posts and their top comments through Reddit's OAuth API.
type Client struct {
	cfg    config.RedditConfig
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ ports.ItemSource = (*Client)(nil)

// NewClient wires credentials and listing settings; a nil http client gets a default one.
func NewClient(cfg config.RedditConfig, client *http.Client, log *slog.Logger) *Client {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, client: client, logger: log, now: time.Now}
}

type listing struct {
	Data struct {
		Children []thing `json:"children"`
	} `json:"data"`
}

type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type postData struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Selftext     string `json:"selftext"`
	SelftextHTML string `json:"selftext_html"`
}

type commentData struct {
	Author   string `json:"author"`
	Body     string `json:"body"`
	BodyHTML string `json:"body_html"`
	Score    int    `json:"score"`
}

// FetchTop returns at most n top posts of the configured subreddit and time window.
// Any failure aborts the whole batch.
func (c *Client) FetchTop(ctx context.Context, n int) ([]domain.Item, error) {
	if n <= 0 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("t", c.cfg.TimeWindow)
	query.Set("limit", strconv.Itoa(n))
	query.Set("raw_json", "1")

	var top listing
	path := fmt.Sprintf("/r/%s/top", url.PathEscape(c.cfg.Subreddit))
	if err := c.get(ctx, path, query, &top); err != nil {
		return nil, fmt.Errorf("top posts of r/%s: %w", c.cfg.Subreddit, err)
	}

	items := make([]domain.Item, 0, n)
	for _, child := range top.Data.Children {
		if len(items) == n {
			break
		}
		var post postData
		if err := json.Unmarshal(child.Data, &post); err != nil {
			return nil, fmt.Errorf("decode post: %w", err)
		}
		if post.ID == "" {
			continue
		}

		excerpts, err := c.fetchExcerpts(ctx, post.ID)
		if err != nil {
			return nil, fmt.Errorf("comments of %s: %w", post.ID, err)
		}

		items = append(items, domain.Item{
			ID:       post.ID,
			Title:    strings.TrimSpace(post.Title),
			Body:     plainText(post.SelftextHTML, post.Selftext),
			Excerpts: excerpts,
		})
	}

	c.debug("fetched top posts", "subreddit", c.cfg.Subreddit, "window", c.cfg.TimeWindow, "count", len(items))
	return items, nil
}

func (c *Client) fetchExcerpts(ctx context.Context, postID string) ([]domain.Excerpt, error) {
	limit := c.cfg.CommentLimit
	if limit <= 0 {
		limit = MaxExcerpts
	}

	query := url.Values{}
	query.Set("sort", "top")
	query.Set("depth", "1")
	query.Set("limit", strconv.Itoa(limit))
	query.Set("raw_json", "1")

	var listings []listing
	if err := c.get(ctx, "/comments/"+url.PathEscape(postID), query, &listings); err != nil {
		return nil, err
	}
	if len(listings) < 2 {
		return nil, nil
	}

	return rankExcerpts(listings[1].Data.Children, c.unknownAuthor())
}

// rankExcerpts drops "more" placeholders, orders comments by score and keeps the top MaxExcerpts.
func rankExcerpts(children []thing, unknownAuthor string) ([]domain.Excerpt, error) {
	excerpts := make([]domain.Excerpt, 0, len(children))
	for _, child := range children {
		if child.Kind != kindComment {
			continue
		}
		var comment commentData
		if err := json.Unmarshal(child.Data, &comment); err != nil {
			return nil, fmt.Errorf("decode comment: %w", err)
		}

		author := strings.TrimSpace(comment.Author)
		if author == "" || author == deletedAuthor {
			author = unknownAuthor
		}

		excerpts = append(excerpts, domain.Excerpt{
			Author: author,
			Body:   plainText(comment.BodyHTML, comment.Body),
			Score:  comment.Score,
		})
	}

	sort.SliceStable(excerpts, func(i, j int) bool {
		return excerpts[i].Score > excerpts[j].Score
	})
	if len(excerpts) > MaxExcerpts {
		excerpts = excerpts[:MaxExcerpts]
	}
	return excerpts, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, v any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	endpoint := strings.TrimSuffix(c.cfg.APIURL, "/") + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "bearer "+token)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("reddit returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// accessToken returns a cached application-only token, requesting a new one when it expires.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return "", fmt.Errorf("reddit credentials are not configured")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	endpoint := strings.TrimSuffix(c.cfg.AuthURL, "/") + "/api/v1/access_token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reddit auth returned %s", resp.Status)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("reddit auth: no token (%s)", payload.Error)
	}

	c.token = payload.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(payload.ExpiresIn)*time.Second - tokenSafetySkew)
	return c.token, nil
}

func (c *Client) unknownAuthor() string {
	if c.cfg.UnknownAuthor != "" {
		return c.cfg.UnknownAuthor
	}
	return DefaultUnknownAuthor
}

func (c *Client) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
