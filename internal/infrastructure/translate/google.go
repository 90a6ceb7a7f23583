package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"RedditRelay/internal/ports"
)

// maxChunkRunes keeps each request under the endpoint's payload limit.
const maxChunkRunes = 4500

// GoogleTranslator talks to the public translate_a/single endpoint.
type GoogleTranslator struct {
	endpoint string
	client   *http.Client
}

var _ ports.Translator = (*GoogleTranslator)(nil)

// NewGoogleTranslator builds a translator; a nil client gets a default one.
func NewGoogleTranslator(endpoint string, client *http.Client) *GoogleTranslator {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &GoogleTranslator{endpoint: endpoint, client: client}
}

// Translate converts text chunk by chunk and concatenates the results.
func (g *GoogleTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	var out strings.Builder
	for _, chunk := range splitChunks(text, maxChunkRunes) {
		translated, err := g.translateChunk(ctx, chunk, sourceLang, targetLang)
		if err != nil {
			return "", err
		}
		out.WriteString(translated)
	}
	return out.String(), nil
}

func (g *GoogleTranslator) translateChunk(ctx context.Context, chunk, sourceLang, targetLang string) (string, error) {
	query := url.Values{}
	query.Set("client", "gtx")
	query.Set("sl", sourceLang)
	query.Set("tl", targetLang)
	query.Set("dt", "t")

	form := url.Values{}
	form.Set("q", chunk)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"?"+query.Encode(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("translate error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var envelope []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(envelope) == 0 {
		return "", fmt.Errorf("empty translate response")
	}

	var segments [][]any
	if err := json.Unmarshal(envelope[0], &segments); err != nil {
		return "", fmt.Errorf("decode segments: %w", err)
	}

	var out strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		if s, ok := seg[0].(string); ok {
			out.WriteString(s)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("no translated segments")
	}
	return out.String(), nil
}

// splitChunks cuts text on line boundaries into pieces of at most limit runes.
// Lines longer than limit are split at rune boundaries.
func splitChunks(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		lineLen := utf8.RuneCountInString(line)
		if curLen+lineLen <= limit {
			cur.WriteString(line)
			curLen += lineLen
			continue
		}
		flush()
		for lineLen > limit {
			runes := []rune(line)
			chunks = append(chunks, string(runes[:limit]))
			line = string(runes[limit:])
			lineLen -= limit
		}
		cur.WriteString(line)
		curLen = lineLen
	}
	flush()

	return chunks
}
