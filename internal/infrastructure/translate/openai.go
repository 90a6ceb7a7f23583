package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"RedditRelay/internal/config"
	"RedditRelay/internal/ports"
)

// OpenAITranslator implements ports.Translator backed by chat completions.
type OpenAITranslator struct {
	client *openai.Client
	model  string
}

var _ ports.Translator = (*OpenAITranslator)(nil)

// NewOpenAITranslator builds a client from configuration.
func NewOpenAITranslator(cfg config.OpenAIConfig) *OpenAITranslator {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openai.NewClient(opts...)
	return &OpenAITranslator{client: &client, model: cfg.Model}
}

// Translate asks the model for a translation-only answer.
func (o *OpenAITranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if o == nil || o.model == "" {
		return "", fmt.Errorf("openai translator misconfigured")
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(sourceLang, targetLang)),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	translated := strings.TrimSpace(resp.Choices[0].Message.Content)
	if translated == "" {
		return "", fmt.Errorf("empty translation from openai")
	}
	return translated, nil
}

func systemPrompt(sourceLang, targetLang string) string {
	return fmt.Sprintf("Translate the user's message from %s to %s. "+
		"Keep line breaks, names and links. Reply with the translation only.", sourceLang, targetLang)
}
