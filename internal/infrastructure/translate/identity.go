package translate

import (
	"context"

	"RedditRelay/internal/ports"
)

// Identity returns text unchanged. Used when translation is disabled.
type Identity struct{}

var _ ports.Translator = Identity{}

// Translate implements ports.Translator.
func (Identity) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}
