package ports

import (
	"context"

	"RedditRelay/internal/domain"
)

// ItemSource pulls the current top items from upstream.
type ItemSource interface {
	FetchTop(ctx context.Context, n int) ([]domain.Item, error)
}

// Translator converts text between languages.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Publisher turns an item into a hosted long-form page and returns its URL.
type Publisher interface {
	Publish(ctx context.Context, title, body string, excerpts []domain.Excerpt) (string, error)
}

// Notifier announces new publications to a messaging channel.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// PublishedStore persists identifiers of already published items.
type PublishedStore interface {
	EnsureSchema(ctx context.Context) error
	IsPublished(ctx context.Context, itemID string) (bool, error)
	MarkPublished(ctx context.Context, itemID string) error
}

// ItemLocker guards an item against concurrent runs while it is in flight.
type ItemLocker interface {
	TryLock(ctx context.Context, itemID string) (release func(), acquired bool, err error)
}

// RunRecorder collects run outcomes for export.
type RunRecorder interface {
	Record(report domain.Report, runErr error)
	Flush(ctx context.Context) error
}
