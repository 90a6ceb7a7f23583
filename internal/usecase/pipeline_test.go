package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RedditRelay/internal/domain"
)

type fakeSource struct {
	items []domain.Item
	err   error
	asked int
}

func (f *fakeSource) FetchTop(_ context.Context, n int) ([]domain.Item, error) {
	f.asked = n
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

// memStore mimics the unique constraint of the Postgres table.
type memStore struct {
	records   map[string]bool
	schemaErr error
	lookupErr error
	insertErr error
	ensured   int

	// lookups past failLookupsAfter return lookupErr
	lookups          int
	failLookupsAfter int
}

func newMemStore(ids ...string) *memStore {
	s := &memStore{records: map[string]bool{}}
	for _, id := range ids {
		s.records[id] = true
	}
	return s
}

func (s *memStore) EnsureSchema(context.Context) error {
	s.ensured++
	return s.schemaErr
}

func (s *memStore) IsPublished(_ context.Context, id string) (bool, error) {
	s.lookups++
	if s.lookupErr != nil && s.lookups > s.failLookupsAfter {
		return false, s.lookupErr
	}
	return s.records[id], nil
}

func (s *memStore) MarkPublished(_ context.Context, id string) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	if s.records[id] {
		return fmt.Errorf("insert %s: %w", id, domain.ErrAlreadyRecorded)
	}
	s.records[id] = true
	return nil
}

type translateFunc func(text string) (string, error)

func (f translateFunc) Translate(_ context.Context, text, _, _ string) (string, error) {
	return f(text)
}

type publishCall struct {
	title    string
	body     string
	excerpts []domain.Excerpt
}

type fakePublisher struct {
	calls  []publishCall
	failOn map[string]bool
	url    string
}

func (f *fakePublisher) Publish(_ context.Context, title, body string, excerpts []domain.Excerpt) (string, error) {
	f.calls = append(f.calls, publishCall{title: title, body: body, excerpts: excerpts})
	if f.failOn[title] {
		return "", errors.New("telegraph createPage failed: FLOOD_WAIT")
	}
	if f.url != "" {
		return f.url, nil
	}
	return "https://telegra.ph/" + title, nil
}

type fakeNotifier struct {
	messages []string
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, message string) error {
	f.messages = append(f.messages, message)
	return f.err
}

type fakeLocker struct {
	held     map[string]bool
	err      error
	released []string
}

func (f *fakeLocker) TryLock(_ context.Context, id string) (func(), bool, error) {
	if f.err != nil {
		return func() {}, false, f.err
	}
	if f.held[id] {
		return func() {}, false, nil
	}
	return func() { f.released = append(f.released, id) }, true, nil
}

type fixture struct {
	source    *fakeSource
	store     *memStore
	publisher *fakePublisher
	notifier  *fakeNotifier
}

func newFixture(items ...domain.Item) *fixture {
	return &fixture{
		source:    &fakeSource{items: items},
		store:     newMemStore(),
		publisher: &fakePublisher{},
		notifier:  &fakeNotifier{},
	}
}

func (f *fixture) pipeline(tr translateFunc, opts PipelineOptions) *Pipeline {
	deps := PipelineDeps{
		Source:    f.source,
		Store:     f.store,
		Publisher: f.publisher,
		Notifier:  f.notifier,
		Now:       func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
	if tr != nil {
		deps.Translator = tr
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 5
	}
	if opts.Announcement == "" {
		opts.Announcement = "Новый пост: "
	}
	return NewPipeline(deps, opts)
}

func identity(text string) (string, error) { return text, nil }

func items(ids ...string) []domain.Item {
	out := make([]domain.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Item{ID: id, Title: "title-" + id, Body: "body-" + id})
	}
	return out
}

func TestPipeline_EndToEnd(t *testing.T) {
	f := newFixture(domain.Item{
		ID:       "a1",
		Title:    "Hello",
		Body:     "World",
		Excerpts: []domain.Excerpt{{Author: "bob", Body: "nice"}},
	})
	f.publisher.url = "https://telegra.ph/Hello-01-01"
	p := f.pipeline(identity, PipelineOptions{})

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "https://telegra.ph/Hello-01-01")
	assert.True(t, f.store.records["a1"])
	assert.Equal(t, 1, report.Published)
	require.Len(t, report.Recorded, 1)
	assert.Equal(t, "a1", report.Recorded[0].ItemID)
	assert.NotEmpty(t, report.RunID)

	require.Len(t, f.publisher.calls, 1)
	call := f.publisher.calls[0]
	assert.Equal(t, "Hello", call.title)
	assert.Equal(t, "World", call.body)
	assert.Equal(t, []domain.Excerpt{{Author: "bob", Body: "nice"}}, call.excerpts)

	second, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.publisher.calls, 1, "second run must not publish")
	assert.Len(t, f.notifier.messages, 1, "second run must not notify")
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 0, second.Published)
}

func TestPipeline_Idempotence(t *testing.T) {
	f := newFixture(items("a", "b", "c")...)
	p := f.pipeline(identity, PipelineOptions{})

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, first.Published)

	second, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Published)
	assert.Equal(t, 3, second.Skipped)
	assert.Len(t, f.publisher.calls, 3)
	assert.Equal(t, 2, f.store.ensured)
}

func TestPipeline_DedupSkipsKnownItems(t *testing.T) {
	f := newFixture(items("old1", "new", "old2")...)
	f.store = newMemStore("old1", "old2")
	p := f.pipeline(identity, PipelineOptions{})

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, f.publisher.calls, 1)
	assert.Equal(t, "title-new", f.publisher.calls[0].title)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Published)
}

func TestPipeline_TranslationFallback(t *testing.T) {
	f := newFixture(domain.Item{
		ID:       "a1",
		Title:    "Hello",
		Body:     "World",
		Excerpts: []domain.Excerpt{{Author: "bob", Body: "nice"}},
	})
	failing := func(string) (string, error) { return "", errors.New("quota exceeded") }
	p := f.pipeline(failing, PipelineOptions{})

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Published)

	call := f.publisher.calls[0]
	assert.Equal(t, "Hello", call.title)
	assert.Equal(t, "World", call.body)
	assert.Equal(t, "nice", call.excerpts[0].Body)
}

func TestPipeline_TranslatesFieldsKeepsAuthors(t *testing.T) {
	f := newFixture(domain.Item{
		ID:       "a1",
		Title:    "Hello",
		Body:     "   ",
		Excerpts: []domain.Excerpt{{Author: "bob", Body: "nice", Score: 7}},
	})
	var seen []string
	upper := func(text string) (string, error) {
		seen = append(seen, text)
		return strings.ToUpper(text), nil
	}
	p := f.pipeline(upper, PipelineOptions{})

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	call := f.publisher.calls[0]
	assert.Equal(t, "HELLO", call.title)
	assert.Equal(t, "   ", call.body, "blank body is passed through")
	assert.Equal(t, domain.Excerpt{Author: "bob", Body: "NICE", Score: 7}, call.excerpts[0])
	assert.Equal(t, []string{"Hello", "nice"}, seen, "backend is not called for blank text")
}

func TestPipeline_PartialBatchResilience(t *testing.T) {
	f := newFixture(items("1", "2", "3")...)
	f.publisher.failOn = map[string]bool{"title-2": true}
	p := f.pipeline(identity, PipelineOptions{})

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, f.store.records["1"])
	assert.False(t, f.store.records["2"], "failed item stays eligible for the next run")
	assert.True(t, f.store.records["3"])
	assert.Len(t, f.notifier.messages, 2)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Published)

	f.publisher.failOn = nil
	retry, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Published)
	assert.True(t, f.store.records["2"])
}

func TestPipeline_FatalErrors(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		f := newFixture()
		f.source.err = errors.New("401 Unauthorized")
		_, err := f.pipeline(identity, PipelineOptions{}).Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fetch batch")
		assert.Empty(t, f.publisher.calls)
	})

	t.Run("schema", func(t *testing.T) {
		f := newFixture(items("a")...)
		f.store.schemaErr = errors.New("connection refused")
		_, err := f.pipeline(identity, PipelineOptions{}).Run(context.Background())
		require.Error(t, err)
		assert.Zero(t, f.source.asked, "nothing is fetched without a schema")
	})

	t.Run("not wired", func(t *testing.T) {
		_, err := NewPipeline(PipelineDeps{}, PipelineOptions{}).Run(context.Background())
		assert.ErrorIs(t, err, ErrNotWired)
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newFixture(items("a")...)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := f.pipeline(identity, PipelineOptions{}).Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, f.publisher.calls)
	})
}

func TestPipeline_PassesBatchSize(t *testing.T) {
	f := newFixture()
	_, err := f.pipeline(identity, PipelineOptions{BatchSize: 7}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, f.source.asked)
}

func TestPipeline_DedupLookupErrorSkipsItem(t *testing.T) {
	f := newFixture(items("a", "b")...)
	f.store.lookupErr = errors.New("conn reset")
	report, err := f.pipeline(identity, PipelineOptions{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)
	assert.Empty(t, f.publisher.calls)
}

func TestPipeline_NotifyFailure(t *testing.T) {
	t.Run("records by default", func(t *testing.T) {
		f := newFixture(items("a")...)
		f.notifier.err = errors.New("chat not found")
		report, err := f.pipeline(identity, PipelineOptions{}).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.NotifyFailed)
		assert.True(t, f.store.records["a"])
	})

	t.Run("leaves item eligible when configured", func(t *testing.T) {
		f := newFixture(items("a")...)
		f.notifier.err = errors.New("chat not found")
		report, err := f.pipeline(identity, PipelineOptions{SkipRecordOnNotifyFailure: true}).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.NotifyFailed)
		assert.False(t, f.store.records["a"])
		assert.Empty(t, report.Recorded)
	})
}

func TestPipeline_RecordFailureIsSwallowed(t *testing.T) {
	f := newFixture(items("a", "b")...)
	f.store.insertErr = errors.New("disk full")
	report, err := f.pipeline(identity, PipelineOptions{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.RecordFailed)
	assert.Equal(t, 2, report.Published)
	assert.Len(t, f.notifier.messages, 2)
}

func TestPipeline_DuplicateRecordIsBenign(t *testing.T) {
	f := newFixture(items("a")...)
	f.store.insertErr = fmt.Errorf("insert a: %w", domain.ErrAlreadyRecorded)
	report, err := f.pipeline(identity, PipelineOptions{}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.RecordFailed)
	assert.Empty(t, report.Recorded)
}

func TestPipeline_Lease(t *testing.T) {
	t.Run("held by another run", func(t *testing.T) {
		f := newFixture(items("a", "b")...)
		locker := &fakeLocker{held: map[string]bool{"a": true}}
		p := f.pipeline(identity, PipelineOptions{})
		p.locker = locker

		report, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Locked)
		assert.Equal(t, 1, report.Published)
		assert.Equal(t, []string{"b"}, locker.released)
		assert.False(t, f.store.records["a"])
	})

	t.Run("lease backend down fails open", func(t *testing.T) {
		f := newFixture(items("a")...)
		p := f.pipeline(identity, PipelineOptions{})
		p.locker = &fakeLocker{err: errors.New("redis: connection refused")}

		report, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Published)
	})

	t.Run("recheck failure is logged and the item proceeds", func(t *testing.T) {
		f := newFixture(items("a")...)
		f.store.lookupErr = errors.New("pq: connection reset")
		f.store.failLookupsAfter = 1

		var buf bytes.Buffer
		p := f.pipeline(identity, PipelineOptions{})
		p.logger = slog.New(slog.NewTextHandler(&buf, nil))
		p.locker = &fakeLocker{}

		report, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Published)
		assert.Equal(t, 2, f.store.lookups)
		assert.Contains(t, buf.String(), "level=WARN")
		assert.Contains(t, buf.String(), "stage=dedup")
		assert.Contains(t, buf.String(), "connection reset")
	})
}
