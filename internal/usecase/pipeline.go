package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"RedditRelay/internal/domain"
	"RedditRelay/internal/ports"
)

// Stage names used in per-item failure logs.
const (
	stageDedup     = "dedup"
	stageLease     = "lease"
	stageTranslate = "translate"
	stagePublish   = "publish"
	stageNotify    = "notify"
	stageRecord    = "record"
)

// ErrNotWired is returned by Run when a required collaborator is missing.
var ErrNotWired = errors.New("pipeline is not fully wired")

// PipelineDeps wires all driven adapters into the relay pipeline.
// Locker is optional.
type PipelineDeps struct {
	Source     ports.ItemSource
	Store      ports.PublishedStore
	Translator ports.Translator
	Publisher  ports.Publisher
	Notifier   ports.Notifier
	Locker     ports.ItemLocker
	Logger     *slog.Logger
	Now        func() time.Time
}

// PipelineOptions tunes a run.
type PipelineOptions struct {
	BatchSize    int
	SourceLang   string
	TargetLang   string
	Announcement string
	// SkipRecordOnNotifyFailure leaves the item unrecorded when the announcement fails,
	// so the next run publishes it again.
	SkipRecordOnNotifyFailure bool
}

// Pipeline implements the fetch, dedup, translate, publish, notify, record workflow.
type Pipeline struct {
	source     ports.ItemSource
	store      ports.PublishedStore
	translator ports.Translator
	publisher  ports.Publisher
	notifier   ports.Notifier
	locker     ports.ItemLocker
	logger     *slog.Logger
	now        func() time.Time
	opts       PipelineOptions
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps, opts PipelineOptions) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		source:     deps.Source,
		store:      deps.Store,
		translator: deps.Translator,
		publisher:  deps.Publisher,
		notifier:   deps.Notifier,
		locker:     deps.Locker,
		logger:     logger,
		now:        now,
		opts:       opts,
	}
}

// Run processes one batch. Only schema, fetch and interruption errors are returned;
// per-item failures are logged and counted in the report.
func (p *Pipeline) Run(ctx context.Context) (domain.Report, error) {
	report := domain.Report{RunID: uuid.NewString()}
	if p.source == nil || p.store == nil || p.publisher == nil || p.notifier == nil {
		return report, ErrNotWired
	}
	log := p.logger.With("run_id", report.RunID)

	if err := p.store.EnsureSchema(ctx); err != nil {
		return report, fmt.Errorf("ensure schema: %w", err)
	}

	items, err := p.source.FetchTop(ctx, p.opts.BatchSize)
	if err != nil {
		return report, fmt.Errorf("fetch batch: %w", err)
	}
	report.Fetched = len(items)
	log.Info("batch fetched", "count", len(items))

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("run interrupted before %s: %w", item.ID, err)
		}
		p.processItem(ctx, log.With("item_id", item.ID), item, &report)
	}

	log.Info("run finished",
		"fetched", report.Fetched,
		"skipped", report.Skipped,
		"locked", report.Locked,
		"published", report.Published,
		"failed", report.Failed,
		"notify_failed", report.NotifyFailed,
		"record_failed", report.RecordFailed,
	)
	return report, nil
}

func (p *Pipeline) processItem(ctx context.Context, log *slog.Logger, item domain.Item, report *domain.Report) {
	published, err := p.store.IsPublished(ctx, item.ID)
	if err != nil {
		log.Error("dedup check failed", "stage", stageDedup, "error", err)
		report.Failed++
		return
	}
	if published {
		log.Info("already published, skipping")
		report.Skipped++
		return
	}

	if p.locker != nil {
		release, acquired, err := p.locker.TryLock(ctx, item.ID)
		if release != nil {
			defer release()
		}

		switch {
		case err != nil:
			log.Warn("lease unavailable, continuing without it", "stage", stageLease, "error", err)
		case !acquired:
			log.Info("item is leased by another run, skipping")
			report.Locked++
			return
		default:
			// the lease holder before us may have finished in between
			again, err := p.store.IsPublished(ctx, item.ID)
			if err != nil {
				log.Warn("dedup recheck failed, continuing under lease", "stage", stageDedup, "error", err)
			} else if again {
				log.Info("published by another run, skipping")
				report.Skipped++
				return
			}
		}
	}

	translated := p.translateItem(ctx, log, item)

	url, err := p.publisher.Publish(ctx, translated.Title, translated.Body, translated.Excerpts)
	if err != nil {
		log.Error("publish failed", "stage", stagePublish, "error", err)
		report.Failed++
		return
	}
	report.Published++
	log.Info("page published", "url", url)

	if err := p.notifier.Notify(ctx, p.opts.Announcement+url); err != nil {
		report.NotifyFailed++
		log.Error("notify failed", "stage", stageNotify, "url", url, "error", err)
		if p.opts.SkipRecordOnNotifyFailure {
			return
		}
	}

	if err := p.store.MarkPublished(ctx, item.ID); err != nil {
		if errors.Is(err, domain.ErrAlreadyRecorded) {
			log.Info("record already exists", "stage", stageRecord)
			return
		}
		report.RecordFailed++
		log.Error("record failed", "stage", stageRecord, "error", err)
		return
	}

	report.Recorded = append(report.Recorded, domain.PublishedRecord{
		ItemID:      item.ID,
		PublishedAt: p.now().UTC(),
	})
}

func (p *Pipeline) translateItem(ctx context.Context, log *slog.Logger, item domain.Item) domain.TranslatedItem {
	out := domain.TranslatedItem{
		ID:       item.ID,
		Title:    p.translateText(ctx, log, "title", item.Title),
		Body:     p.translateText(ctx, log, "body", item.Body),
		Excerpts: make([]domain.Excerpt, len(item.Excerpts)),
	}
	for i, ex := range item.Excerpts {
		out.Excerpts[i] = domain.Excerpt{
			Author: ex.Author,
			Body:   p.translateText(ctx, log, "excerpt", ex.Body),
			Score:  ex.Score,
		}
	}
	return out
}

// translateText never fails: on error the original text is kept.
func (p *Pipeline) translateText(ctx context.Context, log *slog.Logger, field, text string) string {
	if p.translator == nil || strings.TrimSpace(text) == "" {
		return text
	}

	translated, err := p.translator.Translate(ctx, text, p.opts.SourceLang, p.opts.TargetLang)
	if err != nil {
		log.Warn("translation failed, keeping original", "stage", stageTranslate, "field", field, "error", err)
		return text
	}
	return translated
}
