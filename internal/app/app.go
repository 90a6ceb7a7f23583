package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"RedditRelay/internal/config"
	"RedditRelay/internal/domain"
	"RedditRelay/internal/infrastructure/lease"
	"RedditRelay/internal/infrastructure/reddit"
	"RedditRelay/internal/infrastructure/storage"
	"RedditRelay/internal/infrastructure/telegram"
	"RedditRelay/internal/infrastructure/telegraph"
	"RedditRelay/internal/infrastructure/translate"
	"RedditRelay/internal/logging"
	"RedditRelay/internal/metrics"
	"RedditRelay/internal/ports"
	"RedditRelay/internal/usecase"
)

const flushTimeout = 10 * time.Second

// Application wires configs to the relay pipeline and owns its connections.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *sqlx.DB
	redis    *redis.Client
	pipeline *usecase.Pipeline
	recorder ports.RunRecorder
}

// New opens the database (and Redis when configured) and builds the pipeline.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &Application{
		cfg:      cfg,
		logger:   baseLogger,
		db:       db,
		recorder: metrics.NewRecorder(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, baseLogger.With("component", "metrics")),
	}

	var locker ports.ItemLocker
	if cfg.Redis.URL != "" {
		client, err := lease.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			// the lease only narrows a race, the run can go on without it
			baseLogger.Warn("redis unavailable, running without item leases", "error", err)
		} else {
			a.redis = client
			locker = lease.NewRedisLocker(client, cfg.Redis.Prefix, cfg.Redis.LeaseTTL, baseLogger.With("component", "lease"))
		}
	}

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Source:     reddit.NewClient(cfg.Reddit, nil, baseLogger.With("component", "reddit")),
		Store:      storage.NewPostgresRepository(db, cfg.Database.Table),
		Translator: newTranslator(cfg.Translator),
		Publisher:  telegraph.NewPublisher(cfg.Telegraph, nil, baseLogger.With("component", "telegraph")),
		Notifier:   telegram.NewNotifier(cfg.Telegram, nil, baseLogger.With("component", "telegram")),
		Locker:     locker,
		Logger:     baseLogger.With("component", "pipeline"),
	}, usecase.PipelineOptions{
		BatchSize:                 cfg.Pipeline.BatchSize,
		SourceLang:                cfg.Translator.SourceLang,
		TargetLang:                cfg.Translator.TargetLang,
		Announcement:              cfg.Pipeline.Announcement,
		SkipRecordOnNotifyFailure: cfg.Pipeline.SkipRecordOnNotifyFailure,
	})

	return a, nil
}

func newTranslator(cfg config.TranslatorConfig) ports.Translator {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return translate.NewOpenAITranslator(cfg.OpenAI)
	case config.ProviderNone:
		return translate.Identity{}
	default:
		return translate.NewGoogleTranslator(cfg.GoogleURL, nil)
	}
}

// Run performs a single pipeline execution and exports its outcome.
// Metrics are pushed for aborted runs too.
func (a *Application) Run(ctx context.Context) (domain.Report, error) {
	report, runErr := a.pipeline.Run(ctx)

	a.recorder.Record(report, runErr)
	// an interrupted run still gets a short window to push
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if err := a.recorder.Flush(flushCtx); err != nil {
		a.logger.Warn("metrics push failed", "error", err)
	}
	return report, runErr
}

// Close releases the database and Redis connections.
func (a *Application) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
