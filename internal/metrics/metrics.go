// Package metrics exports per-run relay outcomes to a Prometheus Pushgateway.
package metrics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"RedditRelay/internal/domain"
	"RedditRelay/internal/ports"
)

// Recorder keeps run gauges in a private registry.
type Recorder struct {
	registry *prometheus.Registry
	items    *prometheus.GaugeVec
	lastRun  prometheus.Gauge
	success  prometheus.Gauge
	pushURL  string
	job      string
	logger   *slog.Logger
}

var _ ports.RunRecorder = (*Recorder)(nil)

// NewRecorder builds a recorder; Flush is a no-op when pushURL is empty.
func NewRecorder(pushURL, job string, log *slog.Logger) *Recorder {
	registry := prometheus.NewRegistry()

	items := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "reddit_relay",
		Name:      "items",
		Help:      "Items handled by the last run, by outcome.",
	}, []string{"outcome"})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reddit_relay",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last run finished.",
	})
	success := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reddit_relay",
		Name:      "last_run_success",
		Help:      "1 if the last run completed its batch, 0 if it was aborted.",
	})
	registry.MustRegister(items, lastRun, success)

	return &Recorder{
		registry: registry,
		items:    items,
		lastRun:  lastRun,
		success:  success,
		pushURL:  pushURL,
		job:      job,
		logger:   log,
	}
}

// Record copies the report into the gauges. An aborted run keeps its partial counts.
func (r *Recorder) Record(report domain.Report, runErr error) {
	outcomes := map[string]int{
		"fetched":       report.Fetched,
		"skipped":       report.Skipped,
		"locked":        report.Locked,
		"published":     report.Published,
		"failed":        report.Failed,
		"notify_failed": report.NotifyFailed,
		"record_failed": report.RecordFailed,
	}
	for outcome, n := range outcomes {
		r.items.WithLabelValues(outcome).Set(float64(n))
	}
	r.lastRun.SetToCurrentTime()
	if runErr != nil {
		r.success.Set(0)
	} else {
		r.success.Set(1)
	}
}

// Flush pushes the gauges to the Pushgateway.
func (r *Recorder) Flush(ctx context.Context) error {
	if r.pushURL == "" {
		return nil
	}

	err := push.New(r.pushURL, r.job).
		Gatherer(r.registry).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}

	if r.logger != nil {
		r.logger.Debug("metrics pushed", "url", r.pushURL, "job", r.job)
	}
	return nil
}
