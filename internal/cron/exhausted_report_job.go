package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/eventcore/pkg/db/models"
	"github.com/angelmondragon/eventcore/pkg/enums"
	"github.com/angelmondragon/eventcore/pkg/logger"
	"github.com/angelmondragon/eventcore/pkg/metrics"
)

const (
	defaultReportMaxRetries = 5
	defaultReportLimit      = 20
)

type exhaustedLister interface {
	CountExhausted(ctx context.Context, maxRetries int) (int64, error)
	ListExhausted(ctx context.Context, maxRetries, limit int) ([]models.OutboxEntry, error)
}

type ExhaustedReportJobParams struct {
	Logger     *logger.Logger
	Repository exhaustedLister
	Metrics    *metrics.OutboxMetrics
	MaxRetries int
	Limit      int
}

// NewExhaustedReportJob surfaces outbox entries that used every retry: it
// updates the exhausted gauge and logs a warning per listed entry.
func NewExhaustedReportJob(params ExhaustedReportJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultReportMaxRetries
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReportLimit
	}
	return &exhaustedReportJob{
		logg:       params.Logger,
		repo:       params.Repository,
		metrics:    params.Metrics,
		maxRetries: maxRetries,
		limit:      limit,
	}, nil
}

type exhaustedReportJob struct {
	logg       *logger.Logger
	repo       exhaustedLister
	metrics    *metrics.OutboxMetrics
	maxRetries int
	limit      int
}

func (j *exhaustedReportJob) Name() string { return "outbox-exhausted-report" }

func (j *exhaustedReportJob) Run(ctx context.Context) error {
	count, err := j.repo.CountExhausted(ctx, j.maxRetries)
	if err != nil {
		return fmt.Errorf("count exhausted: %w", err)
	}
	j.metrics.SetExhausted(count)
	if count == 0 {
		return nil
	}

	entries, err := j.repo.ListExhausted(ctx, j.maxRetries, j.limit)
	if err != nil {
		return fmt.Errorf("list exhausted: %w", err)
	}
	for _, entry := range entries {
		fields := map[string]any{
			"outbox_id":      entry.ID,
			"event_id":       entry.EventID.String(),
			"event_type":     entry.EventType,
			"aggregate_type": entry.AggregateType,
			"aggregate_id":   entry.AggregateID,
			"attempt_count":  entry.ProcessingAttempts,
			"state":          enums.StateOf(entry.IsProcessed, entry.ProcessingAttempts, j.maxRetries),
		}
		if entry.LastError != nil {
			fields["last_error"] = *entry.LastError
		}
		j.logg.Warn(j.logg.WithFields(ctx, fields), "outbox entry exhausted")
	}

	logCtx := j.logg.WithField(ctx, "exhausted_total", count)
	j.logg.Warn(logCtx, "outbox has exhausted entries")
	return nil
}
