package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"
)

// ResaveArgs asks for a full re-save of one resource. Scheduled when a
// document carries a future date boundary so the denormalized extant flag
// flips on time.
type ResaveArgs struct {
	Href string `json:"href"`
}

func (ResaveArgs) Kind() string { return JobKindResave }

// Saver re-derives a resource document and persists the result.
type Saver interface {
	Save(ctx context.Context, href string) error
}

type ResaveWorker struct {
	river.WorkerDefaults[ResaveArgs]

	saver  Saver
	logger zerolog.Logger
}

func NewResaveWorker(saver Saver, logger zerolog.Logger) *ResaveWorker {
	return &ResaveWorker{saver: saver, logger: logger.With().Str("component", "resave-worker").Logger()}
}

func (ResaveWorker) Kind() string { return JobKindResave }

func (w *ResaveWorker) Work(ctx context.Context, job *river.Job[ResaveArgs]) error {
	if job.Args.Href == "" {
		return fmt.Errorf("resave job missing href")
	}
	w.logger.Debug().Str("href", job.Args.Href).Msg("resaving resource")
	return w.saver.Save(ctx, job.Args.Href)
}

// RiverScheduler implements resources.Scheduler on a River client.
// Duplicate schedules for the same href collapse into one pending job.
type RiverScheduler struct {
	client *river.Client[pgx.Tx]
}

func NewRiverScheduler(client *river.Client[pgx.Tx]) *RiverScheduler {
	return &RiverScheduler{client: client}
}

func (s *RiverScheduler) ScheduleResave(ctx context.Context, href string, at time.Time) error {
	_, err := s.client.Insert(ctx, ResaveArgs{Href: href}, &river.InsertOpts{
		ScheduledAt: at,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	})
	if err != nil {
		return fmt.Errorf("schedule resave for %s: %w", href, err)
	}
	return nil
}
