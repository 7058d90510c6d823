package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog"
)

const JobKindPerformChangeset = "perform_changeset"

// PerformChangesetArgs asks for a deferred perform of a persisted changeset.
type PerformChangesetArgs struct {
	ID string `json:"id"`
}

func (PerformChangesetArgs) Kind() string { return JobKindPerformChangeset }

// Performer applies a previously persisted changeset by id.
type Performer interface {
	PerformByID(ctx context.Context, id string) error
}

type PerformWorker struct {
	river.WorkerDefaults[PerformChangesetArgs]

	performer Performer
	logger    zerolog.Logger
}

func NewPerformWorker(performer Performer, logger zerolog.Logger) *PerformWorker {
	return &PerformWorker{performer: performer, logger: logger.With().Str("component", "perform-worker").Logger()}
}

func (PerformWorker) Kind() string { return JobKindPerformChangeset }

func (w *PerformWorker) Work(ctx context.Context, job *river.Job[PerformChangesetArgs]) error {
	if job.Args.ID == "" {
		return fmt.Errorf("perform job missing changeset id")
	}
	w.logger.Debug().Str("changeset", job.Args.ID).Msg("performing scheduled changeset")
	return w.performer.PerformByID(ctx, job.Args.ID)
}

// SchedulePerform enqueues a deferred perform of the changeset at the given
// instant. Duplicate schedules for the same id collapse into one pending job.
func (s *RiverScheduler) SchedulePerform(ctx context.Context, id string, at time.Time) error {
	_, err := s.client.Insert(ctx, PerformChangesetArgs{ID: id}, &river.InsertOpts{
		ScheduledAt: at,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	})
	if err != nil {
		return fmt.Errorf("schedule perform for changeset %s: %w", id, err)
	}
	return nil
}
