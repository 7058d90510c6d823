// Package audit records change events for resources, sources and
// changesets. Events are emitted after the mutating transaction commits;
// delivery is best effort and never fails the mutation.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Event is one recorded mutation.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"` // "resource", "source" or "changeset"
	Href      string    `json:"href"`
	Version   int64     `json:"version"`
}

// Sink writes change events to a structured log. It satisfies
// resources.Notifier.
type Sink struct {
	logger zerolog.Logger
	now    func() time.Time
}

func NewSink(logger zerolog.Logger) *Sink {
	return &Sink{
		logger: logger.With().Str("component", "audit").Logger(),
		now:    time.Now,
	}
}

func (s *Sink) NotifyChange(_ context.Context, kind, href string, version int64) {
	s.record(Event{Kind: kind, Href: href, Version: version})
}

func (s *Sink) record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	s.logger.Info().
		Time("at", event.Timestamp).
		Str("kind", event.Kind).
		Str("href", event.Href).
		Int64("version", event.Version).
		Msg("change recorded")
}
