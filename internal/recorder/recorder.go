package recorder

import (
	"context"
	"log/slog"

	"RewardPool/internal/model"
)

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	Participant string
	Kind        model.EventKind
	Period      uint64
	Limit       int
}

// Recorder persists ledger event history for audit and analysis.
type Recorder interface {
	RecordEvent(ctx context.Context, evt *model.Event) error
	ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error)
	Close() error
}

// Sink forwards ledger events to a Recorder. Write failures are logged; the
// ledger state file remains the source of truth.
type Sink struct {
	rec Recorder
	log *slog.Logger
}

func NewSink(rec Recorder, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{rec: rec, log: log}
}

func (s *Sink) Emit(ctx context.Context, evt model.Event) {
	if err := s.rec.RecordEvent(ctx, &evt); err != nil {
		s.log.Error("record ledger event", "event_id", evt.ID, "kind", evt.Kind, "error", err)
	}
}
