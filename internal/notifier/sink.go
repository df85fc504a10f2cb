package notifier

import (
	"context"
	"log/slog"

	"RewardPool/internal/model"
)

const (
	sinkBuffer     = 64
	sinkMaxRetries = 2
)

// Sink forwards ledger events to Telegram. Emit never blocks: the ledger calls
// it while holding its lock, so delivery happens on the Run goroutine and
// events are dropped when the buffer is full.
type Sink struct {
	notifier *TelegramNotifier
	kinds    map[model.EventKind]bool
	queue    chan model.Event
	log      *slog.Logger
}

// NewSink returns a sink that forwards the given kinds, or every kind if none
// are listed.
func NewSink(n *TelegramNotifier, log *slog.Logger, kinds ...model.EventKind) *Sink {
	if log == nil {
		log = slog.Default()
	}
	s := &Sink{notifier: n, queue: make(chan model.Event, sinkBuffer), log: log}
	if len(kinds) > 0 {
		s.kinds = make(map[model.EventKind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}
	return s
}

func (s *Sink) Emit(_ context.Context, evt model.Event) {
	if s.kinds != nil && !s.kinds[evt.Kind] {
		return
	}
	select {
	case s.queue <- evt:
	default:
		s.log.Warn("notification queue full, dropping event", "event_id", evt.ID, "kind", evt.Kind)
	}
}

// Run delivers queued events until ctx is cancelled.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-s.queue:
			if err := s.notifier.SendWithRetry(ctx, FormatEvent(evt), sinkMaxRetries); err != nil {
				s.log.Error("failed to send event notification", "event_id", evt.ID, "error", err)
			}
		}
	}
}
