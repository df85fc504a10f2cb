package ledger

import (
	"context"

	"RewardPool/internal/model"
)

// MultiSink fans an event out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, evt model.Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, evt)
		}
	}
}
