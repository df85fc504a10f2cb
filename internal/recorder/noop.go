package recorder

import (
	"context"

	"RewardPool/internal/model"
)

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordEvent(context.Context, *model.Event) error { return nil }
func (n *NoopRecorder) ListEvents(context.Context, EventFilter) ([]model.Event, error) {
	return nil, nil
}
func (n *NoopRecorder) Close() error { return nil }
