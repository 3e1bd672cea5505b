package newsharvest

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pevans/newsharvest/metrics"
)

// Scope carries the identifiers and observability handles of one collection
// run. It is passed explicitly to every stage instead of living in package
// state.
type Scope struct {
	RunID   uuid.UUID
	Log     *zap.Logger
	Metrics *metrics.Recorder
}

// NewScope starts a run with a fresh run ID. A nil logger is replaced with a
// no-op logger; a nil recorder disables metrics.
func NewScope(log *zap.Logger, rec *metrics.Recorder) Scope {
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.New()
	return Scope{
		RunID:   id,
		Log:     log.With(zap.String("run_id", id.String())),
		Metrics: rec,
	}
}

// ForTopic returns a copy whose logger is labelled with topic.
func (s Scope) ForTopic(topic TopicRef) Scope {
	s.Log = s.Logger().With(
		zap.String("topic", topic.String()),
		zap.String("category", topic.Category),
		zap.String("subcategory", topic.Subcategory),
	)
	return s
}

// ForEntry returns a copy whose logger is labelled with the entry's path.
func (s Scope) ForEntry(entry ListingEntry) Scope {
	s.Log = s.Logger().With(
		zap.String("path", entry.Item.PathOrEmpty()),
		zap.String("category", entry.Category),
	)
	return s
}

// Logger returns the scope's logger, never nil.
func (s Scope) Logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
