package newsharvest

import "context"

// Sink durably appends batches of enriched records. AppendBatch must not
// return nil before the batch is durable. The scheduler never calls it
// concurrently.
type Sink interface {
	AppendBatch(ctx context.Context, records []EnrichedRecord) error
	Close() error
}
