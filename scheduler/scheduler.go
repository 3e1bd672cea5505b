// Package scheduler drives a collection run: listings for all topics are
// collected concurrently, then entries are enriched and written in
// fixed-size batches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/pevans/newsharvest"
)

// DefaultBatchSize is the number of entries enriched and written together.
const DefaultBatchSize = 10

var (
	// ErrTopicFailed is wrapped by the run error when at least one topic's
	// listing could not be collected.
	ErrTopicFailed = errors.New("topic collection failed")
	// ErrChunkFailed is wrapped by the run error when at least one batch was
	// not written.
	ErrChunkFailed = errors.New("chunk failed")
)

// Collector gathers the full listing of one topic.
type Collector interface {
	CollectAll(ctx context.Context, scope newsharvest.Scope, topic newsharvest.TopicRef) ([]newsharvest.ListingEntry, error)
}

// Enricher builds the record of one listing entry.
type Enricher interface {
	Enrich(ctx context.Context, scope newsharvest.Scope, entry newsharvest.ListingEntry) (newsharvest.EnrichedRecord, error)
}

// Config holds the concurrency settings of a run.
type Config struct {
	// ListingConcurrency bounds the topics collected at once. Zero or less
	// means all topics at once.
	ListingConcurrency int
	// DetailBatchSize is the chunk size and the hard cap on detail fetches in
	// flight. Zero or less means DefaultBatchSize.
	DetailBatchSize int
}

// TopicFailure records a topic whose listing collection failed.
type TopicFailure struct {
	Topic newsharvest.TopicRef
	Err   error
}

// ChunkFailure records a chunk whose batch was not written.
type ChunkFailure struct {
	// Index is the position of the chunk in the run, from 0.
	Index int
	Size  int
	Err   error
}

// Report summarizes a run.
type Report struct {
	RunID           string
	TopicsSucceeded []newsharvest.TopicRef
	TopicsFailed    []TopicFailure
	EntriesListed   int
	BatchesWritten  int
	RecordsWritten  int
	PartialRecords  int
	ChunkFailures   []ChunkFailure
}

// Err returns nil when every topic and chunk succeeded, otherwise an error
// wrapping ErrTopicFailed and/or ErrChunkFailed along with the causes.
func (r Report) Err() error {
	var errs []error
	for _, f := range r.TopicsFailed {
		errs = append(errs, fmt.Errorf("%w: %s: %w", ErrTopicFailed, f.Topic, f.Err))
	}
	for _, f := range r.ChunkFailures {
		errs = append(errs, fmt.Errorf("%w: chunk %d (%d entries): %w", ErrChunkFailed, f.Index, f.Size, f.Err))
	}
	return errors.Join(errs...)
}

// Scheduler runs the two stages of a collection.
type Scheduler struct {
	collector Collector
	enricher  Enricher
	sink      newsharvest.Sink
	cfg       Config
}

// New creates a scheduler.
func New(collector Collector, enricher Enricher, sink newsharvest.Sink, cfg Config) *Scheduler {
	if cfg.DetailBatchSize <= 0 {
		cfg.DetailBatchSize = DefaultBatchSize
	}

	return &Scheduler{
		collector: collector,
		enricher:  enricher,
		sink:      sink,
		cfg:       cfg,
	}
}

// Run collects every topic, then enriches and writes the entries. The
// returned error is Report.Err, joined with the context error if the run
// was cancelled between chunks.
func (s *Scheduler) Run(ctx context.Context, scope newsharvest.Scope, topics []newsharvest.TopicRef) (Report, error) {
	log := scope.Logger()
	report := Report{RunID: scope.RunID.String()}

	log.Info("collecting listings", zap.Int("topics", len(topics)))
	entries, succeeded, failed := s.CollectListings(ctx, scope, topics)
	report.TopicsSucceeded = succeeded
	report.TopicsFailed = failed
	report.EntriesListed = len(entries)

	log.Info("enriching entries",
		zap.Int("entries", len(entries)),
		zap.Int("batch_size", s.cfg.DetailBatchSize),
	)
	runErr := s.enrichAll(ctx, scope, entries, &report)

	log.Info("run finished",
		zap.Int("topics_succeeded", len(report.TopicsSucceeded)),
		zap.Int("topics_failed", len(report.TopicsFailed)),
		zap.Int("batches_written", report.BatchesWritten),
		zap.Int("records_written", report.RecordsWritten),
		zap.Int("partial_records", report.PartialRecords),
		zap.Int("chunk_failures", len(report.ChunkFailures)),
	)

	return report, errors.Join(report.Err(), runErr)
}

// CollectListings runs one collector per topic, at most ListingConcurrency
// at a time. A failed topic does not affect the others. Entries of
// succeeded topics are concatenated in the order the topics finished.
func (s *Scheduler) CollectListings(ctx context.Context, scope newsharvest.Scope, topics []newsharvest.TopicRef) ([]newsharvest.ListingEntry, []newsharvest.TopicRef, []TopicFailure) {
	limit := s.cfg.ListingConcurrency
	if limit <= 0 || limit > len(topics) {
		limit = max(len(topics), 1)
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		entries   []newsharvest.ListingEntry
		succeeded []newsharvest.TopicRef
		failed    []TopicFailure
	)
	semaphore := make(chan struct{}, limit)

	fail := func(topic newsharvest.TopicRef, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, TopicFailure{Topic: topic, Err: err})
	}

	for i, topic := range topics {
		select {
		case <-ctx.Done():
			for _, t := range topics[i:] {
				fail(t, ctx.Err())
				scope.Metrics.TopicDone("failed")
			}
			wg.Wait()
			return entries, succeeded, failed
		case semaphore <- struct{}{}:
			wg.Add(1)
			go func(topic newsharvest.TopicRef) {
				defer wg.Done()
				defer func() { <-semaphore }()

				got, err := s.collector.CollectAll(ctx, scope, topic)
				if err != nil {
					scope.ForTopic(topic).Logger().Error("topic collection failed", zap.Error(err))
					scope.Metrics.TopicDone("failed")
					fail(topic, err)
					return
				}

				scope.ForTopic(topic).Logger().Info("topic collected", zap.Int("entries", len(got)))
				scope.Metrics.TopicDone("succeeded")

				mu.Lock()
				defer mu.Unlock()
				entries = append(entries, got...)
				succeeded = append(succeeded, topic)
			}(topic)
		}
	}

	wg.Wait()
	return entries, succeeded, failed
}

// enrichAll processes the entries in sequential chunks. A chunk failure is
// recorded and the next chunk proceeds; cancellation stops the run before
// the next chunk starts.
func (s *Scheduler) enrichAll(ctx context.Context, scope newsharvest.Scope, entries []newsharvest.ListingEntry, report *Report) error {
	index := 0
	for chunk := range slices.Chunk(entries, s.cfg.DetailBatchSize) {
		if err := ctx.Err(); err != nil {
			scope.Logger().Warn("run cancelled, not scheduling further chunks", zap.Int("next_chunk", index))
			return err
		}

		log := scope.Logger().With(zap.Int("chunk", index), zap.Int("size", len(chunk)))

		records, err := s.EnrichChunk(ctx, scope, chunk)
		if err == nil {
			err = s.sink.AppendBatch(ctx, records)
			if err != nil {
				err = fmt.Errorf("append batch: %w", err)
			}
		}

		if err != nil {
			log.Error("chunk aborted", zap.Error(err))
			scope.Metrics.ChunkFailed()
			report.ChunkFailures = append(report.ChunkFailures, ChunkFailure{Index: index, Size: len(chunk), Err: err})
			index++
			continue
		}

		scope.Metrics.BatchWritten()
		report.BatchesWritten++
		report.RecordsWritten += len(records)
		for _, r := range records {
			if r.Partial {
				report.PartialRecords++
			}
		}
		log.Debug("batch written")
		index++
	}

	return nil
}

// EnrichChunk enriches every entry of chunk concurrently and returns the
// records in entry order. If any entry fails, no records are returned and
// the error joins every failure.
func (s *Scheduler) EnrichChunk(ctx context.Context, scope newsharvest.Scope, chunk []newsharvest.ListingEntry) ([]newsharvest.EnrichedRecord, error) {
	records := make([]newsharvest.EnrichedRecord, len(chunk))
	errs := make([]error, len(chunk))

	var wg sync.WaitGroup
	for i, entry := range chunk {
		wg.Add(1)
		go func(i int, entry newsharvest.ListingEntry) {
			defer wg.Done()
			records[i], errs[i] = s.enricher.Enrich(ctx, scope, entry)
		}(i, entry)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return records, nil
}
