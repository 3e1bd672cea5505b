package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/newsharvest"
	"github.com/pevans/newsharvest/metrics"
)

// Test helper: a collector returning canned entries per topic
type fakeCollector struct {
	entries map[string][]newsharvest.ListingEntry
	errs    map[string]error
	delay   map[string]time.Duration

	inFlight atomic.Int32
	peak     atomic.Int32
	// before, when set, runs at the start of every call
	before func()
}

func (c *fakeCollector) CollectAll(ctx context.Context, scope newsharvest.Scope, topic newsharvest.TopicRef) ([]newsharvest.ListingEntry, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	updatePeak(&c.peak, n)

	if c.before != nil {
		c.before()
	}
	if d := c.delay[topic.String()]; d > 0 {
		time.Sleep(d)
	}
	if err := c.errs[topic.String()]; err != nil {
		return nil, err
	}
	return c.entries[topic.String()], nil
}

// Test helper: an enricher copying the path into the record title
type fakeEnricher struct {
	fail    map[string]error
	partial map[string]bool
	delay   func(path string) time.Duration

	inFlight atomic.Int32
	peak     atomic.Int32
}

func (e *fakeEnricher) Enrich(ctx context.Context, scope newsharvest.Scope, entry newsharvest.ListingEntry) (newsharvest.EnrichedRecord, error) {
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	updatePeak(&e.peak, n)

	path := entry.Item.PathOrEmpty()
	if e.delay != nil {
		time.Sleep(e.delay(path))
	}
	if err := e.fail[path]; err != nil {
		return newsharvest.EnrichedRecord{}, err
	}

	record := newsharvest.NewEnrichedRecord(entry, path)
	record.Title = path
	if e.partial[path] {
		record = record.AsPartial()
	}
	return record, nil
}

// Test helper: a sink recording every batch
type fakeSink struct {
	mu       sync.Mutex
	batches  [][]newsharvest.EnrichedRecord
	failOn   int
	inFlight atomic.Int32
	overlap  atomic.Bool
	after    func(call int)
}

func (s *fakeSink) AppendBatch(ctx context.Context, records []newsharvest.EnrichedRecord) error {
	if s.inFlight.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.inFlight.Add(-1)

	s.mu.Lock()
	call := len(s.batches) + 1
	s.batches = append(s.batches, records)
	s.mu.Unlock()

	if s.after != nil {
		s.after(call)
	}
	if s.failOn == call {
		return errors.New("disk full")
	}
	return nil
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) titles() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]string, 0, len(s.batches))
	for _, batch := range s.batches {
		titles := make([]string, 0, len(batch))
		for _, r := range batch {
			titles = append(titles, r.Title)
		}
		out = append(out, titles)
	}
	return out
}

func updatePeak(peak *atomic.Int32, n int32) {
	for {
		cur := peak.Load()
		if n <= cur || peak.CompareAndSwap(cur, n) {
			return
		}
	}
}

func topic(category, subcategory string) newsharvest.TopicRef {
	return newsharvest.TopicRef{
		Reference:   "https://www.example.com/" + category + "/" + subcategory,
		Endpoint:    "https://api.example.com/" + subcategory,
		Category:    category,
		Subcategory: subcategory,
	}
}

func entriesFor(t newsharvest.TopicRef, n int) []newsharvest.ListingEntry {
	out := make([]newsharvest.ListingEntry, 0, n)
	for i := range n {
		path := fmt.Sprintf("/%s/%d", t.Subcategory, i)
		out = append(out, newsharvest.NewListingEntry(newsharvest.ListingItem{Path: &path}, t))
	}
	return out
}

// TestRun_ChunksFiveEntriesIntoThreeBatches verifies chunk sizes [2,2,1]
func TestRun_ChunksFiveEntriesIntoThreeBatches(t *testing.T) {
	business := topic("business", "business")
	collector := &fakeCollector{entries: map[string][]newsharvest.ListingEntry{
		business.String(): entriesFor(business, 5),
	}}
	sink := &fakeSink{}
	s := New(collector, &fakeEnricher{}, sink, Config{DetailBatchSize: 2})

	report, err := s.Run(context.Background(), newsharvest.NewScope(nil, nil), []newsharvest.TopicRef{business})
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"/business/0", "/business/1"},
		{"/business/2", "/business/3"},
		{"/business/4"},
	}, sink.titles())
	assert.Equal(t, 3, report.BatchesWritten)
	assert.Equal(t, 5, report.RecordsWritten)
	assert.Equal(t, 5, report.EntriesListed)
	assert.Equal(t, []newsharvest.TopicRef{business}, report.TopicsSucceeded)
	assert.Empty(t, report.TopicsFailed)
	assert.Empty(t, report.ChunkFailures)
	assert.NoError(t, report.Err())
}

// TestRun_BatchOrderMatchesChunkOrder verifies order is kept when later
// entries finish first
func TestRun_BatchOrderMatchesChunkOrder(t *testing.T) {
	world := topic("news", "world")
	collector := &fakeCollector{entries: map[string][]newsharvest.ListingEntry{
		world.String(): entriesFor(world, 8),
	}}
	enricher := &fakeEnricher{delay: func(path string) time.Duration {
		var i int
		_, _ = fmt.Sscanf(path, "/world/%d", &i)
		return time.Duration(8-i) * 5 * time.Millisecond
	}}
	sink := &fakeSink{}

	_, err := New(collector, enricher, sink, Config{DetailBatchSize: 4}).
		Run(context.Background(), newsharvest.NewScope(nil, nil), []newsharvest.TopicRef{world})
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"/world/0", "/world/1", "/world/2", "/world/3"},
		{"/world/4", "/world/5", "/world/6", "/world/7"},
	}, sink.titles())
}

// TestRun_TopicFailureIsIsolated verifies a failed topic does not stop the
// others
func TestRun_TopicFailureIsIsolated(t *testing.T) {
	business := topic("business", "business")
	culture := topic("culture", "culture")
	travel := topic("travel", "travel")
	boom := errors.New("listing exploded")

	collector := &fakeCollector{
		entries: map[string][]newsharvest.ListingEntry{
			business.String(): entriesFor(business, 2),
			travel.String():   entriesFor(travel, 1),
		},
		errs: map[string]error{culture.String(): boom},
	}
	sink := &fakeSink{}
	rec := metrics.NewRecorder()

	report, err := New(collector, &fakeEnricher{}, sink, Config{DetailBatchSize: 10}).
		Run(context.Background(), newsharvest.NewScope(nil, rec), []newsharvest.TopicRef{business, culture, travel})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTopicFailed)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrChunkFailed)

	require.Len(t, report.TopicsFailed, 1)
	assert.Equal(t, culture, report.TopicsFailed[0].Topic)
	assert.ElementsMatch(t, []newsharvest.TopicRef{business, travel}, report.TopicsSucceeded)
	assert.Equal(t, 3, report.RecordsWritten)
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.TopicsCompleted.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.TopicsCompleted.WithLabelValues("failed")))
}

// TestCollectListings_CompletionOrder verifies entries are flattened in the
// order topics finish
func TestCollectListings_CompletionOrder(t *testing.T) {
	slow := topic("news", "slow")
	fast := topic("news", "fast")
	collector := &fakeCollector{
		entries: map[string][]newsharvest.ListingEntry{
			slow.String(): entriesFor(slow, 1),
			fast.String(): entriesFor(fast, 1),
		},
		delay: map[string]time.Duration{slow.String(): 100 * time.Millisecond},
	}

	entries, succeeded, failed := New(collector, nil, nil, Config{}).
		CollectListings(context.Background(), newsharvest.NewScope(nil, nil), []newsharvest.TopicRef{slow, fast})

	assert.Empty(t, failed)
	assert.Equal(t, []newsharvest.TopicRef{fast, slow}, succeeded)
	require.Len(t, entries, 2)
	assert.Equal(t, "fast", entries[0].Subcategory)
	assert.Equal(t, "slow", entries[1].Subcategory)
}

// TestCollectListings_DefaultRunsAllTopicsAtOnce verifies the default
// concurrency equals the number of topics
func TestCollectListings_DefaultRunsAllTopicsAtOnce(t *testing.T) {
	topics := []newsharvest.TopicRef{topic("a", "1"), topic("b", "2"), topic("c", "3"), topic("d", "4")}

	var started sync.WaitGroup
	started.Add(len(topics))
	allStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(allStarted)
	}()

	collector := &fakeCollector{before: func() {
		started.Done()
		select {
		case <-allStarted:
		case <-time.After(2 * time.Second):
		}
	}}

	_, succeeded, _ := New(collector, nil, nil, Config{}).
		CollectListings(context.Background(), newsharvest.NewScope(nil, nil), topics)

	assert.Len(t, succeeded, len(topics))
	assert.Equal(t, int32(len(topics)), collector.peak.Load())
}

// TestCollectListings_BoundedConcurrency verifies ListingConcurrency caps the
// topics in flight
func TestCollectListings_BoundedConcurrency(t *testing.T) {
	var topics []newsharvest.TopicRef
	delay := map[string]time.Duration{}
	for i := range 6 {
		tp := topic("news", fmt.Sprintf("t%d", i))
		topics = append(topics, tp)
		delay[tp.String()] = 20 * time.Millisecond
	}
	collector := &fakeCollector{delay: delay}

	_, succeeded, failed := New(collector, nil, nil, Config{ListingConcurrency: 2}).
		CollectListings(context.Background(), newsharvest.NewScope(nil, nil), topics)

	assert.Len(t, succeeded, 6)
	assert.Empty(t, failed)
	assert.LessOrEqual(t, collector.peak.Load(), int32(2))
}

// TestCollectListings_CancelledBeforeStart verifies unscheduled topics are
// reported as failed
func TestCollectListings_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	topics := []newsharvest.TopicRef{topic("a", "1"), topic("b", "2")}
	_, succeeded, failed := New(&fakeCollector{}, nil, nil, Config{ListingConcurrency: 1}).
		CollectListings(ctx, newsharvest.NewScope(nil, nil), topics)

	assert.Equal(t, 2, len(succeeded)+len(failed))
	for _, f := range failed {
		assert.ErrorIs(t, f.Err, context.Canceled)
	}
}

// TestRun_DetailConcurrencyCappedByBatchSize verifies in-flight detail
// fetches never exceed the batch size
func TestRun_DetailConcurrencyCappedByBatchSize(t *testing.T) {
	world := topic("news", "world")
	collector := &fakeCollector{entries: map[string][]newsharvest.ListingEntry{
		world.String(): entriesFor(world, 25),
	}}
	enricher := &fakeEnricher{delay: func(string) time.Duration { return 10 * time.Millisecond }}
	sink := &fakeSink{}

	report, err := New(collector, enricher, sink, Config{DetailBatchSize: 4}).
		Run(context.Background(), newsharvest.NewScope(nil, nil), []newsharvest.TopicRef{world})
	require.NoError(t, err)

	assert.LessOrEqual(t, enricher.peak.Load(), int32(4))
	assert.Equal(t, 7, report.BatchesWritten)
	assert.False(t, sink.overlap.Load(), "sink calls never overlap")
	for i, batch := range sink.batches {
		if i < 6 {
			assert.Len(t, batch, 4)
		} else {
			assert.Len(t, batch, 1)
		}
	}
}

// TestRun_ChunkFailureSkipsOnlyThatBatch verifies a propagated enrichment
// error aborts its chunk and later chunks still run
func TestRun_ChunkFailureSkipsOnlyThatBatch(t *testing.T) {
	world := topic("news", "world")
	collector := &fakeCollector{entries: map[string][]newsharvest.ListingEntry{
		world.String(): entriesFor(world, 6),
	}}
	reset := errors.New("connection reset")
	enricher := &fakeEnricher{fail: map[string]error{"/world/3": reset}}
	sink := &fakeSink{}
	rec := metrics.NewRecorder()

	report, err := New(collector, enricher, sink, Config{DetailBatchSize: 2}).
		Run(context.Background(), newsharvest.NewScope(nil, rec), []newsharvest.TopicRef{world})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChunkFailed)
	assert.ErrorIs(t, err, reset)

	assert.Equal(t, [][]string{
		{"/world/0", "/world/1"},
		{"/world/4", "/world/5"},
	}, sink.titles())
	require.Len(t, report.ChunkFailures, 1)
	assert.Equal(t, 1, report.ChunkFailures[0].Index)
	assert.Equal(t, 2, report.ChunkFailures[0].Size)
	assert.Equal(t, 2, report.BatchesWritten)
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.ChunkFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(rec.BatchesWritten))
}

// TestRun_SinkFailureIsChunkFailure verifies a failed append is reported
func TestRun_SinkFailureIsChunkFailure(t *testing.T) {
	world := topic("news", "world")
	collector := &fakeCollector{entries: map[string][]newsharvest.ListingEntry{
		world.String(): entriesFor(world, 3),
	}}
	sink := &fakeSink{failOn: 1}

	report, err := New(collector, &fakeEnricher{}, sink, Config{DetailBatchSize: 2}).
		Run(context.Background(), newsharvest.NewScope(nil, nil), []newsharvest.TopicRef{world})

	assert.ErrorIs(t, err, ErrChunkFailed)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1, report.BatchesWritten)
	assert.Equal(t, 1, report.RecordsWritten)
	require.Len(t, report.ChunkFailures, 1)
	assert.Equal(t, 0, report.ChunkFailures[0].Index)
}

// TestRun_PartialRecordsAreWritten verifies partial records stay in their
// batch
func TestRun_PartialRecordsAreWritten(t *testing.T) {
	world := topic("news", "world")
	collector := &fakeCollector{entries: map[string][]newsharvest.ListingEntry{
		world.String(): entriesFor(world, 3),
	}}
	enricher := &fakeEnricher{partial: map[string]bool{"/world/1": true}}
	sink := &fakeSink{}

	report, err := New(collector, enricher, sink, Config{}).
		Run(context.Background(), newsharvest.NewScope(nil, nil), []newsharvest.TopicRef{world})
	require.NoError(t, err)

	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 3)
	assert.True(t, sink.batches[0][1].Partial)
	assert.Equal(t, 1, report.PartialRecords)
}

// TestRun_StopsBetweenChunksWhenCancelled verifies no further chunk is
// scheduled after cancellation
func TestRun_StopsBetweenChunksWhenCancelled(t *testing.T) {
	world := topic("news", "world")
	collector := &fakeCollector{entries: map[string][]newsharvest.ListingEntry{
		world.String(): entriesFor(world, 6),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &fakeSink{after: func(call int) { cancel() }}

	report, err := New(collector, &fakeEnricher{}, sink, Config{DetailBatchSize: 2}).
		Run(ctx, newsharvest.NewScope(nil, nil), []newsharvest.TopicRef{world})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.BatchesWritten)
	assert.Len(t, sink.batches, 1)
}

// TestRun_NoTopics verifies an empty run writes nothing
func TestRun_NoTopics(t *testing.T) {
	sink := &fakeSink{}

	report, err := New(&fakeCollector{}, &fakeEnricher{}, sink, Config{}).
		Run(context.Background(), newsharvest.NewScope(nil, nil), nil)

	require.NoError(t, err)
	assert.Zero(t, report.BatchesWritten)
	assert.Empty(t, sink.batches)
}
