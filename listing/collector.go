// Package listing walks paginated collection APIs and turns their items into
// listing entries.
package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pevans/newsharvest"
	"github.com/pevans/newsharvest/retry"
)

// DefaultPageParam is the query parameter carrying the page number.
const DefaultPageParam = "page"

// maxPageBytes limits the size of one listing response.
const maxPageBytes = 8 * 1024 * 1024

// ErrMalformedPage is wrapped by errors for listing responses without a
// data array.
var ErrMalformedPage = errors.New("listing response has no data array")

// Config holds the request settings of the collector.
type Config struct {
	// Origin is sent as the Origin header, usually the site base address.
	Origin    string
	UserAgent string
	PageParam string
}

// page is the envelope of a listing API response.
type page struct {
	Data []newsharvest.ListingItem `json:"data"`
}

// Collector fetches listing pages over a shared HTTP client.
type Collector struct {
	client *http.Client
	policy retry.Policy
	cfg    Config
	sleep  func(context.Context, time.Duration) error
}

// NewCollector creates a collector. A nil client uses http.DefaultClient.
func NewCollector(client *http.Client, policy retry.Policy, cfg Config) *Collector {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.PageParam == "" {
		cfg.PageParam = DefaultPageParam
	}

	return &Collector{
		client: client,
		policy: policy,
		cfg:    cfg,
		sleep:  retry.Sleep,
	}
}

// Open starts a fresh cursor at page 0 for topic.
func (c *Collector) Open(scope newsharvest.Scope, topic newsharvest.TopicRef) *Cursor {
	return &Cursor{
		collector: c,
		topic:     topic,
		scope:     scope.ForTopic(topic),
	}
}

// Collect returns the topic's entries as a lazy sequence. Pages are fetched
// as the sequence is consumed. A failure is yielded once as the final
// element. The sequence is backed by a single cursor and cannot be replayed.
func (c *Collector) Collect(ctx context.Context, scope newsharvest.Scope, topic newsharvest.TopicRef) iter.Seq2[newsharvest.ListingEntry, error] {
	cur := c.Open(scope, topic)

	return func(yield func(newsharvest.ListingEntry, error) bool) {
		for {
			entries, ok := cur.Next(ctx)
			if !ok {
				if err := cur.Err(); err != nil {
					yield(newsharvest.ListingEntry{}, err)
				}
				return
			}

			for _, entry := range entries {
				if !yield(entry, nil) {
					return
				}
			}
		}
	}
}

// CollectAll drains the topic's listing. On error the entries gathered so
// far are discarded.
func (c *Collector) CollectAll(ctx context.Context, scope newsharvest.Scope, topic newsharvest.TopicRef) ([]newsharvest.ListingEntry, error) {
	var entries []newsharvest.ListingEntry
	for entry, err := range c.Collect(ctx, scope, topic) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Cursor is the page counter of one topic's collection. It only moves
// forward: page N+1 is requested after page N came back non-empty.
type Cursor struct {
	collector *Collector
	topic     newsharvest.TopicRef
	scope     newsharvest.Scope

	page int
	done bool
	err  error
}

// Page returns the number of the next page to fetch.
func (cur *Cursor) Page() int {
	return cur.page
}

// Err returns the error that ended the cursor, if any.
func (cur *Cursor) Err() error {
	return cur.err
}

// Next fetches the next page and returns its entries. It returns false once
// an empty page was seen or an error occurred; check Err to tell them apart.
func (cur *Cursor) Next(ctx context.Context) ([]newsharvest.ListingEntry, bool) {
	if cur.done {
		return nil, false
	}

	items, err := cur.fetchWithRetry(ctx)
	if err != nil {
		cur.done = true
		cur.err = err
		return nil, false
	}

	if len(items) == 0 {
		cur.scope.Logger().Debug("listing exhausted", zap.Int("pages", cur.page))
		cur.done = true
		return nil, false
	}

	entries := make([]newsharvest.ListingEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, newsharvest.NewListingEntry(item, cur.topic))
	}

	cur.scope.Metrics.PageFetched(cur.topic.String())
	cur.scope.Logger().Debug("fetched listing page",
		zap.Int("page", cur.page),
		zap.Int("items", len(items)),
	)

	cur.page++
	return entries, true
}

// fetchWithRetry requests the current page, re-issuing the same request
// while the policy allows it.
func (cur *Cursor) fetchWithRetry(ctx context.Context) ([]newsharvest.ListingItem, error) {
	c := cur.collector
	remaining := c.policy.MaxAttempts

	for {
		start := time.Now()
		items, err := c.fetchPage(ctx, cur.topic, cur.page)
		cur.scope.Metrics.ObserveFetch("listing", time.Since(start).Seconds())
		if err == nil {
			return items, nil
		}

		kind := newsharvest.KindOf(err)
		if kind == newsharvest.RateLimited {
			cur.scope.Metrics.RateLimitHit(cur.topic.String())
		}

		decision := c.policy.Decide(kind, remaining)
		if decision.Action == retry.Fail {
			if kind == newsharvest.RateLimited {
				cur.scope.Logger().Error("exceeded retry limit for rate-limited page", zap.Int("page", cur.page))
				return nil, fmt.Errorf("topic %s page %d: %w: %w", cur.topic, cur.page, newsharvest.ErrRetriesExhausted, err)
			}
			cur.scope.Logger().Error("listing fetch failed", zap.Int("page", cur.page), zap.Error(err))
			return nil, fmt.Errorf("topic %s page %d: %w", cur.topic, cur.page, err)
		}

		cur.scope.Logger().Warn("rate limited, retrying page",
			zap.Int("page", cur.page),
			zap.Duration("delay", decision.Delay),
			zap.Int("attempts_remaining", decision.Remaining),
		)
		remaining = decision.Remaining

		if err := c.sleep(ctx, decision.Delay); err != nil {
			return nil, fmt.Errorf("topic %s page %d: %w", cur.topic, cur.page, err)
		}
	}
}

// fetchPage performs one listing request.
func (c *Collector) fetchPage(ctx context.Context, topic newsharvest.TopicRef, pageNum int) ([]newsharvest.ListingItem, error) {
	pageURL, err := buildPageURL(topic.Endpoint, c.cfg.PageParam, pageNum)
	if err != nil {
		return nil, &newsharvest.FetchError{Kind: newsharvest.Fatal, URL: topic.Endpoint, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &newsharvest.FetchError{Kind: newsharvest.Fatal, URL: pageURL, Err: err}
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Referer", topic.Reference)
	if c.cfg.Origin != "" {
		req.Header.Set("Origin", c.cfg.Origin)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &newsharvest.FetchError{Kind: newsharvest.KindOf(err), URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	if !newsharvest.IsSuccess(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &newsharvest.FetchError{
			Kind:       newsharvest.StatusKind(resp.StatusCode),
			StatusCode: resp.StatusCode,
			URL:        pageURL,
		}
	}

	var p page
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageBytes)).Decode(&p); err != nil {
		return nil, &newsharvest.FetchError{Kind: newsharvest.Fatal, URL: pageURL, Err: fmt.Errorf("decode listing: %w", err)}
	}
	if p.Data == nil {
		return nil, &newsharvest.FetchError{Kind: newsharvest.Fatal, URL: pageURL, Err: ErrMalformedPage}
	}

	return p.Data, nil
}

// buildPageURL sets the page parameter on the endpoint, keeping any query
// it already carries.
func buildPageURL(endpoint, param string, pageNum int) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid listing endpoint %s: %w", endpoint, err)
	}

	query := parsed.Query()
	query.Set(param, strconv.Itoa(pageNum))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
