// Package enrich turns listing entries into enriched records by fetching and
// parsing their detail pages.
package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pevans/newsharvest"
	"github.com/pevans/newsharvest/extract"
)

// maxDetailBytes limits the size of one detail page.
const maxDetailBytes = 16 * 1024 * 1024

// FieldExtractor parses a detail page.
type FieldExtractor interface {
	Parse(r io.Reader) (extract.Fields, error)
}

// Enricher fetches detail pages over a shared HTTP client.
type Enricher struct {
	client    *http.Client
	base      *url.URL
	extractor FieldExtractor
	userAgent string
}

// New creates an enricher resolving entry paths against baseURL. A nil
// client uses http.DefaultClient.
func New(client *http.Client, baseURL string, extractor FieldExtractor, userAgent string) (*Enricher, error) {
	if client == nil {
		client = http.DefaultClient
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %s: %w", baseURL, err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base URL %s is not absolute", baseURL)
	}

	return &Enricher{
		client:    client,
		base:      base,
		extractor: extractor,
		userAgent: userAgent,
	}, nil
}

// DetailURL joins the base address with the entry's path. Absolute paths,
// such as feed links, are returned unchanged.
func (e *Enricher) DetailURL(entry newsharvest.ListingEntry) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(entry.Item.PathOrEmpty()))
	if err != nil {
		return "", fmt.Errorf("invalid entry path: %w", err)
	}
	return e.base.ResolveReference(ref).String(), nil
}

// Enrich builds the record for entry. A non-2xx detail page, a missing path
// or an unparseable path yields a partial record instead of an error. Only
// transport failures and cancellation are returned as errors.
func (e *Enricher) Enrich(ctx context.Context, scope newsharvest.Scope, entry newsharvest.ListingEntry) (newsharvest.EnrichedRecord, error) {
	scope = scope.ForEntry(entry)
	log := scope.Logger()

	if entry.Item.PathOrEmpty() == "" {
		log.Warn("listing entry has no path, keeping listing fields only")
		return e.partial(scope, newsharvest.NewEnrichedRecord(entry, "")), nil
	}

	pageURL, err := e.DetailURL(entry)
	if err != nil {
		log.Warn("skipping detail fetch", zap.Error(err))
		return e.partial(scope, newsharvest.NewEnrichedRecord(entry, "")), nil
	}
	record := newsharvest.NewEnrichedRecord(entry, pageURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return newsharvest.EnrichedRecord{}, &newsharvest.FetchError{Kind: newsharvest.Fatal, URL: pageURL, Err: err}
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	scope.Metrics.ObserveFetch("detail", time.Since(start).Seconds())
	if err != nil {
		log.Error("detail fetch failed", zap.Error(err))
		return newsharvest.EnrichedRecord{}, &newsharvest.FetchError{Kind: newsharvest.KindOf(err), URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	if !newsharvest.IsSuccess(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		log.Warn("detail page unavailable, keeping listing fields only", zap.Int("status", resp.StatusCode))
		return e.partial(scope, record), nil
	}

	fields, err := e.extractor.Parse(io.LimitReader(resp.Body, maxDetailBytes))
	if err != nil {
		log.Error("failed to read detail page", zap.Error(err))
		return newsharvest.EnrichedRecord{}, &newsharvest.FetchError{Kind: newsharvest.Transient, URL: pageURL, Err: err}
	}

	log.Debug("parsed detail page",
		zap.Int("images", len(fields.Images)),
		zap.Int("authors", len(fields.Authors)),
		zap.Int("text_blocks", len(fields.TextBlocks)),
	)
	scope.Metrics.RecordEnriched(false)
	return record.WithContent(fields.Images, fields.Authors, fields.TextBlocks), nil
}

func (e *Enricher) partial(scope newsharvest.Scope, record newsharvest.EnrichedRecord) newsharvest.EnrichedRecord {
	scope.Metrics.RecordEnriched(true)
	return record.AsPartial()
}
