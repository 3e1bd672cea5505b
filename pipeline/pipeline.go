// Package pipeline assembles a collection run from configuration: topic
// registry, shared HTTP client, retry policy, collectors, enricher and sink.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/pevans/newsharvest"
	"github.com/pevans/newsharvest/config"
	"github.com/pevans/newsharvest/enrich"
	"github.com/pevans/newsharvest/extract"
	"github.com/pevans/newsharvest/listing"
	"github.com/pevans/newsharvest/metrics"
	"github.com/pevans/newsharvest/retry"
	"github.com/pevans/newsharvest/scheduler"
	"github.com/pevans/newsharvest/sink"
	"github.com/pevans/newsharvest/topics"
)

// Option overrides a collaborator that New would otherwise build from the
// configuration.
type Option func(*Pipeline)

// WithHTTPClient uses client for every fetch. The pipeline does not close
// its idle connections.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Pipeline) {
		p.client = client
		p.ownsClient = false
	}
}

// WithSink writes to s instead of the configured sinks. Close still closes
// it.
func WithSink(s newsharvest.Sink) Option {
	return func(p *Pipeline) { p.sink = s }
}

// WithRegistry uses r instead of loading topics.file.
func WithRegistry(r *topics.Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// Pipeline owns the shared HTTP client and the sink for the lifetime of one
// or more runs.
type Pipeline struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Recorder

	client     *http.Client
	ownsClient bool
	registry   *topics.Registry
	sink       newsharvest.Sink
	scheduler  *scheduler.Scheduler
}

// New builds a pipeline. A nil logger is replaced with a no-op logger and a
// nil recorder disables metrics.
func New(cfg *config.Config, log *zap.Logger, rec *metrics.Recorder, opts ...Option) (*Pipeline, error) {
	if log == nil {
		log = zap.NewNop()
	}

	p := &Pipeline{
		cfg:        cfg,
		log:        log,
		metrics:    rec,
		ownsClient: true,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		p.client = newHTTPClient(cfg)
	}

	if p.registry == nil {
		registry, err := topics.Load(cfg.Topics.File, cfg.Site.BaseURL, cfg.Site.APIURL)
		if err != nil {
			return nil, err
		}
		p.registry = registry
	}

	backoff, err := retry.NewBackoff(cfg.Listing.Backoff, cfg.Listing.RetryDelay, cfg.Listing.MaxDelay)
	if err != nil {
		return nil, err
	}
	policy := retry.Policy{MaxAttempts: cfg.Listing.MaxAttempts, Backoff: backoff}

	extractor, err := extract.New(cfg.Extract, cfg.Site.BaseURL)
	if err != nil {
		return nil, err
	}
	enricher, err := enrich.New(p.client, cfg.Site.BaseURL, extractor, cfg.Site.UserAgent)
	if err != nil {
		return nil, err
	}

	collector := listing.Dispatcher{
		API: listing.NewCollector(p.client, policy, listing.Config{
			Origin:    origin(cfg.Site.BaseURL),
			UserAgent: cfg.Site.UserAgent,
		}),
		Feed: listing.NewFeedCollector(p.client, cfg.Site.UserAgent),
	}

	if p.sink == nil {
		s, err := sink.Open(cfg.Sink.Kind, cfg.Sink.Paths())
		if err != nil {
			return nil, fmt.Errorf("failed to open sink: %w", err)
		}
		p.sink = s
	}

	p.scheduler = scheduler.New(collector, enricher, p.sink, scheduler.Config{
		ListingConcurrency: cfg.Listing.Concurrency,
		DetailBatchSize:    cfg.Detail.BatchSize,
	})

	return p, nil
}

// Run collects the topics matching selectors (all topics when empty).
func (p *Pipeline) Run(ctx context.Context, selectors []string) (scheduler.Report, error) {
	selected, err := p.registry.Select(selectors)
	if err != nil {
		return scheduler.Report{}, err
	}

	scope := newsharvest.NewScope(p.log, p.metrics)
	for _, u := range p.registry.Unreachable() {
		scope.Logger().Info("skipping reference without collection or feed",
			zap.String("reference", u.Reference),
			zap.String("category", u.Category),
			zap.String("subcategory", u.Subcategory),
		)
	}

	return p.scheduler.Run(ctx, scope, selected)
}

// Close closes the sink and releases the HTTP client's idle connections.
func (p *Pipeline) Close() error {
	var err error
	if p.sink != nil {
		err = p.sink.Close()
	}
	if p.ownsClient {
		p.client.CloseIdleConnections()
	}
	return err
}

// newHTTPClient builds the client shared by every fetch of a run. Idle
// connections per host are sized to the detail batch, the largest burst of
// concurrent requests to the site.
func newHTTPClient(cfg *config.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = max(cfg.Detail.BatchSize, transport.MaxIdleConnsPerHost)

	return &http.Client{
		Timeout:   cfg.HTTP.Timeout,
		Transport: transport,
	}
}

// origin reduces a site address to scheme and host, the form of the Origin
// header.
func origin(siteURL string) string {
	u, err := url.Parse(siteURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
