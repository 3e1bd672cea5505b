package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/pevans/newsharvest"
)

// FeedCollector lists topics that have no collection API by reading their
// RSS or Atom feed. gofeed detects and normalizes both formats. A feed is a
// single page, so there is no pagination and no retry.
type FeedCollector struct {
	client    *http.Client
	userAgent string
}

// NewFeedCollector creates a feed collector. A nil client uses
// http.DefaultClient.
func NewFeedCollector(client *http.Client, userAgent string) *FeedCollector {
	if client == nil {
		client = http.DefaultClient
	}
	return &FeedCollector{client: client, userAgent: userAgent}
}

// CollectAll fetches the feed at topic.Endpoint and converts every item to
// a listing entry whose path is the item link.
func (f *FeedCollector) CollectAll(ctx context.Context, scope newsharvest.Scope, topic newsharvest.TopicRef) ([]newsharvest.ListingEntry, error) {
	scope = scope.ForTopic(topic)

	feed, err := f.fetch(ctx, topic.Endpoint)
	if err != nil {
		scope.Logger().Error("feed fetch failed", zap.Error(err))
		return nil, fmt.Errorf("topic %s feed: %w", topic, err)
	}

	entries := make([]newsharvest.ListingEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entries = append(entries, newsharvest.NewListingEntry(FeedItemToListingItem(item), topic))
	}

	scope.Metrics.PageFetched(topic.String())
	scope.Logger().Debug("fetched feed", zap.Int("items", len(entries)))
	return entries, nil
}

func (f *FeedCollector) fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, &newsharvest.FetchError{Kind: newsharvest.Fatal, URL: feedURL, Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &newsharvest.FetchError{Kind: newsharvest.KindOf(err), URL: feedURL, Err: err}
	}
	defer resp.Body.Close()

	if !newsharvest.IsSuccess(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &newsharvest.FetchError{
			Kind:       newsharvest.StatusKind(resp.StatusCode),
			StatusCode: resp.StatusCode,
			URL:        feedURL,
		}
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, &newsharvest.FetchError{Kind: newsharvest.Fatal, URL: feedURL, Err: fmt.Errorf("failed to parse feed: %w", err)}
	}

	return feed, nil
}

// FeedItemToListingItem maps an RSS or Atom item onto the listing schema.
// Link becomes the path, Description the summary, and the publish (or
// update) date is rendered as RFC 3339.
func FeedItemToListingItem(item *gofeed.Item) newsharvest.ListingItem {
	var li newsharvest.ListingItem

	if item.Link != "" {
		li.Path = ptr(item.Link)
	}
	if item.Title != "" {
		li.Title = ptr(item.Title)
	}
	if item.Description != "" {
		li.Summary = ptr(item.Description)
	}

	switch {
	case item.PublishedParsed != nil:
		li.LastPublishedAt = ptr(item.PublishedParsed.UTC().Format(time.RFC3339))
	case item.UpdatedParsed != nil:
		li.LastPublishedAt = ptr(item.UpdatedParsed.UTC().Format(time.RFC3339))
	case item.Published != "":
		li.LastPublishedAt = ptr(item.Published)
	}

	if raw, err := json.Marshal(item); err == nil {
		li.Raw = raw
	}

	return li
}

func ptr(s string) *string {
	return &s
}
