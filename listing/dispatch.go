package listing

import (
	"context"
	"fmt"

	"github.com/pevans/newsharvest"
)

// Dispatcher routes each topic to the collector for its kind.
type Dispatcher struct {
	API  *Collector
	Feed *FeedCollector
}

// CollectAll collects topic with the API collector, or with the feed
// collector for feed topics.
func (d Dispatcher) CollectAll(ctx context.Context, scope newsharvest.Scope, topic newsharvest.TopicRef) ([]newsharvest.ListingEntry, error) {
	switch topic.Kind {
	case newsharvest.TopicFeed:
		if d.Feed == nil {
			return nil, fmt.Errorf("topic %s: no feed collector configured", topic)
		}
		return d.Feed.CollectAll(ctx, scope, topic)
	case newsharvest.TopicAPI, "":
		if d.API == nil {
			return nil, fmt.Errorf("topic %s: no listing collector configured", topic)
		}
		return d.API.CollectAll(ctx, scope, topic)
	default:
		return nil, fmt.Errorf("topic %s: unknown topic kind %q", topic, topic.Kind)
	}
}
