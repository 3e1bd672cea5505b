package newsharvest

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TopicKind selects how a topic's listing is collected.
type TopicKind string

const (
	// TopicAPI topics are walked page by page through the collection API.
	TopicAPI TopicKind = "api"
	// TopicFeed topics have no collection API and are read from an RSS or
	// Atom feed instead.
	TopicFeed TopicKind = "feed"
)

// TopicRef is one collectable sub-reference of a topic section, as produced
// by the topic registry.
type TopicRef struct {
	Reference   string    `json:"reference" yaml:"reference"`
	Endpoint    string    `json:"endpoint" yaml:"endpoint"`
	Category    string    `json:"category" yaml:"category"`
	Subcategory string    `json:"subcategory" yaml:"subcategory"`
	Kind        TopicKind `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// String returns "category/subcategory", the label used in logs and
// metrics.
func (t TopicRef) String() string {
	return t.Category + "/" + t.Subcategory
}

// ListingItem is one item of a listing API page. Fields missing from the
// payload (or sent as null) are nil; use the OrEmpty accessors to read them.
type ListingItem struct {
	Path            *string `json:"path"`
	Title           *string `json:"title"`
	Summary         *string `json:"summary"`
	LastPublishedAt *string `json:"lastPublishedAt"`

	// Raw keeps the item exactly as the API sent it.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the typed fields and keeps a copy of the raw item.
func (i *ListingItem) UnmarshalJSON(data []byte) error {
	type plain ListingItem
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*i = ListingItem(p)
	i.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// PathOrEmpty returns the detail-page path or "".
func (i ListingItem) PathOrEmpty() string { return orEmpty(i.Path) }

// TitleOrEmpty returns the title or "".
func (i ListingItem) TitleOrEmpty() string { return orEmpty(i.Title) }

// SummaryOrEmpty returns the summary or "".
func (i ListingItem) SummaryOrEmpty() string { return orEmpty(i.Summary) }

// PublishedOrEmpty returns the last-published timestamp or "".
func (i ListingItem) PublishedOrEmpty() string { return orEmpty(i.LastPublishedAt) }

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ListingEntry is a listing item tagged with the category and subcategory
// of the topic it was collected from. Entries are not modified after
// creation.
type ListingEntry struct {
	Item        ListingItem
	Category    string
	Subcategory string
}

// NewListingEntry copies the topic's labels onto item.
func NewListingEntry(item ListingItem, topic TopicRef) ListingEntry {
	return ListingEntry{
		Item:        item,
		Category:    topic.Category,
		Subcategory: topic.Subcategory,
	}
}

// EnrichedRecord is the output unit: listing metadata combined with the
// content parsed from the detail page. Images, Authors and TextBlocks are
// never nil.
type EnrichedRecord struct {
	ID          uuid.UUID `json:"id"`
	Category    string    `json:"category"`
	Subcategory string    `json:"subcategory"`
	Title       string    `json:"title"`
	Subtitle    string    `json:"subtitle"`
	PublishedAt string    `json:"published_at"`
	URL         string    `json:"url"`
	Images      []string  `json:"images"`
	Authors     []string  `json:"authors"`
	TextBlocks  []string  `json:"text_blocks"`

	// Partial is set when the detail page could not be fetched and only the
	// listing fields are populated.
	Partial   bool      `json:"partial"`
	FetchedAt time.Time `json:"fetched_at"`
}

// NewEnrichedRecord builds a record holding only the listing fields of
// entry, with empty content sequences.
func NewEnrichedRecord(entry ListingEntry, pageURL string) EnrichedRecord {
	return EnrichedRecord{
		ID:          uuid.New(),
		Category:    entry.Category,
		Subcategory: entry.Subcategory,
		Title:       entry.Item.TitleOrEmpty(),
		Subtitle:    entry.Item.SummaryOrEmpty(),
		PublishedAt: entry.Item.PublishedOrEmpty(),
		URL:         pageURL,
		Images:      []string{},
		Authors:     []string{},
		TextBlocks:  []string{},
		FetchedAt:   time.Now().UTC(),
	}
}

// WithContent returns a copy of r carrying the given detail-page content.
func (r EnrichedRecord) WithContent(images, authors, textBlocks []string) EnrichedRecord {
	r.Images = nonNil(images)
	r.Authors = nonNil(authors)
	r.TextBlocks = nonNil(textBlocks)
	return r
}

// AsPartial returns a copy of r flagged as partial.
func (r EnrichedRecord) AsPartial() EnrichedRecord {
	r.Partial = true
	return r
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
