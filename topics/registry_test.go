package topics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/newsharvest"
)

const (
	testSite = "https://www.example.com/"
	testAPI  = "https://api.example.com/collection/"
)

const testRegistry = `
aliases:
  /topics/abc123: big-story
sections:
  - name: news
    refs:
      - {path: /topics/abc123, collection: c-1}
      - {path: /world/africa, collection: c-2}
      - {path: /topics/nofeed}
  - name: business
    refs:
      - {path: /, collection: c-3}
      - {path: /c-suite, collection: c-3}
  - name: sport
    refs:
      - {path: /football, feed: "https://feeds.example.com/football.xml"}
  - name: other
    disabled: true
    refs:
      - {path: /market-data, collection: c-9}
`

func parseTestRegistry(t *testing.T) *Registry {
	r, err := Parse([]byte(testRegistry), testSite, testAPI)
	require.NoError(t, err)
	return r
}

// TestRegistry_Topics verifies the expansion of every ref
func TestRegistry_Topics(t *testing.T) {
	r := parseTestRegistry(t)

	assert.Equal(t, []newsharvest.TopicRef{
		{
			Reference:   "https://www.example.com/news/topics/abc123",
			Endpoint:    "https://api.example.com/collection/c-1",
			Category:    "news",
			Subcategory: "big-story",
			Kind:        newsharvest.TopicAPI,
		},
		{
			Reference:   "https://www.example.com/news/world/africa",
			Endpoint:    "https://api.example.com/collection/c-2",
			Category:    "news",
			Subcategory: "africa",
			Kind:        newsharvest.TopicAPI,
		},
		{
			Reference:   "https://www.example.com/business/",
			Endpoint:    "https://api.example.com/collection/c-3",
			Category:    "business",
			Subcategory: "business",
			Kind:        newsharvest.TopicAPI,
		},
		{
			Reference:   "https://www.example.com/business/c-suite",
			Endpoint:    "https://api.example.com/collection/c-3",
			Category:    "business",
			Subcategory: "c-suite",
			Kind:        newsharvest.TopicAPI,
		},
		{
			Reference:   "https://www.example.com/sport/football",
			Endpoint:    "https://feeds.example.com/football.xml",
			Category:    "sport",
			Subcategory: "football",
			Kind:        newsharvest.TopicFeed,
		},
	}, r.Topics())
}

// TestRegistry_Unreachable verifies refs without collection or feed are
// set aside
func TestRegistry_Unreachable(t *testing.T) {
	r := parseTestRegistry(t)

	assert.Equal(t, []Unreachable{{
		Reference:   "https://www.example.com/news/topics/nofeed",
		Category:    "news",
		Subcategory: "nofeed",
	}}, r.Unreachable())
}

// TestRegistry_SubcategoriesNeverEmpty verifies every topic carries both
// labels
func TestRegistry_SubcategoriesNeverEmpty(t *testing.T) {
	for _, topic := range parseTestRegistry(t).Topics() {
		assert.NotEmpty(t, topic.Category)
		assert.NotEmpty(t, topic.Subcategory)
	}
}

func TestRegistry_Select(t *testing.T) {
	r := parseTestRegistry(t)

	all, err := r.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	business, err := r.Select([]string{"business"})
	require.NoError(t, err)
	assert.Len(t, business, 2)

	picked, err := r.Select([]string{"sport/football", "news/africa", "news/africa"})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "africa", picked[0].Subcategory, "file order is kept")
	assert.Equal(t, "football", picked[1].Subcategory)

	_, err = r.Select([]string{"other/market-data"})
	assert.ErrorIs(t, err, ErrUnknownTopic, "disabled sections cannot be selected")
}

func TestRegistry_MissingSlashes(t *testing.T) {
	r, err := Parse([]byte(testRegistry), "https://www.example.com", "https://api.example.com/collection")
	require.NoError(t, err)

	topic := r.Topics()[0]
	assert.Equal(t, "https://www.example.com/news/topics/abc123", topic.Reference)
	assert.Equal(t, "https://api.example.com/collection/c-1", topic.Endpoint)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "bad yaml", doc: "sections: [unclosed"},
		{name: "unnamed section", doc: "sections:\n  - refs:\n      - {path: /a, collection: x}\n"},
		{name: "ref without path", doc: "sections:\n  - name: news\n    refs:\n      - {collection: x}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), testSite, testAPI)
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testRegistry), 0o600))

	r, err := Load(path, testSite, testAPI)
	require.NoError(t, err)
	assert.Len(t, r.Topics(), 5)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), testSite, testAPI)
	assert.Error(t, err)
}

// TestLoad_ShippedRegistry verifies the registry file in the repository
func TestLoad_ShippedRegistry(t *testing.T) {
	r, err := Load(filepath.Join("..", "topics.yaml"), "https://www.bbc.com/", "https://web-cdn.api.bbci.co.uk/xd/content-collection/")
	require.NoError(t, err)

	topics := r.Topics()
	require.NotEmpty(t, topics)
	assert.Equal(t, "https://www.bbc.com/news/topics/c2vdnvdg6xxt", topics[0].Reference)
	assert.Equal(t, "isreal-gaza_war", topics[0].Subcategory)

	for _, topic := range topics {
		assert.NotEqual(t, "other", topic.Category)
		assert.NotEmpty(t, topic.Subcategory)
	}
	assert.NotEmpty(t, r.Unreachable())
}
