// Package topics expands the topic registry file into the topic references
// a collection run walks.
package topics

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pevans/newsharvest"
)

// ErrUnknownTopic is returned by Select when a selector matches no topic.
var ErrUnknownTopic = errors.New("no topic matches selector")

// Ref is one sub-reference of a section. Collection is the id of its listing
// API collection; Feed is an optional RSS or Atom URL used when there is no
// collection.
type Ref struct {
	Path       string `yaml:"path"`
	Collection string `yaml:"collection,omitempty"`
	Feed       string `yaml:"feed,omitempty"`
}

// Section groups the sub-references of one category.
type Section struct {
	Name     string `yaml:"name"`
	Disabled bool   `yaml:"disabled,omitempty"`
	Refs     []Ref  `yaml:"refs"`
}

// File is the structure of the topic registry file.
type File struct {
	// Aliases maps a sub-reference path to the subcategory label used
	// instead of the path's last segment.
	Aliases  map[string]string `yaml:"aliases"`
	Sections []Section         `yaml:"sections"`
}

// Unreachable is a sub-reference with neither a collection nor a feed.
type Unreachable struct {
	Reference   string
	Category    string
	Subcategory string
}

// Registry holds the expanded topics of a registry file.
type Registry struct {
	topics      []newsharvest.TopicRef
	unreachable []Unreachable
}

// Load reads and expands the registry file at path.
func Load(path, siteURL, apiURL string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topics file: %w", err)
	}

	return Parse(data, siteURL, apiURL)
}

// Parse expands a registry document.
func Parse(data []byte, siteURL, apiURL string) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse topics file: %w", err)
	}

	return New(f, siteURL, apiURL)
}

// New expands f. For each enabled section and each of its refs:
//
//	reference   = siteURL + section + path
//	endpoint    = apiURL + collection (or the feed URL)
//	category    = section name
//	subcategory = alias of path, else the last path segment, else the
//	              section name
func New(f File, siteURL, apiURL string) (*Registry, error) {
	siteURL = withSlash(siteURL)
	apiURL = withSlash(apiURL)

	r := &Registry{}
	for _, section := range f.Sections {
		if section.Name == "" {
			return nil, errors.New("topics file has a section without a name")
		}
		if section.Disabled {
			continue
		}

		for _, ref := range section.Refs {
			if ref.Path == "" {
				return nil, fmt.Errorf("section %s has a ref without a path", section.Name)
			}

			reference := siteURL + section.Name + ref.Path
			subcategory := subcategoryOf(ref.Path, f.Aliases, section.Name)

			switch {
			case ref.Collection != "":
				r.topics = append(r.topics, newsharvest.TopicRef{
					Reference:   reference,
					Endpoint:    apiURL + ref.Collection,
					Category:    section.Name,
					Subcategory: subcategory,
					Kind:        newsharvest.TopicAPI,
				})
			case ref.Feed != "":
				r.topics = append(r.topics, newsharvest.TopicRef{
					Reference:   reference,
					Endpoint:    ref.Feed,
					Category:    section.Name,
					Subcategory: subcategory,
					Kind:        newsharvest.TopicFeed,
				})
			default:
				r.unreachable = append(r.unreachable, Unreachable{
					Reference:   reference,
					Category:    section.Name,
					Subcategory: subcategory,
				})
			}
		}
	}

	return r, nil
}

// Topics returns the collectable topics in file order.
func (r *Registry) Topics() []newsharvest.TopicRef {
	return append([]newsharvest.TopicRef(nil), r.topics...)
}

// Unreachable returns the refs that have no way to be listed.
func (r *Registry) Unreachable() []Unreachable {
	return append([]Unreachable(nil), r.unreachable...)
}

// Select returns the topics matching any selector. A selector is either a
// category ("business") or category/subcategory ("business/c-suite"). No
// selectors selects everything.
func (r *Registry) Select(selectors []string) ([]newsharvest.TopicRef, error) {
	if len(selectors) == 0 {
		return r.Topics(), nil
	}

	chosen := make([]bool, len(r.topics))
	for _, sel := range selectors {
		category, subcategory, hasSub := strings.Cut(strings.TrimSpace(sel), "/")

		matched := false
		for i, t := range r.topics {
			if t.Category != category || (hasSub && t.Subcategory != subcategory) {
				continue
			}
			chosen[i] = true
			matched = true
		}
		if !matched {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, sel)
		}
	}

	var out []newsharvest.TopicRef
	for i, t := range r.topics {
		if chosen[i] {
			out = append(out, t)
		}
	}
	return out, nil
}

func subcategoryOf(path string, aliases map[string]string, section string) string {
	if alias, ok := aliases[path]; ok && alias != "" {
		return alias
	}

	segments := strings.Split(path, "/")
	if last := segments[len(segments)-1]; last != "" {
		return last
	}
	return section
}

func withSlash(s string) string {
	if s == "" || strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
