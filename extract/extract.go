// Package extract pulls images, authors and text blocks out of article
// pages.
package extract

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Fields holds the raw values found on one detail page. Slices are never
// nil.
type Fields struct {
	Images     []string
	Authors    []string
	TextBlocks []string
}

// Extractor applies a fixed set of selectors to article pages.
type Extractor struct {
	selectors Selectors
	base      *url.URL
}

// New creates an extractor. Relative image sources are resolved against
// baseURL.
func New(selectors Selectors, baseURL string) (*Extractor, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %s: %w", baseURL, err)
	}

	return &Extractor{
		selectors: selectors.withDefaults(),
		base:      base,
	}, nil
}

// Parse reads an HTML document and extracts its fields. Author and text
// blocks keep their inner whitespace; only the ends are trimmed.
func (e *Extractor) Parse(r io.Reader) (Fields, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Fields{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	return e.Extract(doc), nil
}

// Extract collects every match of each selector in document order.
func (e *Extractor) Extract(doc *goquery.Document) Fields {
	fields := Fields{
		Images:     []string{},
		Authors:    []string{},
		TextBlocks: []string{},
	}

	doc.Find(e.selectors.Image).Each(func(i int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok {
			return
		}
		fields.Images = append(fields.Images, e.resolve(src))
	})

	doc.Find(e.selectors.Author).Each(func(i int, s *goquery.Selection) {
		fields.Authors = append(fields.Authors, strings.TrimSpace(s.Text()))
	})

	doc.Find(e.selectors.Text).Each(func(i int, s *goquery.Selection) {
		fields.TextBlocks = append(fields.TextBlocks, strings.TrimSpace(s.Text()))
	})

	return fields
}

// resolve makes src absolute. Sources that fail to parse are kept as they
// are.
func (e *Extractor) resolve(src string) string {
	ref, err := url.Parse(strings.TrimSpace(src))
	if err != nil {
		return src
	}
	return e.base.ResolveReference(ref).String()
}
