package extract

// Selectors defines where the detail fields live in an article page. Each
// value is a CSS selector understood by goquery.
type Selectors struct {
	// Image matches image elements; their src attribute is collected.
	Image  string `json:"image" yaml:"image" mapstructure:"image"`
	Author string `json:"author" yaml:"author" mapstructure:"author"`
	Text   string `json:"text" yaml:"text" mapstructure:"text"`
}

// DefaultSelectors returns the selectors of the BBC article layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Image:  "img[src]",
		Author: `div[data-component="author-block"]`,
		Text:   `div[data-component="text-block"]`,
	}
}

// withDefaults fills empty selectors from DefaultSelectors.
func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	if s.Image == "" {
		s.Image = d.Image
	}
	if s.Author == "" {
		s.Author = d.Author
	}
	if s.Text == "" {
		s.Text = d.Text
	}
	return s
}
