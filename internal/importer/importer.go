// Package importer recovers editable content from a rendered page so the
// admin panel can be seeded from the live site the first time it is used. It
// is a bootstrap aid only; rendering never depends on it.
package importer

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"clearpath/api/internal/content"
)

// FieldPattern declares how to locate one field inside a section's markup:
// a primary CSS selector, ordered fallbacks, and optionally an attribute to
// read instead of the text content.
type FieldPattern struct {
	Field     string
	Selector  string
	Fallbacks []string
	Attribute string
}

// Importer extracts a partial override from rendered HTML. Absence of a
// match is never an error, just an omitted field.
type Importer interface {
	Extract(sectionID, html string) content.Fields
}

// SelectorImporter is the CSS-selector implementation of Importer.
type SelectorImporter struct {
	patterns map[string][]FieldPattern
}

// defaultPatterns covers the site's known sections. Fallback selectors track
// older markup revisions still in production.
func defaultPatterns() map[string][]FieldPattern {
	return map[string][]FieldPattern{
		"hero": {
			{Field: "title", Selector: "#hero h1", Fallbacks: []string{".hero-title", "header h1"}},
			{Field: "subtitle", Selector: "#hero .subtitle", Fallbacks: []string{".hero-subtitle", "#hero p"}},
			{Field: "ctaLabel", Selector: "#hero a.cta", Fallbacks: []string{".hero-cta"}},
			{Field: "ctaLink", Selector: "#hero a.cta", Fallbacks: []string{".hero-cta"}, Attribute: "href"},
			{Field: "backgroundImage", Selector: "#hero img.background", Attribute: "src"},
		},
		"services": {
			{Field: "title", Selector: "#services h2", Fallbacks: []string{".services-title"}},
			{Field: "intro", Selector: "#services .intro", Fallbacks: []string{"#services > p"}},
			{Field: "serviceOne", Selector: "#services .service:nth-of-type(1) h3"},
			{Field: "serviceTwo", Selector: "#services .service:nth-of-type(2) h3"},
			{Field: "serviceThree", Selector: "#services .service:nth-of-type(3) h3"},
		},
		"pricing": {
			{Field: "title", Selector: "#pricing h2", Fallbacks: []string{".pricing-title"}},
			{Field: "intro", Selector: "#pricing .intro"},
			{Field: "starterPrice", Selector: "#pricing .tier-starter .price"},
			{Field: "standardPrice", Selector: "#pricing .tier-standard .price"},
			{Field: "premiumPrice", Selector: "#pricing .tier-premium .price"},
		},
		"about": {
			{Field: "title", Selector: "#about h2", Fallbacks: []string{".about-title"}},
			{Field: "bio", Selector: "#about .bio", Fallbacks: []string{"#about p"}},
			{Field: "portraitImage", Selector: "#about img.portrait", Attribute: "src"},
			{Field: "credentials", Selector: "#about .credentials"},
		},
		"contact": {
			{Field: "title", Selector: "#contact h2", Fallbacks: []string{".contact-title"}},
			{Field: "email", Selector: "#contact a.email", Fallbacks: []string{"#contact a[href^='mailto:']"}, Attribute: "href"},
			{Field: "phone", Selector: "#contact a.phone", Fallbacks: []string{"#contact a[href^='tel:']"}, Attribute: "href"},
			{Field: "address", Selector: "#contact .address"},
			{Field: "formIntro", Selector: "#contact .form-intro"},
		},
		"seo": {
			{Field: "metaTitle", Selector: "head title"},
			{Field: "metaDescription", Selector: "head meta[name='description']", Attribute: "content"},
			{Field: "ogImage", Selector: "head meta[property='og:image']", Attribute: "content"},
			{Field: "canonicalURL", Selector: "head link[rel='canonical']", Attribute: "href"},
		},
	}
}

func New() *SelectorImporter {
	return &SelectorImporter{patterns: defaultPatterns()}
}

// NewWithPatterns builds an importer for a custom pattern table.
func NewWithPatterns(patterns map[string][]FieldPattern) *SelectorImporter {
	return &SelectorImporter{patterns: patterns}
}

// Extract tries each declared field for the section against the given
// markup: primary selector first, then fallbacks in order. Fields with no
// match are skipped. Unknown sections and unparseable markup yield an empty
// result, never an error.
func (i *SelectorImporter) Extract(sectionID, html string) content.Fields {
	fields := content.Fields{}
	patterns, ok := i.patterns[sectionID]
	if !ok {
		return fields
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fields
	}

	for _, pattern := range patterns {
		selectors := append([]string{pattern.Selector}, pattern.Fallbacks...)
		for _, selector := range selectors {
			value, found := readSelection(doc, selector, pattern.Attribute)
			if found {
				fields[pattern.Field] = value
				break
			}
		}
	}
	return fields
}

func readSelection(doc *goquery.Document, selector, attribute string) (string, bool) {
	selection := doc.Find(selector).First()
	if selection.Length() == 0 {
		return "", false
	}
	if attribute != "" {
		raw, ok := selection.Attr(attribute)
		if !ok {
			return "", false
		}
		return stripContactScheme(strings.TrimSpace(raw)), true
	}
	text := strings.TrimSpace(selection.Text())
	if text == "" {
		return "", false
	}
	return text, true
}

// stripContactScheme turns mailto: and tel: hrefs into the bare address the
// admin actually edits.
func stripContactScheme(value string) string {
	for _, scheme := range []string{"mailto:", "tel:"} {
		if strings.HasPrefix(value, scheme) {
			return strings.TrimPrefix(value, scheme)
		}
	}
	return value
}
