// Package content implements the override engine that layers admin-edited
// section content on top of compiled-in defaults.
package content

// Fields maps a section's field names to their values.
type Fields map[string]string

// Kind identifies the schema of a known section. Unknown kinds are accepted
// and treated as an untyped bag of fields.
type Kind string

const (
	KindHero     Kind = "hero"
	KindServices Kind = "services"
	KindPricing  Kind = "pricing"
	KindAbout    Kind = "about"
	KindContact  Kind = "contact"
	KindSEO      Kind = "seo"
	KindCustom   Kind = "custom"
)

// knownFields declares the editable fields for each known section kind.
// Saves for a known kind are filtered to this list; custom sections keep
// whatever fields the admin supplies.
var knownFields = map[Kind][]string{
	KindHero:     {"title", "subtitle", "ctaLabel", "ctaLink", "backgroundImage"},
	KindServices: {"title", "intro", "serviceOne", "serviceTwo", "serviceThree"},
	KindPricing:  {"title", "intro", "starterPrice", "standardPrice", "premiumPrice"},
	KindAbout:    {"title", "bio", "portraitImage", "credentials"},
	KindContact:  {"title", "email", "phone", "address", "formIntro"},
	KindSEO:      {"metaTitle", "metaDescription", "ogImage", "canonicalURL"},
}

// NormalizeKind maps an arbitrary string onto a known kind, defaulting to
// custom for anything unrecognized.
func NormalizeKind(kind string) Kind {
	switch Kind(kind) {
	case KindHero, KindServices, KindPricing, KindAbout, KindContact, KindSEO:
		return Kind(kind)
	default:
		return KindCustom
	}
}

// FilterFields drops fields that are not part of the kind's schema. Custom
// sections pass through untouched.
func FilterFields(kind Kind, fields Fields) Fields {
	allowed, ok := knownFields[kind]
	if !ok {
		return fields.Clone()
	}
	filtered := make(Fields, len(fields))
	for _, name := range allowed {
		if value, present := fields[name]; present {
			filtered[name] = value
		}
	}
	return filtered
}

// Clone returns an independent copy so callers cannot mutate stored state
// through a retained reference.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	copied := make(Fields, len(f))
	for key, value := range f {
		copied[key] = value
	}
	return copied
}

// Merge overlays the override onto defaults, override winning per field.
func Merge(defaults, override Fields) Fields {
	merged := defaults.Clone()
	for key, value := range override {
		merged[key] = value
	}
	return merged
}
