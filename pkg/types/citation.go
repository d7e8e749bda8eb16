// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Reference is a parsed entry from a draft's references section.
type Reference struct {
	// Key is the label as it appears in the draft (e.g. "1").
	Key string `json:"key" yaml:"key"`

	// Title is the referenced page or document title.
	Title string `json:"title" yaml:"title"`

	// URL is the first link found in the entry.
	URL string `json:"url" yaml:"url"`
}

// Citation is an inline reference found in draft text.
type Citation struct {
	// Key is the numeric label for "[n]" citations, or the link text for
	// inline Markdown links.
	Key string `json:"key" yaml:"key"`

	// URL is set for inline links and for numeric citations linked to a
	// Reference.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Context is the surrounding text where the citation appears.
	Context string `json:"context" yaml:"context"`
}
