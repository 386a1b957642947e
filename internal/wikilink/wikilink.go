// Package wikilink implements the two tag-link forms the renderer accepts:
//
//	[[Source:value]]            Obsidian-style wikilink
//	[text](Source:value)        a standard markdown link whose destination
//	                            looks like a tag reference
//
// Both forms resolve to the same URL convention, /{source}/{value}/, where
// source is lowercased and value is normalized via NormalizeTagValue.
package wikilink

import (
	"strings"
)

// ParsedWikilink is a tag reference extracted from markdown source.
type ParsedWikilink struct {
	Source      string
	Value       string
	DisplayText string // empty when the link used its value as display text
}

// New creates a ParsedWikilink whose display text is its value.
func New(source, value string) ParsedWikilink {
	return ParsedWikilink{Source: source, Value: value}
}

// WithDisplay creates a ParsedWikilink with custom display text.
func WithDisplay(source, value, display string) ParsedWikilink {
	return ParsedWikilink{Source: source, Value: value, DisplayText: display}
}

// URLSource returns the lowercased tag source, as used in the URL path.
func (p ParsedWikilink) URLSource() string {
	return strings.ToLower(p.Source)
}

// URLValue returns the normalized tag value, as used in the URL path.
func (p ParsedWikilink) URLValue() string {
	return NormalizeTagValue(p.Value)
}

// URLPath returns the full /{source}/{value}/ URL path for this tag.
func (p ParsedWikilink) URLPath() string {
	return "/" + p.URLSource() + "/" + p.URLValue() + "/"
}

// Display returns the custom display text if set, otherwise the raw value.
func (p ParsedWikilink) Display() string {
	if p.DisplayText != "" {
		return p.DisplayText
	}
	return p.Value
}

// ToMarkdownLink renders this wikilink as a standard markdown link.
func (p ParsedWikilink) ToMarkdownLink() string {
	return "[" + p.Display() + "](" + p.URLPath() + ")"
}

// NormalizeTagValue lowercases value, trims surrounding whitespace, and
// replaces internal spaces with underscores.
func NormalizeTagValue(value string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), " ", "_")
}

// urlSchemes lists source-like prefixes that must never be treated as tag
// sources, even when they happen to match a configured source name.
var urlSchemes = map[string]struct{}{
	"http": {}, "https": {}, "mailto": {}, "tel": {}, "ftp": {}, "ftps": {},
	"file": {}, "data": {}, "javascript": {}, "ssh": {}, "git": {}, "svn": {},
	"magnet": {},
}

func isURLScheme(source string) bool {
	_, ok := urlSchemes[strings.ToLower(source)]
	return ok
}

// ParseTagLink checks whether a markdown link destination of the form
// Source:value refers to one of validSources (matched case-insensitively).
func ParseTagLink(dest string, validSources map[string]struct{}) (ParsedWikilink, bool) {
	return parseWikilinkInner(dest, validSources)
}

func parseWikilinkInner(inner string, validSources map[string]struct{}) (ParsedWikilink, bool) {
	colon := strings.IndexByte(inner, ':')
	if colon < 0 {
		return ParsedWikilink{}, false
	}
	source := strings.TrimSpace(inner[:colon])
	value := strings.TrimSpace(inner[colon+1:])
	if source == "" || value == "" {
		return ParsedWikilink{}, false
	}
	if isURLScheme(source) {
		return ParsedWikilink{}, false
	}
	if !containsFold(validSources, source) {
		return ParsedWikilink{}, false
	}
	return New(source, value), true
}

func containsFold(set map[string]struct{}, source string) bool {
	lower := strings.ToLower(source)
	for s := range set {
		if strings.ToLower(s) == lower {
			return true
		}
	}
	return false
}

// TransformWikilinks scans input for [[Source:value]] spans and rewrites
// each one recognized against validSources into a standard markdown link.
// Spans that don't parse as a tag reference (unknown source, URL scheme, no
// colon) are left untouched, including their surrounding [[ ]] delimiters.
func TransformWikilinks(input string, validSources map[string]struct{}) string {
	var out strings.Builder
	out.Grow(len(input))
	remaining := input

	for {
		start := strings.Index(remaining, "[[")
		if start < 0 {
			break
		}
		out.WriteString(remaining[:start])

		afterOpen := remaining[start+2:]
		end := strings.Index(afterOpen, "]]")
		if end < 0 {
			out.WriteString("[[")
			remaining = afterOpen
			continue
		}

		inner := afterOpen[:end]
		if link, ok := parseWikilinkInner(inner, validSources); ok {
			out.WriteString(link.ToMarkdownLink())
		} else {
			out.WriteString(remaining[start : start+4+end])
		}
		remaining = afterOpen[end+2:]
	}

	out.WriteString(remaining)
	return out.String()
}
