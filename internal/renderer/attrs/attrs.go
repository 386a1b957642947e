// Package attrs parses the trailing curly-brace attribute blocks markdown
// extensions commonly attach to block and inline elements, e.g.
// "{.figure #intro data-caption=Hello}". It is shared by the section
// transformer, heading collection and image-embed handling in
// internal/renderer, which all need the same class/id/key-value syntax but
// attach it to different AST nodes.
package attrs

import "strings"

// Attrs holds the parsed contents of a single "{...}" attribute block.
type Attrs struct {
	ID      string
	Classes []string
	Pairs   map[string]string
}

// IsZero reports whether the block carried no attributes at all.
func (a Attrs) IsZero() bool {
	return a.ID == "" && len(a.Classes) == 0 && len(a.Pairs) == 0
}

// Parse parses a single attribute block. s may or may not include the
// enclosing braces. It returns false when s contains no recognizable
// attribute tokens.
func Parse(s string) (Attrs, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	s = strings.TrimSpace(s)
	if s == "" {
		return Attrs{}, false
	}

	var a Attrs
	found := false
	for _, tok := range splitTokens(s) {
		switch {
		case strings.HasPrefix(tok, "#"):
			if id := tok[1:]; id != "" {
				a.ID = id
				found = true
			}
		case strings.HasPrefix(tok, "."):
			if class := tok[1:]; class != "" {
				a.Classes = append(a.Classes, class)
				found = true
			}
		case strings.ContainsRune(tok, '='):
			key, val, ok := splitPair(tok)
			if !ok {
				continue
			}
			if a.Pairs == nil {
				a.Pairs = make(map[string]string)
			}
			a.Pairs[key] = val
			found = true
		}
	}
	if !found {
		return Attrs{}, false
	}
	return a, true
}

// splitTokens splits on whitespace outside of a quoted value, so
// key="two words" stays a single token.
func splitTokens(s string) []string {
	var tokens []string
	var b strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			b.WriteRune(r)
		case r == ' ' && !inQuotes:
			if b.Len() > 0 {
				tokens = append(tokens, b.String())
				b.Reset()
			}
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

func splitPair(tok string) (key, value string, ok bool) {
	idx := strings.IndexByte(tok, '=')
	if idx <= 0 {
		return "", "", false
	}
	key = tok[:idx]
	value = strings.Trim(tok[idx+1:], `"`)
	return key, value, true
}

// HTMLAttrs renders a's id, classes and key-value pairs as a string ready to
// splice into an opening HTML tag ("" when a is zero), e.g.
// ` id="intro" class="figure" data-caption="Hello"`.
func (a Attrs) HTMLAttrs() string {
	if a.IsZero() {
		return ""
	}
	var b strings.Builder
	if a.ID != "" {
		b.WriteString(` id="`)
		b.WriteString(escapeAttr(a.ID))
		b.WriteByte('"')
	}
	if len(a.Classes) > 0 {
		b.WriteString(` class="`)
		b.WriteString(escapeAttr(strings.Join(a.Classes, " ")))
		b.WriteByte('"')
	}
	for _, k := range sortedKeys(a.Pairs) {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(escapeAttr(a.Pairs[k]))
		b.WriteByte('"')
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func escapeAttr(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	return s
}

// ParseClassAttribute splits a space-separated class attribute value (as
// goldmark's native {#id .class} heading syntax assigns it) into individual
// class names, reusing the same tokenizer as "{...}" block parsing so
// quoting rules stay consistent across both call sites.
func ParseClassAttribute(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var synthetic strings.Builder
	synthetic.WriteByte('{')
	for _, c := range strings.Fields(raw) {
		synthetic.WriteByte('.')
		synthetic.WriteString(c)
		synthetic.WriteByte(' ')
	}
	synthetic.WriteByte('}')
	parsed, ok := Parse(synthetic.String())
	if !ok {
		return nil
	}
	return parsed.Classes
}

// TrailingBlock reports whether text ends with a "{...}" attribute block
// and, if so, returns the text with the block removed (trimmed of trailing
// whitespace) and the block's parsed attributes.
func TrailingBlock(text string) (rest string, parsed Attrs, ok bool) {
	trimmed := strings.TrimRight(text, " \t")
	if !strings.HasSuffix(trimmed, "}") {
		return text, Attrs{}, false
	}
	start := strings.LastIndexByte(trimmed, '{')
	if start < 0 {
		return text, Attrs{}, false
	}
	block := trimmed[start:]
	parsed, ok = Parse(block)
	if !ok {
		return text, Attrs{}, false
	}
	rest = strings.TrimRight(trimmed[:start], " \t")
	return rest, parsed, true
}
