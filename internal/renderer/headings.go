package renderer

import (
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"

	"github.com/marrow-wiki/mbr/internal/renderer/attrs"
)

var headingsKey = parser.NewContextKey()

// headingCollector walks the parsed document collecting each heading's
// level, visible text and generator-assigned anchor ID, in document order.
// It must run after parser.WithAutoHeadingID() has assigned IDs, which
// happens during parsing itself, before any AST transformer runs.
type headingCollector struct{}

func (c *headingCollector) Transform(node *ast.Document, reader text.Reader, pc parser.Context) {
	var headings []Heading
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		headings = append(headings, Heading{
			Level:   h.Level,
			Text:    plainText(h, reader.Source()),
			ID:      attributeString(h, "id"),
			Classes: attrs.ParseClassAttribute(attributeString(h, "class")),
		})
		return ast.WalkContinue, nil
	})
	pc.Set(headingsKey, headings)
}

// attributeString reads a goldmark-assigned attribute as a string, the
// parser stores attribute values assigned through {#id .class} syntax as
// []byte.
func attributeString(n ast.Node, name string) string {
	raw, ok := n.AttributeString(name)
	if !ok {
		return ""
	}
	if b, ok := raw.([]byte); ok {
		return string(b)
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return ""
}

func headingsFromContext(pc parser.Context) []Heading {
	v := pc.Get(headingsKey)
	if v == nil {
		return nil
	}
	headings, _ := v.([]Heading)
	return headings
}
