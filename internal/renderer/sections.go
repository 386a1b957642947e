package renderer

import (
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/marrow-wiki/mbr/internal/renderer/attrs"
)

// sectionTransformer wraps a thematic break immediately followed by a
// standalone "{...}" attribute-block paragraph, and everything after it up
// to the next such marker or the end of its parent, into a SectionBlock.
// It no-ops unless enabled, since wrapping bare horizontal rules changes
// layout for documents that use "---" purely as a visual divider.
type sectionTransformer struct {
	enabled bool
}

func (t *sectionTransformer) Transform(doc *ast.Document, reader text.Reader, _ parser.Context) {
	if !t.enabled {
		return
	}
	wrapSections(doc, reader.Source())
}

func wrapSections(parent ast.Node, source []byte) {
	var current *SectionBlock

	child := parent.FirstChild()
	for child != nil {
		if hr, ok := child.(*ast.ThematicBreak); ok {
			if marker, markerAttrs, ok := sectionMarker(hr, source); ok {
				afterMarker := marker.NextSibling()
				section := &SectionBlock{Attrs: markerAttrs}
				parent.ReplaceChild(parent, hr, section)
				parent.RemoveChild(parent, marker)
				current = section
				child = afterMarker
				continue
			}
		}

		next := child.NextSibling()
		if current != nil {
			parent.RemoveChild(parent, child)
			current.AppendChild(current, child)
		}
		child = next
	}

	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		if c.HasChildren() {
			wrapSections(c, source)
		}
	}
}

// sectionMarker reports whether hr is immediately followed by a paragraph
// containing nothing but a "{...}" attribute block, the section-open marker.
func sectionMarker(hr *ast.ThematicBreak, source []byte) (ast.Node, attrs.Attrs, bool) {
	marker := hr.NextSibling()
	if marker == nil {
		return nil, attrs.Attrs{}, false
	}
	para, ok := marker.(*ast.Paragraph)
	if !ok {
		return nil, attrs.Attrs{}, false
	}
	parsed, ok := attrs.Parse(plainText(para, source))
	if !ok {
		return nil, attrs.Attrs{}, false
	}
	return para, parsed, true
}

// SectionBlock wraps a run of sibling block nodes opened by an attributed
// horizontal rule, closing implicitly at the next marker or end of its
// parent.
type SectionBlock struct {
	ast.BaseBlock
	Attrs attrs.Attrs
}

// KindSectionBlock identifies SectionBlock nodes.
var KindSectionBlock = ast.NewNodeKind("SectionBlock")

// Kind implements ast.Node.
func (b *SectionBlock) Kind() ast.NodeKind { return KindSectionBlock }

// Dump aids debugging.
func (b *SectionBlock) Dump(source []byte, level int) {
	ast.DumpHelper(b, source, level, map[string]string{"ID": b.Attrs.ID}, nil)
}

type sectionBlockRenderer struct{}

func newSectionBlockRenderer() renderer.NodeRenderer {
	return &sectionBlockRenderer{}
}

// RegisterFuncs implements renderer.NodeRenderer.
func (r *sectionBlockRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindSectionBlock, r.renderSection)
}

func (r *sectionBlockRenderer) renderSection(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	block := node.(*SectionBlock)
	if entering {
		if _, err := w.WriteString("<section" + block.Attrs.HTMLAttrs() + ">\n"); err != nil {
			return ast.WalkStop, err
		}
		return ast.WalkContinue, nil
	}
	if _, err := w.WriteString("</section>\n"); err != nil {
		return ast.WalkStop, err
	}
	return ast.WalkContinue, nil
}
