package renderer

import (
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/marrow-wiki/mbr/internal/media"
	"github.com/marrow-wiki/mbr/internal/oembed"
	"github.com/marrow-wiki/mbr/internal/renderer/attrs"
)

// mediaTransformer replaces image-syntax references to videos, audio,
// YouTube links and PDFs with a MediaEmbedBlock carrying the rendered
// embed, leaving ordinary images for goldmark's default renderer.
type mediaTransformer struct{}

func (t *mediaTransformer) Transform(doc *ast.Document, reader text.Reader, _ parser.Context) {
	source := reader.Source()
	walkReplacingImages(doc, source)
}

func walkReplacingImages(parent ast.Node, source []byte) {
	for child := parent.FirstChild(); child != nil; {
		if img, ok := child.(*ast.Image); ok {
			trailing := img.NextSibling()
			imgAttrs, hasAttrs := trailingImageAttrs(trailing, source)
			after := child.NextSibling()
			if hasAttrs {
				after = trailing.NextSibling()
			}

			caption := plainText(img, source)
			if embed, ok := media.FromURLAndTitle(string(img.Destination), caption); ok {
				block := &MediaEmbedBlock{Embed: embed, Attrs: imgAttrs}
				parent.ReplaceChild(parent, img, block)
				if hasAttrs {
					parent.RemoveChild(parent, trailing)
				}
				child = after
				continue
			}

			if hasAttrs {
				applyImageAttrs(img, imgAttrs)
				parent.RemoveChild(parent, trailing)
			}
			child = after
			continue
		}

		next := child.NextSibling()
		if child.HasChildren() {
			walkReplacingImages(child, source)
		}
		child = next
	}
}

// trailingImageAttrs reports whether node is a text node holding nothing
// but a "{...}" attribute block, the form an image attribute block takes
// once goldmark has parsed the image syntax before it (goldmark has no
// native notion of image attributes, so the trailing "{...}" survives
// parsing as plain text).
func trailingImageAttrs(node ast.Node, source []byte) (attrs.Attrs, bool) {
	t, ok := node.(*ast.Text)
	if !ok {
		return attrs.Attrs{}, false
	}
	return attrs.Parse(strings.TrimSpace(string(t.Segment.Value(source))))
}

// applyImageAttrs assigns id/class onto a plain (non-embed) image so
// goldmark's html renderer emits them through its image attribute filter.
// Arbitrary key=value pairs are not forwarded: goldmark's filter only
// allows a fixed attribute set on images.
func applyImageAttrs(img *ast.Image, a attrs.Attrs) {
	if a.ID != "" {
		img.SetAttributeString("id", []byte(a.ID))
	}
	if len(a.Classes) > 0 {
		img.SetAttributeString("class", []byte(strings.Join(a.Classes, " ")))
	}
}

// MediaEmbedBlock is an inline node carrying a fully-rendered media embed,
// inserted in place of the *ast.Image it replaced.
type MediaEmbedBlock struct {
	ast.BaseInline
	Embed media.Embed
	Attrs attrs.Attrs
}

// KindMediaEmbedBlock identifies MediaEmbedBlock nodes.
var KindMediaEmbedBlock = ast.NewNodeKind("MediaEmbedBlock")

// Kind implements ast.Node.
func (b *MediaEmbedBlock) Kind() ast.NodeKind { return KindMediaEmbedBlock }

// Dump aids debugging.
func (b *MediaEmbedBlock) Dump(source []byte, level int) {
	ast.DumpHelper(b, source, level, map[string]string{"Kind": fmt.Sprintf("%d", b.Embed.Kind)}, nil)
}

// oembedTransformer replaces bare-URL paragraphs with an OEmbedBlock
// carrying the fetched OpenGraph summary HTML. A nil or disabled fetcher
// leaves such paragraphs untouched.
type oembedTransformer struct {
	fetcher *oembed.Fetcher
}

func (t *oembedTransformer) Transform(doc *ast.Document, reader text.Reader, pc parser.Context) {
	if t.fetcher == nil {
		return
	}
	ctx := context.Background()
	if v := pc.Get(renderCtxKey); v != nil {
		if c, ok := v.(context.Context); ok && c != nil {
			ctx = c
		}
	}
	source := reader.Source()
	walkReplacingBareURLs(doc, source, ctx, t.fetcher)
}

func walkReplacingBareURLs(parent ast.Node, source []byte, ctx context.Context, fetcher *oembed.Fetcher) {
	for child := parent.FirstChild(); child != nil; {
		next := child.NextSibling()

		if para, ok := child.(*ast.Paragraph); ok {
			if url, ok := bareParagraphURL(para, source); ok {
				if info, ok := fetcher.Fetch(ctx, url); ok {
					block := &OEmbedBlock{HTML: info.HTML()}
					parent.ReplaceChild(parent, para, block)
					child = next
					continue
				}
			}
		}

		if child.HasChildren() {
			walkReplacingBareURLs(child, source, ctx, fetcher)
		}
		child = next
	}
}

// bareParagraphURL reports whether p consists of nothing but a single bare
// URL (an autolink, or a markdown link whose display text equals its
// destination).
func bareParagraphURL(p *ast.Paragraph, source []byte) (string, bool) {
	first := p.FirstChild()
	if first == nil || first.NextSibling() != nil {
		return "", false
	}
	switch n := first.(type) {
	case *ast.AutoLink:
		return string(n.URL(source)), true
	case *ast.Link:
		label := plainText(n, source)
		if label != "" && label == string(n.Destination) {
			return string(n.Destination), true
		}
	}
	return "", false
}

// OEmbedBlock is a block node carrying fully-rendered OpenGraph summary
// HTML, inserted in place of the bare-URL *ast.Paragraph it replaced.
type OEmbedBlock struct {
	ast.BaseBlock
	HTML string
}

// KindOEmbedBlock identifies OEmbedBlock nodes.
var KindOEmbedBlock = ast.NewNodeKind("OEmbedBlock")

// Kind implements ast.Node.
func (b *OEmbedBlock) Kind() ast.NodeKind { return KindOEmbedBlock }

// Dump aids debugging.
func (b *OEmbedBlock) Dump(source []byte, level int) {
	ast.DumpHelper(b, source, level, map[string]string{"HTML": fmt.Sprintf("%d bytes", len(b.HTML))}, nil)
}

// mediaBlockRenderer writes MediaEmbedBlock and OEmbedBlock nodes as raw
// HTML, bypassing goldmark's usual escaping since the HTML is generated
// internally, not sourced from markdown content.
type mediaBlockRenderer struct{}

func newMediaBlockRenderer() renderer.NodeRenderer {
	return &mediaBlockRenderer{}
}

// RegisterFuncs implements renderer.NodeRenderer.
func (r *mediaBlockRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindMediaEmbedBlock, r.renderMediaEmbed)
	reg.Register(KindOEmbedBlock, r.renderOEmbed)
}

func (r *mediaBlockRenderer) renderMediaEmbed(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkSkipChildren, nil
	}
	block := node.(*MediaEmbedBlock)
	html := block.Embed.ToHTML(false)
	if !block.Attrs.IsZero() {
		html = "<div" + block.Attrs.HTMLAttrs() + ">" + html + "</div>"
	}
	if _, err := w.WriteString(html); err != nil {
		return ast.WalkStop, err
	}
	return ast.WalkSkipChildren, nil
}

func (r *mediaBlockRenderer) renderOEmbed(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkSkipChildren, nil
	}
	block := node.(*OEmbedBlock)
	if _, err := w.WriteString(block.HTML); err != nil {
		return ast.WalkStop, err
	}
	return ast.WalkSkipChildren, nil
}
