package renderer

import "github.com/yuin/goldmark/parser"

var outboundKey = parser.NewContextKey()

func outboundFromContext(pc parser.Context) []OutboundLink {
	v := pc.Get(outboundKey)
	if v == nil {
		return nil
	}
	links, _ := v.([]OutboundLink)
	return links
}

func recordOutbound(pc parser.Context, url string) {
	if url == "" {
		return
	}
	existing := outboundFromContext(pc)
	existing = append(existing, OutboundLink{URL: url, Internal: !isExternalLink(url)})
	pc.Set(outboundKey, existing)
}
