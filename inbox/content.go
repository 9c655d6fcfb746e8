package inbox

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hotaru-social/hotaru/types"
)

// objectURI extracts the target URI from an activity's object field, which
// peers send either as a bare string or as an embedded object with an id.
func objectURI(object any) string {
	if s, ok := object.(string); ok {
		return s
	}
	if raw := types.AsRawObject(object); raw != nil {
		return raw.MustGetString("id")
	}
	return ""
}

// embeddedObject returns the object field as a document, or nil when it is a
// bare URI reference.
func embeddedObject(object any) *types.RawObject {
	return types.AsRawObject(object)
}

// flattenHTML reduces a remote note body to plain text. Block boundaries and
// <br> become newlines; everything else keeps only its text content. Input
// that fails to parse is returned as-is rather than dropped.
func flattenHTML(fragment string) string {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
		case html.ElementNode:
			switch n.Data {
			case "br":
				sb.WriteString("\n")
			case "p", "div", "blockquote":
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.TrimSpace(sb.String())
}

// emojiTags extracts custom emoji shortcodes from a tag list.
func emojiTags(tags []*types.RawObject) (names []string) {
	for _, tag := range tags {
		if tag.MustGetString("type") != "Emoji" {
			continue
		}
		if name := tag.MustGetString("name"); name != "" {
			names = append(names, strings.Trim(name, ":"))
		}
	}
	return names
}
