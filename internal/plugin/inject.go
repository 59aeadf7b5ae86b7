package plugin

import (
	"bytes"

	"golang.org/x/net/html"
)

// InjectHead inserts snippet directly after the opening <head> tag. Without a
// head element it goes after <html>, then before <body>, and finally at the
// very start of the document.
func InjectHead(doc []byte, snippet string) []byte {
	at := findInjectionPoint(doc)
	out := make([]byte, 0, len(doc)+len(snippet))
	out = append(out, doc[:at]...)
	out = append(out, snippet...)
	out = append(out, doc[at:]...)
	return out
}

func findInjectionPoint(doc []byte) int {
	z := html.NewTokenizer(bytes.NewReader(doc))
	offset := 0
	afterHTML := -1
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		raw := len(z.Raw())
		start := offset
		offset += raw

		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, _ := z.TagName()
		switch string(name) {
		case "head":
			return offset
		case "html":
			afterHTML = offset
		case "body":
			if afterHTML >= 0 {
				return afterHTML
			}
			return start
		}
	}
	if afterHTML >= 0 {
		return afterHTML
	}
	return 0
}
