package intercept

import (
	"bytes"

	"golang.org/x/net/html"

	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

// InjectScript inserts code as an inline <script> element into an HTML
// document. documentStart timing places it right after <head> so it runs
// before any page script; documentEnd and documentIdle place it before
// </body>. Documents missing the anchor tag get the script prepended or
// appended so the code still ships.
func InjectScript(body []byte, code string, timing api.ScriptTiming) []byte {
	tag := []byte("<script>" + code + "</script>")
	atStart := timing == api.TimingDocumentStart

	z := html.NewTokenizer(bytes.NewReader(body))
	var out bytes.Buffer
	out.Grow(len(body) + len(tag))
	injected := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		raw := z.Raw()
		switch tt {
		case html.StartTagToken:
			name, _ := z.TagName()
			out.Write(raw)
			if !injected && atStart && bytes.Equal(name, []byte("head")) {
				out.Write(tag)
				injected = true
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if !injected && !atStart && bytes.Equal(name, []byte("body")) {
				out.Write(tag)
				injected = true
			}
			out.Write(raw)
		default:
			out.Write(raw)
		}
	}

	if injected {
		return out.Bytes()
	}
	if atStart {
		return append(append([]byte{}, tag...), out.Bytes()...)
	}
	out.Write(tag)
	return out.Bytes()
}

// IsHTMLResponse reports whether a Content-Type header value names an HTML
// document.
func IsHTMLResponse(contentType string) bool {
	return bytes.Contains([]byte(contentType), []byte("text/html")) ||
		bytes.Contains([]byte(contentType), []byte("application/xhtml"))
}
