package intercept

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

const page = `<!DOCTYPE html><html><head><title>t</title></head><body><p>hi</p></body></html>`

func TestInjectScriptDocumentStart(t *testing.T) {
	out := string(InjectScript([]byte(page), "alert(1)", api.TimingDocumentStart))
	assert.Contains(t, out, "<head><script>alert(1)</script><title>")
	assert.Equal(t, 1, strings.Count(out, "<script>"))
}

func TestInjectScriptDocumentEnd(t *testing.T) {
	out := string(InjectScript([]byte(page), "alert(1)", api.TimingDocumentEnd))
	assert.Contains(t, out, "<p>hi</p><script>alert(1)</script></body>")
}

func TestInjectScriptDocumentIdleSameAsEnd(t *testing.T) {
	end := string(InjectScript([]byte(page), "x()", api.TimingDocumentEnd))
	idle := string(InjectScript([]byte(page), "x()", api.TimingDocumentIdle))
	assert.Equal(t, end, idle)
}

func TestInjectScriptNoHeadPrepends(t *testing.T) {
	out := string(InjectScript([]byte("<p>bare</p>"), "x()", api.TimingDocumentStart))
	assert.True(t, strings.HasPrefix(out, "<script>x()</script>"))
	assert.Contains(t, out, "<p>bare</p>")
}

func TestInjectScriptNoBodyAppends(t *testing.T) {
	out := string(InjectScript([]byte("<p>bare</p>"), "x()", api.TimingDocumentEnd))
	assert.True(t, strings.HasSuffix(out, "<script>x()</script>"))
}

func TestIsHTMLResponse(t *testing.T) {
	assert.True(t, IsHTMLResponse("text/html"))
	assert.True(t, IsHTMLResponse("text/html; charset=utf-8"))
	assert.True(t, IsHTMLResponse("application/xhtml+xml"))
	assert.False(t, IsHTMLResponse("application/json"))
	assert.False(t, IsHTMLResponse(""))
}
