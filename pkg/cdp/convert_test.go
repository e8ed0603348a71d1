package cdp

import (
	"net/http"
	"testing"

	"github.com/mafredri/cdp/protocol/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

func TestRequestHeadersDecodesRawObject(t *testing.T) {
	raw := network.Headers(`{"Accept":"text/html","X-Trace":"abc"}`)
	h := requestHeaders(raw)
	assert.Equal(t, "text/html", h.Get("Accept"))
	assert.Equal(t, "abc", h.Get("X-Trace"))
}

func TestRequestHeadersEmpty(t *testing.T) {
	h := requestHeaders(nil)
	require.NotNil(t, h)
	assert.Empty(t, h)
}

func TestHeaderEntriesJoinsMultiValue(t *testing.T) {
	h := http.Header{}
	h.Add("Accept", "text/html")
	h.Add("Accept", "application/json")
	h.Set("X-One", "1")

	entries := headerEntries(h)
	require.Len(t, entries, 2)

	byName := map[string]string{}
	for _, e := range entries {
		byName[e.Name] = e.Value
	}
	assert.Equal(t, "text/html, application/json", byName["Accept"])
	assert.Equal(t, "1", byName["X-One"])
}

func TestMockHeaderEntries(t *testing.T) {
	entries := mockHeaderEntries(map[string]string{"Content-Type": "application/json"})
	require.Len(t, entries, 1)
	assert.Equal(t, "Content-Type", entries[0].Name)
	assert.Equal(t, "application/json", entries[0].Value)
}

func TestResourceTypeMapping(t *testing.T) {
	cases := []struct {
		in   network.ResourceType
		want api.ResourceType
	}{
		{"Document", api.ResourceDocument},
		{"Stylesheet", api.ResourceStylesheet},
		{"Script", api.ResourceScript},
		{"Image", api.ResourceImage},
		{"Font", api.ResourceFont},
		{"Media", api.ResourceMedia},
		{"XHR", api.ResourceXHR},
		{"Fetch", api.ResourceFetch},
		{"WebSocket", api.ResourceWebSocket},
		{"Prefetch", api.ResourceOther},
		{"", api.ResourceOther},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, resourceType(tc.in), "resource type %q", tc.in)
	}
}
