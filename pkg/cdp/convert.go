package cdp

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"

	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

// requestHeaders decodes the raw DevTools header object into an
// http.Header so rule effects can apply with the usual semantics.
func requestHeaders(raw network.Headers) http.Header {
	flat := map[string]string{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &flat)
	}
	h := make(http.Header, len(flat))
	for name, value := range flat {
		h.Set(name, value)
	}
	return h
}

// headerEntries flattens an http.Header back into the DevTools entry list.
// Multi-valued headers collapse the way the browser sends them, comma
// joined.
func headerEntries(h http.Header) []fetch.HeaderEntry {
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for name, values := range h {
		entries = append(entries, fetch.HeaderEntry{Name: name, Value: strings.Join(values, ", ")})
	}
	return entries
}

// mockHeaderEntries converts a stored mock header map.
func mockHeaderEntries(headers map[string]string) []fetch.HeaderEntry {
	entries := make([]fetch.HeaderEntry, 0, len(headers))
	for name, value := range headers {
		entries = append(entries, fetch.HeaderEntry{Name: name, Value: value})
	}
	return entries
}

// resourceType maps a DevTools resource type onto the rule vocabulary. The
// browser supplies this natively, so no header sniffing is needed.
func resourceType(rt network.ResourceType) api.ResourceType {
	switch rt {
	case "Document":
		return api.ResourceDocument
	case "Stylesheet":
		return api.ResourceStylesheet
	case "Script":
		return api.ResourceScript
	case "Image":
		return api.ResourceImage
	case "Font":
		return api.ResourceFont
	case "Media":
		return api.ResourceMedia
	case "XHR":
		return api.ResourceXHR
	case "Fetch":
		return api.ResourceFetch
	case "WebSocket":
		return api.ResourceWebSocket
	default:
		return api.ResourceOther
	}
}
