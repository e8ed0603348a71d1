package intercept

import (
	"net/http"
	"strings"

	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

// InferResourceType classifies a proxied request. A forward proxy has no
// browser-supplied resource type, so the Sec-Fetch-Dest header is used when
// present, falling back to the Accept header.
func InferResourceType(h http.Header) api.ResourceType {
	switch dest := h.Get("Sec-Fetch-Dest"); dest {
	case "document", "iframe", "frame":
		return api.ResourceDocument
	case "style":
		return api.ResourceStylesheet
	case "script", "worker", "serviceworker", "sharedworker":
		return api.ResourceScript
	case "image":
		return api.ResourceImage
	case "font":
		return api.ResourceFont
	case "audio", "video", "track":
		return api.ResourceMedia
	case "websocket":
		return api.ResourceWebSocket
	case "empty":
		// fetch() and XHR both send "empty"; there is no way to tell them
		// apart at the proxy, and the matcher treats both the same.
		return api.ResourceFetch
	case "":
	default:
		return api.ResourceOther
	}

	accept := h.Get("Accept")
	switch {
	case strings.Contains(accept, "text/html"):
		return api.ResourceDocument
	case strings.Contains(accept, "text/css"):
		return api.ResourceStylesheet
	case strings.Contains(accept, "javascript"):
		return api.ResourceScript
	case strings.HasPrefix(accept, "image/"):
		return api.ResourceImage
	case strings.HasPrefix(accept, "font/"):
		return api.ResourceFont
	case strings.HasPrefix(accept, "audio/"), strings.HasPrefix(accept, "video/"):
		return api.ResourceMedia
	case strings.Contains(accept, "application/json"):
		return api.ResourceFetch
	}
	return api.ResourceOther
}
