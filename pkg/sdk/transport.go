package sdk

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/imerljak/flow-craft-sub001/pkg/bridge"
)

// Transport wraps another http.RoundTripper and consults the engine before
// every request. When a mock rule applies the response is synthesized
// locally and the wrapped transport is never called; otherwise the request
// proceeds to the network exactly once. Any bridge failure, including the
// decision timeout, degrades to passthrough.
type Transport struct {
	client *Client
	next   http.RoundTripper
	logger *slog.Logger

	// ReportTraffic mirrors request/response pairs to the engine's
	// traffic log. Off by default; reporting is fire-and-forget.
	ReportTraffic bool
}

// NewTransport wraps next with mock interception. A nil next falls back to
// http.DefaultTransport.
func NewTransport(client *Client, next http.RoundTripper) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{
		client: client,
		next:   next,
		logger: client.logger.With("component", "transport"),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	url := req.URL.String()

	mock, ruleID, err := t.client.CheckMock(req.Context(), url)
	if err != nil {
		// No mock decision arrived; the request proceeds untouched.
		t.logger.Debug("mock check failed, passing through", "url", url, "error", err)
		return t.passthrough(req, start)
	}
	if mock == nil {
		return t.passthrough(req, start)
	}

	if mock.Delay > 0 {
		delay := time.NewTimer(time.Duration(mock.Delay) * time.Millisecond)
		defer delay.Stop()
		select {
		case <-delay.C:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}

	resp := synthesizeResponse(req, mock)
	if t.ReportTraffic {
		_ = t.client.LogResponse(&bridge.LogEntry{
			URL:        url,
			Method:     req.Method,
			StatusCode: resp.StatusCode,
			Mocked:     true,
			RuleID:     ruleID,
			DurationMS: time.Since(start).Milliseconds(),
			Timestamp:  start.UnixMilli(),
		})
	}
	return resp, nil
}

func (t *Transport) passthrough(req *http.Request, start time.Time) (*http.Response, error) {
	if t.ReportTraffic {
		_ = t.client.LogRequest(&bridge.LogEntry{
			URL:       req.URL.String(),
			Method:    req.Method,
			Timestamp: start.UnixMilli(),
		})
	}
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if t.ReportTraffic {
		_ = t.client.LogResponse(&bridge.LogEntry{
			URL:        req.URL.String(),
			Method:     req.Method,
			StatusCode: resp.StatusCode,
			DurationMS: time.Since(start).Milliseconds(),
			Timestamp:  start.UnixMilli(),
		})
	}
	return resp, nil
}

// synthesizeResponse builds an *http.Response from a wire mock without
// touching the network.
func synthesizeResponse(req *http.Request, mock *bridge.WireMock) *http.Response {
	statusText := mock.StatusText
	if statusText == "" {
		statusText = http.StatusText(mock.StatusCode)
	}

	header := make(http.Header, len(mock.Headers))
	for name, value := range mock.Headers {
		header.Set(name, value)
	}

	body := mock.Body
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", mock.StatusCode, statusText),
		StatusCode:    mock.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
