// Package cdp drives rule effects against a live Chrome/Chromium browser
// over the DevTools protocol instead of proxying its traffic. The browser
// pauses every request at the Fetch domain; the adapter asks the policy
// engine for a decision and continues, fulfills or fails the request
// accordingly.
package cdp

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/rpcc"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
	"github.com/imerljak/flow-craft-sub001/pkg/api"
	"github.com/imerljak/flow-craft-sub001/pkg/intercept"
	"github.com/imerljak/flow-craft-sub001/pkg/logging"
	"github.com/imerljak/flow-craft-sub001/pkg/policy"
)

// Config wires an Adapter to its collaborators.
type Config struct {
	// DevToolsURL is the browser's DevTools endpoint,
	// e.g. http://127.0.0.1:9222.
	DevToolsURL string
	Decider     intercept.Decider
	Emitter     *logging.Emitter
	OnEvent     func(api.InterceptEvent)
	Logger      *slog.Logger
}

// Adapter attaches to one browser page target and intercepts its requests.
type Adapter struct {
	cfg    Config
	logger *slog.Logger

	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a detached adapter. Call Attach then Start.
func New(cfg Config) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:    cfg,
		logger: logger.With("component", "cdp"),
	}
}

// Attach dials the first page target exposed at the DevTools endpoint.
func (a *Adapter) Attach(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	dt := devtool.New(a.cfg.DevToolsURL)
	targets, err := dt.List(a.ctx)
	if err != nil {
		return errx.Wrap(ErrNoTarget, err)
	}
	var sel *devtool.Target
	for _, t := range targets {
		if t.Type == devtool.Page && t.WebSocketDebuggerURL != "" {
			sel = t
			break
		}
	}
	if sel == nil {
		return errx.With(ErrNoTarget, ": no page target at %s", a.cfg.DevToolsURL)
	}

	conn, err := rpcc.DialContext(a.ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return errx.Wrap(ErrDial, err)
	}
	a.conn = conn
	a.client = cdp.NewClient(conn)
	a.logger.Info("attached to browser target", "title", sel.Title, "url", sel.URL)
	return nil
}

// Start enables request pausing at both stages and begins consuming
// events. Returns once the consume loop is running.
func (a *Adapter) Start() error {
	if a.client == nil {
		return ErrNotAttached
	}
	if err := a.client.Network.Enable(a.ctx, nil); err != nil {
		return errx.Wrap(ErrEnable, err)
	}
	all := "*"
	patterns := []fetch.RequestPattern{
		{URLPattern: &all, RequestStage: fetch.RequestStageRequest},
		{URLPattern: &all, RequestStage: fetch.RequestStageResponse},
	}
	if err := a.client.Fetch.Enable(a.ctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		return errx.Wrap(ErrEnable, err)
	}
	go a.consume()
	return nil
}

// Stop detaches from the browser.
func (a *Adapter) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

func (a *Adapter) consume() {
	paused, err := a.client.Fetch.RequestPaused(a.ctx)
	if err != nil {
		a.logger.Warn("request paused stream unavailable", "error", err)
		return
	}
	defer paused.Close()
	for {
		ev, err := paused.Recv()
		if err != nil {
			if a.ctx.Err() == nil {
				a.logger.Debug("request paused stream ended", "error", err)
			}
			return
		}
		a.handle(ev)
	}
}

func (a *Adapter) handle(ev *fetch.RequestPausedReply) {
	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()

	responseStage := ev.ResponseStatusCode != nil
	start := time.Now()

	desc := &api.RequestDescriptor{
		URL:          ev.Request.URL,
		Method:       ev.Request.Method,
		ResourceType: resourceType(ev.ResourceType),
		ReceivedAt:   start,
	}
	decision, err := a.cfg.Decider.Decide(ctx, desc)
	if err != nil {
		a.logger.Warn("decision failed, continuing request", "url", desc.URL, "error", err)
		decision = policy.Decision{}
	}

	if responseStage {
		a.handleResponseStage(ctx, ev, decision)
		return
	}

	switch eff := decision.Effect.(type) {
	case policy.Block:
		a.fail(ctx, ev)
		a.report(ev, decision, 0, start, true, false)
	case policy.Mock:
		if eff.Response.DelayMS > 0 {
			select {
			case <-time.After(time.Duration(eff.Response.DelayMS) * time.Millisecond):
			case <-ctx.Done():
			}
		}
		a.fulfill(ctx, ev, eff.Response)
		a.report(ev, decision, eff.Response.StatusCode, start, false, true)
	case policy.Redirect:
		target := eff.URL
		a.continueWith(ctx, ev, &fetch.ContinueRequestArgs{RequestID: ev.RequestID, URL: &target})
		a.report(ev, decision, 0, start, false, false)
	case policy.ModifyHeaders:
		h := requestHeaders(ev.Request.Headers)
		policy.ApplyHeaderOps(h, eff.Ops)
		a.continueWith(ctx, ev, &fetch.ContinueRequestArgs{RequestID: ev.RequestID, Headers: headerEntries(h)})
		a.report(ev, decision, 0, start, false, false)
	case policy.RewriteQuery:
		rewritten := rewriteQuery(ev.Request.URL, eff.Ops)
		a.continueWith(ctx, ev, &fetch.ContinueRequestArgs{RequestID: ev.RequestID, URL: &rewritten})
		a.report(ev, decision, 0, start, false, false)
	default:
		// InjectScript applies at the response stage; everything else
		// continues untouched.
		a.continueWith(ctx, ev, &fetch.ContinueRequestArgs{RequestID: ev.RequestID})
	}
}

// handleResponseStage rewrites HTML bodies for script-injection rules and
// continues everything else unchanged.
func (a *Adapter) handleResponseStage(ctx context.Context, ev *fetch.RequestPausedReply, decision policy.Decision) {
	inject, ok := decision.Effect.(policy.InjectScript)
	if !ok || !isHTML(ev.ResponseHeaders) {
		_ = a.client.Fetch.ContinueResponse(ctx, &fetch.ContinueResponseArgs{RequestID: ev.RequestID})
		return
	}

	reply, err := a.client.Fetch.GetResponseBody(ctx, &fetch.GetResponseBodyArgs{RequestID: ev.RequestID})
	if err != nil {
		a.logger.Debug("response body unavailable, continuing", "url", ev.Request.URL, "error", err)
		_ = a.client.Fetch.ContinueResponse(ctx, &fetch.ContinueResponseArgs{RequestID: ev.RequestID})
		return
	}
	body := []byte(reply.Body)
	if reply.Base64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(reply.Body)
		if err == nil {
			body = decoded
		}
	}
	body = intercept.InjectScript(body, inject.Code, inject.Timing)

	status := 200
	if ev.ResponseStatusCode != nil {
		status = *ev.ResponseStatusCode
	}
	_ = a.client.Fetch.FulfillRequest(ctx, &fetch.FulfillRequestArgs{
		RequestID:       ev.RequestID,
		ResponseCode:    status,
		ResponseHeaders: ev.ResponseHeaders,
		Body:            body,
	})
	if a.cfg.Emitter != nil && decision.Rule != nil {
		_ = a.cfg.Emitter.Emit(logging.EventRuleMatch, "script injected into "+ev.Request.URL,
			decision.Rule.ID, nil,
			&logging.RuleMatchData{RuleID: decision.Rule.ID, RuleName: decision.Rule.Name, Effect: policy.Name(inject)})
	}
}

func (a *Adapter) fail(ctx context.Context, ev *fetch.RequestPausedReply) {
	_ = a.client.Fetch.FailRequest(ctx, &fetch.FailRequestArgs{
		RequestID:   ev.RequestID,
		ErrorReason: network.ErrorReasonBlockedByClient,
	})
}

func (a *Adapter) fulfill(ctx context.Context, ev *fetch.RequestPausedReply, mock api.MockResponse) {
	args := &fetch.FulfillRequestArgs{
		RequestID:    ev.RequestID,
		ResponseCode: mock.StatusCode,
	}
	if mock.StatusText != "" {
		phrase := mock.StatusText
		args.ResponsePhrase = &phrase
	}
	if len(mock.Headers) > 0 {
		args.ResponseHeaders = mockHeaderEntries(mock.Headers)
	}
	if mock.Body != "" {
		args.Body = []byte(mock.Body)
	}
	_ = a.client.Fetch.FulfillRequest(ctx, args)
}

func (a *Adapter) continueWith(ctx context.Context, ev *fetch.RequestPausedReply, args *fetch.ContinueRequestArgs) {
	_ = a.client.Fetch.ContinueRequest(ctx, args)
}

func (a *Adapter) report(ev *fetch.RequestPausedReply, decision policy.Decision, status int, start time.Time, blocked, mocked bool) {
	duration := time.Since(start).Milliseconds()
	host := ""
	if u, err := url.Parse(ev.Request.URL); err == nil {
		host = u.Host
	}

	if a.cfg.Emitter != nil && decision.Rule != nil {
		_ = a.cfg.Emitter.Emit(logging.EventRuleMatch,
			ev.Request.Method+" "+ev.Request.URL,
			decision.Rule.ID, nil,
			&logging.RuleMatchData{
				RuleID:   decision.Rule.ID,
				RuleName: decision.Rule.Name,
				Effect:   policy.Name(decision.Effect),
			})
	}
	if a.cfg.OnEvent != nil {
		evOut := api.InterceptEvent{
			Adapter:    logging.AdapterCDP,
			Method:     ev.Request.Method,
			URL:        ev.Request.URL,
			Host:       host,
			Effect:     policy.Name(decision.Effect),
			StatusCode: status,
			Blocked:    blocked,
			Mocked:     mocked,
			DurationMS: duration,
		}
		if decision.Rule != nil {
			evOut.RuleID = decision.Rule.ID
			evOut.RuleName = decision.Rule.Name
		}
		a.cfg.OnEvent(evOut)
	}
}

func rewriteQuery(rawURL string, ops []api.FieldOp) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	policy.ApplyQueryOps(u, ops)
	return u.String()
}

func isHTML(headers []fetch.HeaderEntry) bool {
	for _, h := range headers {
		if strings.EqualFold(h.Name, "content-type") {
			return intercept.IsHTMLResponse(h.Value)
		}
	}
	return false
}
