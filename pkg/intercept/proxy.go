package intercept

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
	"github.com/imerljak/flow-craft-sub001/pkg/api"
	"github.com/imerljak/flow-craft-sub001/pkg/logging"
	"github.com/imerljak/flow-craft-sub001/pkg/policy"
)

// Decider evaluates a request against the live rule set.
type Decider interface {
	Decide(ctx context.Context, req *api.RequestDescriptor) (policy.Decision, error)
}

// Config wires a Proxy to its collaborators. CAPool nil means CONNECT
// tunnels are relayed opaquely and only plain HTTP is intercepted. Emitter
// and OnEvent are optional.
type Config struct {
	Listen  string
	Decider Decider
	CAPool  *CAPool
	Emitter *logging.Emitter
	OnEvent func(api.InterceptEvent)
	Logger  *slog.Logger
}

// Proxy is the network-layer interception adapter: an HTTP forward proxy
// with optional TLS MITM that applies rule effects before a request leaves
// the host. A decision that cannot be taken degrades to plain forwarding;
// a broken rule never turns the proxy into a black hole.
type Proxy struct {
	cfg       Config
	logger    *slog.Logger
	transport *http.Transport

	baseCtx context.Context
	srv     *http.Server
	ln      net.Listener
}

// NewProxy creates a proxy. Call Start to begin serving.
func NewProxy(cfg Config) *Proxy {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		cfg:    cfg,
		logger: logger.With("component", "proxy"),
		transport: &http.Transport{
			Proxy:                 nil,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

// Start binds the listen address and serves until ctx ends or Stop is
// called.
func (p *Proxy) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.cfg.Listen)
	if err != nil {
		return errx.Wrap(ErrListen, err)
	}
	p.ln = ln
	p.baseCtx = ctx
	p.srv = &http.Server{
		Handler:           p,
		ReadHeaderTimeout: 10 * time.Second,
	}
	p.logger.Info("proxy listening", "addr", ln.Addr().String(), "mitm", p.cfg.CAPool != nil)
	go func() {
		if err := p.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			p.logger.Warn("proxy serve ended", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, useful when Listen was ":0".
func (p *Proxy) Addr() string {
	if p.ln == nil {
		return p.cfg.Listen
	}
	return p.ln.Addr().String()
}

// Stop shuts the proxy down. Hijacked MITM connections close with their
// clients.
func (p *Proxy) Stop(ctx context.Context) error {
	if p.srv == nil {
		return nil
	}
	p.transport.CloseIdleConnections()
	return p.srv.Shutdown(ctx)
}

// ServeHTTP dispatches proxied plain requests and CONNECT tunnels.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
		return
	}
	if !r.URL.IsAbs() {
		http.Error(w, "flowcraft is a forward proxy; use an absolute request URL", http.StatusBadRequest)
		return
	}
	resp := p.process(r.Context(), r)
	defer resp.Body.Close()
	writeProxyResponse(w, resp)
}

// process runs the full decide-and-apply pipeline for one request and
// always produces a response: a synthesized one for block/redirect/mock,
// the upstream's (possibly rewritten) response otherwise.
func (p *Proxy) process(ctx context.Context, req *http.Request) *http.Response {
	start := time.Now()
	desc := &api.RequestDescriptor{
		URL:          req.URL.String(),
		Method:       req.Method,
		ResourceType: InferResourceType(req.Header),
		ReceivedAt:   start,
	}

	decision, err := p.cfg.Decider.Decide(ctx, desc)
	if err != nil {
		// An unreadable rule set means inert proxying, never an outage.
		p.logger.Warn("decision failed, passing through", "url", desc.URL, "error", err)
		decision = policy.Decision{}
	}
	p.emitRequest(req, decision)

	var inject *policy.InjectScript
	switch eff := decision.Effect.(type) {
	case policy.Block:
		resp := synthesize(req, http.StatusForbidden, "", textHeader(), []byte(api.ErrBlocked.Error()+"\n"))
		p.finish(req, decision, resp, start, true, false)
		return resp
	case policy.Redirect:
		h := make(http.Header)
		h.Set("Location", eff.URL)
		resp := synthesize(req, http.StatusTemporaryRedirect, "", h, nil)
		p.finish(req, decision, resp, start, false, false)
		return resp
	case policy.Mock:
		if eff.Response.DelayMS > 0 {
			delay := time.NewTimer(time.Duration(eff.Response.DelayMS) * time.Millisecond)
			select {
			case <-delay.C:
			case <-ctx.Done():
				delay.Stop()
			}
		}
		h := make(http.Header)
		for name, value := range eff.Response.Headers {
			h.Set(name, value)
		}
		resp := synthesize(req, eff.Response.StatusCode, eff.Response.StatusText, h, []byte(eff.Response.Body))
		p.finish(req, decision, resp, start, false, true)
		return resp
	case policy.ModifyHeaders:
		policy.ApplyHeaderOps(req.Header, eff.Ops)
	case policy.RewriteQuery:
		policy.ApplyQueryOps(req.URL, eff.Ops)
	case policy.InjectScript:
		inject = &eff
	}

	resp, err := p.forward(ctx, req)
	if err != nil {
		p.logger.Debug("upstream request failed", "url", desc.URL, "error", err)
		resp = synthesize(req, http.StatusBadGateway, "", textHeader(), []byte("Failed to reach upstream\n"))
		p.finish(req, decision, resp, start, false, false)
		return resp
	}

	if inject != nil && IsHTMLResponse(resp.Header.Get("Content-Type")) {
		rewriteBody(resp, func(body []byte) []byte {
			return InjectScript(body, inject.Code, inject.Timing)
		})
	}
	p.finish(req, decision, resp, start, false, false)
	return resp
}

// forward sends the request upstream and returns the response with its
// body fully buffered, so effects and log sinks see complete payloads.
func (p *Proxy) forward(ctx context.Context, req *http.Request) (*http.Response, error) {
	out := req.Clone(ctx)
	out.RequestURI = ""
	out.Header.Del("Proxy-Connection")
	out.Header.Del("Proxy-Authorization")

	resp, err := p.transport.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(strings.NewReader(string(body)))
	resp.ContentLength = int64(len(body))
	resp.TransferEncoding = nil
	resp.Header.Del("Transfer-Encoding")
	resp.Header.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	return resp, nil
}

func (p *Proxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking unsupported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		p.logger.Warn("hijack failed", "error", err)
		return
	}
	if _, err := io.WriteString(clientConn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		clientConn.Close()
		return
	}

	if p.cfg.CAPool == nil {
		p.tunnel(clientConn, r.Host)
		return
	}
	p.mitm(clientConn, r.Host)
}

// tunnel blindly relays bytes for CONNECT targets when MITM is off.
func (p *Proxy) tunnel(clientConn net.Conn, target string) {
	defer clientConn.Close()
	upstream, err := net.DialTimeout("tcp", target, 30*time.Second)
	if err != nil {
		return
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(upstream, clientConn)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(clientConn, upstream)
		done <- struct{}{}
	}()
	<-done
}

// mitm terminates TLS with a leaf cert for the requested host and runs the
// same pipeline as plain HTTP on the decrypted stream.
func (p *Proxy) mitm(clientConn net.Conn, target string) {
	defer clientConn.Close()

	host, _, err := net.SplitHostPort(target)
	if err != nil {
		host = target
	}

	tlsConn := tls.Server(clientConn, &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			name := hello.ServerName
			if name == "" {
				name = host
			}
			return p.cfg.CAPool.GetCertificate(name)
		},
	})
	if err := tlsConn.Handshake(); err != nil {
		return
	}
	defer tlsConn.Close()

	serverName := tlsConn.ConnectionState().ServerName
	if serverName == "" {
		serverName = host
	}

	reader := bufio.NewReader(tlsConn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			return
		}
		req.URL.Scheme = "https"
		req.URL.Host = req.Host
		if req.URL.Host == "" {
			req.URL.Host = serverName
		}

		resp := p.process(p.baseCtx, req)
		err = resp.Write(tlsConn)
		resp.Body.Close()
		if err != nil {
			return
		}
		if req.Close || resp.Close {
			return
		}
	}
}

func (p *Proxy) emitRequest(req *http.Request, decision policy.Decision) {
	if p.cfg.Emitter == nil {
		return
	}
	data := &logging.HTTPRequestData{
		Method:       req.Method,
		Host:         req.URL.Host,
		Path:         req.URL.Path,
		ResourceType: string(InferResourceType(req.Header)),
		Matched:      decision.Rule != nil,
		Effect:       policy.Name(decision.Effect),
	}
	ruleID := ""
	if decision.Rule != nil {
		ruleID = decision.Rule.ID
	}
	summary := fmt.Sprintf("%s %s%s", req.Method, req.URL.Host, req.URL.Path)
	_ = p.cfg.Emitter.Emit(logging.EventHTTPRequest, summary, ruleID, nil, data)
}

// finish fans an outcome out to the emitter and the intercept-event feed.
func (p *Proxy) finish(req *http.Request, decision policy.Decision, resp *http.Response, start time.Time, blocked, mocked bool) {
	duration := time.Since(start).Milliseconds()

	if p.cfg.Emitter != nil {
		data := &logging.HTTPResponseData{
			Method:     req.Method,
			Host:       req.URL.Host,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			DurationMS: duration,
			BodyBytes:  resp.ContentLength,
			Mocked:     mocked,
		}
		ruleID := ""
		if decision.Rule != nil {
			ruleID = decision.Rule.ID
		}
		summary := fmt.Sprintf("%s %s%s -> %d (%dms)",
			req.Method, req.URL.Host, req.URL.Path, resp.StatusCode, duration)
		_ = p.cfg.Emitter.Emit(logging.EventHTTPResponse, summary, ruleID, nil, data)
	}

	if p.cfg.OnEvent != nil {
		ev := api.InterceptEvent{
			Adapter:    logging.AdapterProxy,
			Method:     req.Method,
			URL:        req.URL.String(),
			Host:       req.URL.Host,
			Effect:     policy.Name(decision.Effect),
			StatusCode: resp.StatusCode,
			Blocked:    blocked,
			Mocked:     mocked,
			DurationMS: duration,
		}
		if decision.Rule != nil {
			ev.RuleID = decision.Rule.ID
			ev.RuleName = decision.Rule.Name
		}
		p.cfg.OnEvent(ev)
	}
}

// rewriteBody replaces the buffered response body and fixes its framing.
func rewriteBody(resp *http.Response, fn func([]byte) []byte) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		resp.Body = io.NopCloser(strings.NewReader(""))
		return
	}
	body = fn(body)
	resp.Body = io.NopCloser(strings.NewReader(string(body)))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", fmt.Sprintf("%d", len(body)))
}

func synthesize(req *http.Request, status int, statusText string, header http.Header, body []byte) *http.Response {
	if status == 0 {
		status = http.StatusOK
	}
	if statusText == "" {
		statusText = http.StatusText(status)
	}
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, statusText),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(string(body))),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func textHeader() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return h
}

func writeProxyResponse(w http.ResponseWriter, resp *http.Response) {
	for name, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
