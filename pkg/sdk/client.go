// Package sdk lets a Go process ask a running flowcraft engine for mock
// decisions and wrap its outbound HTTP with rule effects.
//
// Typical use installs the transport into an http.Client:
//
//	client, err := sdk.Dial(sdk.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	httpClient := &http.Client{Transport: sdk.NewTransport(client, nil)}
//	resp, err := httpClient.Get("https://api.example.com/users")
//
// Requests the engine has a mock rule for are answered locally; everything
// else proceeds to the network exactly once.
package sdk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
	"github.com/imerljak/flow-craft-sub001/pkg/api"
	"github.com/imerljak/flow-craft-sub001/pkg/bridge"
)

const maxLineBytes = 10 * 1024 * 1024

// Options configures a Client. Environment variables override defaults via
// FLOWCRAFT_BRIDGE_SOCKET and FLOWCRAFT_BRIDGE_TIMEOUT.
type Options struct {
	BridgeSocket  string        `envconfig:"BRIDGE_SOCKET"`
	BridgeTimeout time.Duration `envconfig:"BRIDGE_TIMEOUT" default:"1s"`

	Logger *slog.Logger `ignored:"true"`
}

// DefaultOptions returns options pointing at the default engine socket,
// with any FLOWCRAFT_* environment overrides applied.
func DefaultOptions() Options {
	opts, err := OptionsFromEnv()
	if err != nil {
		return Options{BridgeTimeout: time.Second}
	}
	return opts
}

// OptionsFromEnv builds options from FLOWCRAFT_* environment variables.
func OptionsFromEnv() (Options, error) {
	var opts Options
	if err := envconfig.Process("flowcraft", &opts); err != nil {
		return Options{}, errx.Wrap(ErrBadOptions, err)
	}
	return opts, nil
}

func (o Options) socket() string {
	if o.BridgeSocket != "" {
		return o.BridgeSocket
	}
	cfg := api.DefaultConfig()
	return cfg.Bridge.GetSocket(cfg.GetDataDir())
}

func (o Options) timeout() time.Duration {
	if o.BridgeTimeout > 0 {
		return o.BridgeTimeout
	}
	return time.Second
}

// Client talks to the engine's bridge socket. All methods are safe for
// concurrent use. Replies are matched to callers by request ID; a reply
// arriving after its caller gave up is dropped.
type Client struct {
	conn    net.Conn
	logger  *slog.Logger
	timeout time.Duration

	writeMu sync.Mutex // serializes writes to the socket

	pendingMu sync.Mutex
	pending   map[string]chan json.RawMessage

	readerOnce sync.Once
	closed     atomic.Bool

	readyOnce sync.Once
	ready     chan struct{}

	syncMu sync.Mutex
	onSync []func()
}

// Dial connects to the engine's bridge socket and starts the reader.
func Dial(opts Options) (*Client, error) {
	conn, err := net.Dial("unix", opts.socket())
	if err != nil {
		return nil, errx.Wrap(ErrDial, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		conn:    conn,
		logger:  logger.With("component", "sdk"),
		timeout: opts.timeout(),
		pending: make(map[string]chan json.RawMessage),
		ready:   make(chan struct{}),
	}
	c.readerOnce.Do(func() { go c.readLoop() })
	return c, nil
}

// Close tears down the connection. In-flight calls fail with ErrClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.conn.Close()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	return err
}

// WaitReady blocks until the engine announces readiness or ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnSync registers a callback invoked whenever the engine pushes a rule
// sync. Callbacks run on the reader goroutine and must not block.
func (c *Client) OnSync(fn func()) {
	c.syncMu.Lock()
	c.onSync = append(c.onSync, fn)
	c.syncMu.Unlock()
}

// CheckMock asks whether a mock applies to url. Returns the wire mock and
// the deciding rule's ID, or (nil, "") when the engine answers "no mock".
// A decision that does not arrive within the client timeout returns
// ErrDecisionTimeout; the late reply, if it ever lands, is discarded.
func (c *Client) CheckMock(ctx context.Context, url string) (*bridge.WireMock, string, error) {
	id := c.nextID()
	raw, err := c.roundTrip(ctx, id, bridge.CheckMock{
		Type:      bridge.TypeCheckMock,
		RequestID: id,
		URL:       url,
	})
	if err != nil {
		return nil, "", err
	}
	var decision bridge.MockDecision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return nil, "", errx.Wrap(bridge.ErrDecodeReply, err)
	}
	return decision.Mock, decision.RuleID, nil
}

// FindMockRule is the privileged lookup variant of CheckMock.
func (c *Client) FindMockRule(ctx context.Context, url string) (*bridge.WireMock, string, error) {
	id := c.nextID()
	raw, err := c.roundTrip(ctx, id, bridge.FindMockRule{
		Type:      bridge.TypeFindMockRule,
		RequestID: id,
		URL:       url,
	})
	if err != nil {
		return nil, "", err
	}
	var result bridge.FindMockRuleResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, "", errx.Wrap(bridge.ErrDecodeReply, err)
	}
	if !result.Success {
		return nil, "", ErrLookupFailed
	}
	return result.Mock, result.RuleID, nil
}

// GetMockRules fetches the engine's full rule list.
func (c *Client) GetMockRules(ctx context.Context) ([]api.Rule, error) {
	id := c.nextID()
	raw, err := c.roundTrip(ctx, id, bridge.GetMockRules{
		Type:      bridge.TypeGetMockRules,
		RequestID: id,
	})
	if err != nil {
		return nil, err
	}
	var result bridge.GetMockRulesResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errx.Wrap(bridge.ErrDecodeReply, err)
	}
	if !result.Success {
		return nil, ErrLookupFailed
	}
	return result.Rules, nil
}

// LogRequest reports an outbound request. Fire-and-forget.
func (c *Client) LogRequest(entry *bridge.LogEntry) error {
	return c.send(bridge.LogMessage{Type: bridge.TypeLogRequest, Entry: entry})
}

// LogResponse reports a completed response. Fire-and-forget.
func (c *Client) LogResponse(entry *bridge.LogEntry) error {
	return c.send(bridge.LogMessage{Type: bridge.TypeLogResponse, Entry: entry})
}

func (c *Client) nextID() string {
	return uuid.NewString()
}

func (c *Client) send(v any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(data)
	return err
}

// roundTrip sends msg and waits for the reply carrying the same request
// ID. Exactly one of reply, timeout, or ctx cancellation wins; the pending
// entry is removed either way, so a losing reply is a no-op.
func (c *Client) roundTrip(ctx context.Context, requestID string, msg any) (json.RawMessage, error) {
	ch := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	c.pending[requestID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
	}()

	if err := c.send(msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case raw, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return raw, nil
	case <-timer.C:
		return nil, ErrDecisionTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 1024*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		c.handleLine(line)
	}
	if err := scanner.Err(); err != nil && !c.closed.Load() {
		c.logger.Debug("bridge read loop ended", "error", err)
	}
	_ = c.Close()
}

func (c *Client) handleLine(line []byte) {
	var head struct {
		Type      string `json:"type"`
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		c.logger.Warn("undecodable bridge message", "error", err)
		return
	}
	switch head.Type {
	case bridge.TypeBridgeReady:
		c.readyOnce.Do(func() { close(c.ready) })
	case bridge.TypeSyncMockRules:
		c.syncMu.Lock()
		callbacks := make([]func(), len(c.onSync))
		copy(callbacks, c.onSync)
		c.syncMu.Unlock()
		for _, fn := range callbacks {
			fn()
		}
	case bridge.TypeMockResponse, bridge.TypeFindMockRule, bridge.TypeGetMockRules:
		c.deliver(head.RequestID, line)
	default:
		c.logger.Debug("ignoring bridge message", "type", head.Type)
	}
}

func (c *Client) deliver(requestID string, line []byte) {
	raw := make(json.RawMessage, len(line))
	copy(raw, line)

	c.pendingMu.Lock()
	ch, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.pendingMu.Unlock()
	if !ok {
		// The caller already timed out or was cancelled.
		c.logger.Debug("dropping late bridge reply", "request_id", requestID)
		return
	}
	ch <- raw
}
