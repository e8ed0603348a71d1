package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
	"github.com/imerljak/flow-craft-sub001/pkg/api"
	"github.com/imerljak/flow-craft-sub001/pkg/logging"
	"github.com/imerljak/flow-craft-sub001/pkg/policy"
)

const (
	// Readiness is announced repeatedly after startup so clients that
	// connect during the window cannot miss it.
	readyInterval = 100 * time.Millisecond
	readyWindow   = 2 * time.Second

	maxLineBytes = 10 * 1024 * 1024
)

// Decider evaluates a request against the live rule set.
type Decider interface {
	Decide(ctx context.Context, req *api.RequestDescriptor) (policy.Decision, error)
}

// RuleLister returns the full stored rule list.
type RuleLister interface {
	ListRules(ctx context.Context) ([]api.Rule, error)
}

// Config wires a Server to its collaborators. Emitter and OnLog are
// optional.
type Config struct {
	Socket  string
	Decider Decider
	Rules   RuleLister
	Emitter *logging.Emitter
	OnLog   func(direction string, entry *LogEntry)
	Logger  *slog.Logger
}

// Server answers mock checks over a unix socket speaking newline-delimited
// JSON. One goroutine serves each connection; replies to a connection are
// serialized by a per-connection write lock.
type Server struct {
	cfg    Config
	logger *slog.Logger

	ln     net.Listener
	mu     sync.Mutex
	conns  map[*serverConn]struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

type serverConn struct {
	c  net.Conn
	mu sync.Mutex
}

func (c *serverConn) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.c.Write(data)
	return err
}

// NewServer creates a bridge server. Call Start to begin serving.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: logger.With("component", "bridge"),
		conns:  make(map[*serverConn]struct{}),
	}
}

// Start binds the socket and begins accepting connections. A stale socket
// file from a previous run is removed first. Serving stops when ctx ends
// or Stop is called; a stopped server returns ErrClosed.
func (s *Server) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_ = os.Remove(s.cfg.Socket)
	ln, err := net.Listen("unix", s.cfg.Socket)
	if err != nil {
		return errx.Wrap(ErrListen, err)
	}
	s.ln = ln
	s.logger.Info("bridge listening", "socket", s.cfg.Socket)

	s.wg.Add(2)
	go s.acceptLoop(ctx)
	go s.announceReady(ctx)
	return nil
}

// Stop closes the listener and all connections, then waits for the serve
// goroutines to drain.
func (s *Server) Stop() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.mu.Lock()
	for cn := range s.conns {
		_ = cn.c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// BroadcastSync tells every connected client to drop its cached rules.
func (s *Server) BroadcastSync(count int) {
	s.broadcast(SyncMockRules{Type: TypeSyncMockRules, Count: count})
}

func (s *Server) announceReady(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(readyInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(readyWindow)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			s.broadcast(BridgeReady{Type: TypeBridgeReady})
		}
	}
}

func (s *Server) broadcast(v any) {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for cn := range s.conns {
		conns = append(conns, cn)
	}
	s.mu.Unlock()
	for _, cn := range conns {
		if err := cn.send(v); err != nil {
			s.logger.Debug("bridge broadcast failed", "error", err)
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if s.closed.Load() || ctx.Err() != nil {
				return
			}
			s.logger.Warn("bridge accept failed", "error", err)
			return
		}
		cn := &serverConn{c: c}
		s.mu.Lock()
		s.conns[cn] = struct{}{}
		s.mu.Unlock()

		// Late joiners get readiness immediately instead of waiting for
		// the broadcast window.
		_ = cn.send(BridgeReady{Type: TypeBridgeReady})

		s.wg.Add(1)
		go s.serveConn(ctx, cn)
	}
}

func (s *Server) serveConn(ctx context.Context, cn *serverConn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, cn)
		s.mu.Unlock()
		_ = cn.c.Close()
	}()

	scanner := bufio.NewScanner(cn.c)
	scanner.Buffer(make([]byte, 1024*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		s.dispatch(ctx, cn, line)
	}
	if err := scanner.Err(); err != nil && !s.closed.Load() {
		s.logger.Debug("bridge connection read error", "error", err)
	}
}

func (s *Server) dispatch(ctx context.Context, cn *serverConn, line []byte) {
	typ, err := messageType(line)
	if err != nil {
		s.logger.Warn("undecodable bridge message", "error", err)
		return
	}
	switch typ {
	case TypeCheckMock:
		var msg CheckMock
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Warn("malformed mock check", "error", err)
			return
		}
		s.handleCheckMock(ctx, cn, &msg)
	case TypeFindMockRule:
		var msg FindMockRule
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Warn("malformed rule lookup", "error", err)
			return
		}
		s.handleFindMockRule(ctx, cn, &msg)
	case TypeGetMockRules:
		var msg GetMockRules
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Warn("malformed rule list request", "error", err)
			return
		}
		s.handleGetMockRules(ctx, cn, &msg)
	case TypeLogRequest, TypeLogResponse:
		var msg LogMessage
		if err := json.Unmarshal(line, &msg); err != nil || msg.Entry == nil {
			s.logger.Debug("malformed log message", "error", err)
			return
		}
		s.handleLog(typ, msg.Entry)
	default:
		s.logger.Debug("ignoring bridge message", "type", typ)
	}
}

// decideMock returns the wire mock for a URL, or nil when the winning rule
// is not a mock (or nothing matches).
func (s *Server) decideMock(ctx context.Context, rawURL string) (*WireMock, string) {
	d, err := s.cfg.Decider.Decide(ctx, &api.RequestDescriptor{URL: rawURL})
	if err != nil {
		s.logger.Warn("mock decision failed", "url", rawURL, "error", err)
		return nil, ""
	}
	mock, ok := d.Effect.(policy.Mock)
	if !ok {
		return nil, ""
	}
	return WireMockFromAPI(mock.Response), d.Rule.ID
}

func (s *Server) handleCheckMock(ctx context.Context, cn *serverConn, msg *CheckMock) {
	mock, ruleID := s.decideMock(ctx, msg.URL)
	reply := MockDecision{
		Type:      TypeMockResponse,
		RequestID: msg.RequestID,
		Mock:      mock,
		RuleID:    ruleID,
	}
	if err := cn.send(reply); err != nil {
		s.logger.Debug("mock decision send failed", "error", err)
		return
	}
	if mock != nil && s.cfg.Emitter != nil {
		_ = s.cfg.Emitter.Emit(logging.EventMockServed, "mock served for "+msg.URL, ruleID, nil,
			&logging.MockServedData{RuleID: ruleID, StatusCode: mock.StatusCode, DelayMS: mock.Delay})
	}
}

func (s *Server) handleFindMockRule(ctx context.Context, cn *serverConn, msg *FindMockRule) {
	mock, ruleID := s.decideMock(ctx, msg.URL)
	reply := FindMockRuleResult{
		Type:      TypeFindMockRule,
		RequestID: msg.RequestID,
		Success:   true,
		Mock:      mock,
		RuleID:    ruleID,
	}
	if err := cn.send(reply); err != nil {
		s.logger.Debug("rule lookup send failed", "error", err)
	}
}

func (s *Server) handleGetMockRules(ctx context.Context, cn *serverConn, msg *GetMockRules) {
	reply := GetMockRulesResult{
		Type:      TypeGetMockRules,
		RequestID: msg.RequestID,
		Rules:     []api.Rule{},
	}
	rules, err := s.cfg.Rules.ListRules(ctx)
	if err != nil {
		s.logger.Warn("rule list failed", "error", err)
	} else {
		reply.Success = true
		reply.Rules = rules
	}
	if err := cn.send(reply); err != nil {
		s.logger.Debug("rule list send failed", "error", err)
	}
}

func (s *Server) handleLog(direction string, entry *LogEntry) {
	if s.cfg.OnLog != nil {
		s.cfg.OnLog(direction, entry)
	}
	if s.cfg.Emitter == nil {
		return
	}
	host, path := splitURL(entry.URL)
	switch direction {
	case TypeLogRequest:
		_ = s.cfg.Emitter.Emit(logging.EventHTTPRequest,
			entry.Method+" "+entry.URL, entry.RuleID, nil,
			&logging.HTTPRequestData{
				Method:  entry.Method,
				Host:    host,
				Path:    path,
				Matched: entry.RuleID != "",
			})
	case TypeLogResponse:
		_ = s.cfg.Emitter.Emit(logging.EventHTTPResponse,
			entry.Method+" "+entry.URL, entry.RuleID, nil,
			&logging.HTTPResponseData{
				Method:     entry.Method,
				Host:       host,
				Path:       path,
				StatusCode: entry.StatusCode,
				DurationMS: entry.DurationMS,
				BodyBytes:  int64(len(entry.Body)),
				Mocked:     entry.Mocked,
			})
	}
}

func splitURL(rawURL string) (host, path string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", rawURL
	}
	return u.Host, u.Path
}
