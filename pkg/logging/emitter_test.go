package logging

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink records events in memory for test assertions.
type captureSink struct {
	mu     sync.Mutex
	events []*Event
	closed bool
}

func (s *captureSink) Write(event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Deep copy the event to avoid test races
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

func (s *captureSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestEmitter_MetadataStamping(t *testing.T) {
	sink := &captureSink{}
	emitter := NewEmitter(EmitterConfig{
		SessionID: "run-123",
		Adapter:   AdapterProxy,
	}, sink)

	err := emitter.Emit(EventHTTPRequest, "test summary", "", nil, nil)
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, "run-123", event.SessionID)
	assert.Equal(t, AdapterProxy, event.Adapter)
	assert.Equal(t, EventHTTPRequest, event.EventType)
	assert.Equal(t, "test summary", event.Summary)
	assert.True(t, event.Timestamp.UTC().Equal(event.Timestamp), "timestamp should be UTC")
}

func TestEmitter_DataMarshaling(t *testing.T) {
	sink := &captureSink{}
	emitter := NewEmitter(EmitterConfig{SessionID: "r", Adapter: "a"}, sink)

	data := &HTTPRequestData{
		Method:       "POST",
		Host:         "api.example.com",
		Path:         "/v1/users",
		ResourceType: "xhr",
		Matched:      true,
		Effect:       "modify_headers",
	}
	err := emitter.Emit(EventHTTPRequest, "test", "rule-1", nil, data)
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	assert.Equal(t, "rule-1", sink.events[0].RuleID)
	assert.NotNil(t, sink.events[0].Data)

	var parsed HTTPRequestData
	require.NoError(t, json.Unmarshal(sink.events[0].Data, &parsed))
	assert.Equal(t, "POST", parsed.Method)
	assert.True(t, parsed.Matched)
	assert.Equal(t, "modify_headers", parsed.Effect)
}

func TestEmitter_NilData(t *testing.T) {
	sink := &captureSink{}
	emitter := NewEmitter(EmitterConfig{SessionID: "r", Adapter: "a"}, sink)

	err := emitter.Emit(EventHTTPRequest, "test", "", nil, nil)
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	assert.Nil(t, sink.events[0].Data)
}

func TestEmitter_MultiSink(t *testing.T) {
	sink1 := &captureSink{}
	sink2 := &captureSink{}
	emitter := NewEmitter(EmitterConfig{SessionID: "r", Adapter: "a"}, sink1, sink2)

	err := emitter.Emit(EventHTTPRequest, "test", "", nil, nil)
	require.NoError(t, err)

	assert.Len(t, sink1.events, 1)
	assert.Len(t, sink2.events, 1)
}

func TestEmitter_NoSinks(t *testing.T) {
	emitter := NewEmitter(EmitterConfig{SessionID: "r", Adapter: "a"})
	err := emitter.Emit(EventHTTPRequest, "test", "", nil, nil)
	assert.NoError(t, err, "emitter with no sinks should not error")
}

func TestEmitter_WithAdapter(t *testing.T) {
	sink := &captureSink{}
	emitter := NewEmitter(EmitterConfig{SessionID: "r", Adapter: AdapterProxy}, sink)

	cdp := emitter.WithAdapter(AdapterCDP)
	require.NoError(t, cdp.Emit(EventHTTPRequest, "test", "", nil, nil))

	require.Len(t, sink.events, 1)
	assert.Equal(t, AdapterCDP, sink.events[0].Adapter)
	assert.Equal(t, "r", sink.events[0].SessionID)
}

func TestEmitter_WithAdapterNilReceiver(t *testing.T) {
	var emitter *Emitter
	assert.Nil(t, emitter.WithAdapter(AdapterCDP))
}

type errorSink struct{ err error }

func (s *errorSink) Write(*Event) error { return s.err }
func (s *errorSink) Close() error       { return s.err }

func TestEmitter_SinkErrorPropagation(t *testing.T) {
	sink := &errorSink{err: errors.New("write failed")}
	emitter := NewEmitter(EmitterConfig{SessionID: "r", Adapter: "a"}, sink)

	err := emitter.Emit(EventHTTPRequest, "test", "", nil, nil)
	assert.Error(t, err)
}

func TestEmitter_Close(t *testing.T) {
	sink1 := &captureSink{}
	sink2 := &captureSink{}
	emitter := NewEmitter(EmitterConfig{SessionID: "r", Adapter: "a"}, sink1, sink2)

	err := emitter.Close()
	assert.NoError(t, err)
	assert.True(t, sink1.closed)
	assert.True(t, sink2.closed)
}

func TestEmitter_CloseErrorCollection(t *testing.T) {
	sink1 := &errorSink{err: errors.New("close1")}
	sink2 := &errorSink{err: errors.New("close2")}
	emitter := NewEmitter(EmitterConfig{SessionID: "r", Adapter: "a"}, sink1, sink2)

	err := emitter.Close()
	assert.Error(t, err)
	assert.Equal(t, "close1", err.Error(), "should return first error")
}

func TestFuncSink(t *testing.T) {
	var got *Event
	sink := FuncSink(func(event *Event) error {
		got = event
		return nil
	})
	emitter := NewEmitter(EmitterConfig{SessionID: "r", Adapter: "a"}, sink)

	require.NoError(t, emitter.Emit(EventRuleSync, "rules changed", "", nil, &RuleSyncData{Change: "created", Count: 3}))
	require.NotNil(t, got)
	assert.Equal(t, EventRuleSync, got.EventType)
	assert.NoError(t, sink.Close())
}
