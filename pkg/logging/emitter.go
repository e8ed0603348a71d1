package logging

import (
	"encoding/json"
	"time"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
)

// EmitterConfig holds the static metadata configured at startup.
// All fields are stamped onto every event automatically.
type EmitterConfig struct {
	SessionID string // Caller-supplied; identifies one daemon run
	Adapter   string // One of the Adapter* constants
}

// Emitter provides convenience methods for emitting typed events.
// It holds static metadata and dispatches to one or more sinks.
//
// A nil *Emitter is safe to hold; callers guard emission with:
//
//	if emitter != nil {
//	    _ = emitter.Emit(...)
//	}
type Emitter struct {
	config EmitterConfig
	sinks  []Sink
}

// NewEmitter creates an emitter with the given configuration and sinks.
func NewEmitter(cfg EmitterConfig, sinks ...Sink) *Emitter {
	return &Emitter{
		config: cfg,
		sinks:  sinks,
	}
}

// WithAdapter returns a copy of the emitter stamping a different adapter
// name. The sinks are shared.
func (e *Emitter) WithAdapter(adapter string) *Emitter {
	if e == nil {
		return nil
	}
	cfg := e.config
	cfg.Adapter = adapter
	return &Emitter{config: cfg, sinks: e.sinks}
}

// Emit constructs an event with the emitter's static metadata and writes
// it to all registered sinks.
//
// Parameters:
//   - eventType: one of the Event* constants (e.g., EventHTTPRequest)
//   - summary: human-readable one-line summary
//   - ruleID: the rule that decided the request (empty when none matched)
//   - tags: optional tags for filtering (nil is fine)
//   - data: the typed data struct (e.g., *HTTPRequestData); nil for no payload
//
// Returns the first error encountered. Callers should discard errors
// with _ = (best-effort semantics).
func (e *Emitter) Emit(eventType, summary, ruleID string, tags []string, data interface{}) error {
	var rawData json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return errx.Wrap(ErrMarshalData, err)
		}
		rawData = b
	}

	event := &Event{
		Timestamp: time.Now().UTC(),
		SessionID: e.config.SessionID,
		Adapter:   e.config.Adapter,
		EventType: eventType,
		Summary:   summary,
		RuleID:    ruleID,
		Tags:      tags,
		Data:      rawData,
	}

	for _, sink := range e.sinks {
		if err := sink.Write(event); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all sinks. Returns the first error encountered.
func (e *Emitter) Close() error {
	var firstErr error
	for _, sink := range e.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
