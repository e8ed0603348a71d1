package logging

// Sink consumes structured traffic events.
// Implementations must be safe for concurrent use.
type Sink interface {
	// Write persists or forwards a single event.
	// Implementations should not modify the event.
	Write(event *Event) error

	// Close flushes any buffered data and releases resources.
	Close() error
}

// FuncSink adapts a function into a Sink with a no-op Close. Useful for
// forwarding events into a channel or a test capture.
type FuncSink func(event *Event) error

func (f FuncSink) Write(event *Event) error { return f(event) }

func (f FuncSink) Close() error { return nil }
