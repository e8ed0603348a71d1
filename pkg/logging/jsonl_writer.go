package logging

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
)

// JSONLWriter writes structured events as JSON-L to an underlying writer.
// It implements Sink and is safe for concurrent use.
type JSONLWriter struct {
	mu  sync.Mutex
	w   io.WriteCloser
	enc *json.Encoder
}

// NewJSONLWriter creates a JSON-L writer that appends to the given file
// path. The parent directory must already exist (caller is responsible for
// mkdir). The file is created if it does not exist.
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errx.Wrap(ErrCreateLogFile, err)
	}
	return &JSONLWriter{
		w:   f,
		enc: json.NewEncoder(f),
	}, nil
}

// NewRotatingJSONLWriter creates a JSON-L writer with size-based rotation.
// maxSizeMB caps a single file; maxBackups caps how many rotated files are
// kept. Zero values fall back to lumberjack defaults.
func NewRotatingJSONLWriter(path string, maxSizeMB, maxBackups int) *JSONLWriter {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
	return &JSONLWriter{
		w:   lj,
		enc: json.NewEncoder(lj),
	}
}

// Write serializes the event as a single JSON line.
func (w *JSONLWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(event); err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	return nil
}

// Close syncs (when file-backed) and closes the underlying writer.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if f, ok := w.w.(*os.File); ok {
		_ = f.Sync()
	}
	if err := w.w.Close(); err != nil {
		return errx.Wrap(ErrCloseWriter, err)
	}
	return nil
}
