package logging

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
)

// Capture is one full request/response record, bodies included. Captures
// are written as length-prefixed CBOR so binary bodies round-trip without
// escaping overhead.
type Capture struct {
	At          time.Time           `cbor:"at"`
	Adapter     string              `cbor:"adapter"`
	Method      string              `cbor:"method"`
	URL         string              `cbor:"url"`
	StatusCode  int                 `cbor:"status,omitempty"`
	RuleID      string              `cbor:"rule_id,omitempty"`
	Mocked      bool                `cbor:"mocked,omitempty"`
	Blocked     bool                `cbor:"blocked,omitempty"`
	ReqHeaders  map[string][]string `cbor:"req_headers,omitempty"`
	RespHeaders map[string][]string `cbor:"resp_headers,omitempty"`
	ReqBody     []byte              `cbor:"req_body,omitempty"`
	RespBody    []byte              `cbor:"resp_body,omitempty"`
	Truncated   bool                `cbor:"truncated,omitempty"`
}

// CaptureWriter appends captures to a file. Safe for concurrent use.
type CaptureWriter struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewCaptureWriter opens (creating if needed) the capture file at path.
func NewCaptureWriter(path string) (*CaptureWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errx.Wrap(ErrCreateLogFile, err)
	}
	return &CaptureWriter{w: f}, nil
}

// Write appends one capture: a 4-byte big-endian length, then the CBOR
// payload.
func (w *CaptureWriter) Write(c *Capture) error {
	data, err := cbor.Marshal(c)
	if err != nil {
		return errx.Wrap(ErrEncodeCapture, err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(lenBuf[:]); err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	if _, err := w.w.Write(data); err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	return nil
}

// Close closes the underlying file.
func (w *CaptureWriter) Close() error {
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

// ReadCaptures decodes every capture in the stream. A clean EOF at a frame
// boundary ends the read; a short frame is an error.
func ReadCaptures(r io.Reader) ([]Capture, error) {
	var captures []Capture
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return captures, nil
			}
			return captures, errx.Wrap(ErrDecodeCapture, err)
		}
		data := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(r, data); err != nil {
			return captures, errx.Wrap(ErrDecodeCapture, err)
		}
		var c Capture
		if err := cbor.Unmarshal(data, &c); err != nil {
			return captures, errx.Wrap(ErrDecodeCapture, err)
		}
		captures = append(captures, c)
	}
}

// TruncateBody caps a body at max bytes, reporting whether it was cut.
// A non-positive max means no capture at all.
func TruncateBody(body []byte, max int) ([]byte, bool) {
	if max <= 0 {
		return nil, len(body) > 0
	}
	if len(body) <= max {
		return body, false
	}
	return body[:max], true
}
