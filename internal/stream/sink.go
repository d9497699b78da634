package stream

import (
	"context"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Sink delivers events to one consumer. A Send error ends the stream.
type Sink interface {
	Send(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Send(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// SSEWriter writes framed events to w, flushing after each one when w supports it.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter creates an SSEWriter over w.
func NewSSEWriter(w io.Writer) *SSEWriter {
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher}
}

// SetSSEHeaders sets the response headers of an event stream.
func SetSSEHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

func (s *SSEWriter) Send(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	frame, err := event.Frame()
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}
	if _, err := s.w.Write(frame); err != nil {
		return errors.Wrap(err, "failed to write event")
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
