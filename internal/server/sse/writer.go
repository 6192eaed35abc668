// Package sse writes the dispatcher's live Anthropic event sequence
// (translate.StreamEvent) onto an HTTP response as Server-Sent Events,
// honoring the caller's context so a client disconnect stops the write
// loop at the next event boundary instead of buffering forever.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/relaycc/cc-dispatch/internal/translate"
)

// Writer wraps an http.ResponseWriter for SSE streaming of the
// dispatcher's public event taxonomy.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter creates a new SSE writer, failing if w doesn't support
// flushing (required for incremental delivery).
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	return &Writer{
		w:       w,
		flusher: flusher,
	}, nil
}

// SetHeaders sets the SSE response headers
func (sw *Writer) SetHeaders() {
	sw.w.Header().Set("Content-Type", "text/event-stream")
	sw.w.Header().Set("Cache-Control", "no-cache")
	sw.w.Header().Set("Connection", "keep-alive")
	sw.w.Header().Set("X-Accel-Buffering", "no")
}

// WriteStreamEvent writes one translate.StreamEvent as an SSE frame,
// checking ctx first so a cancelled request stops writing at this
// suspension boundary rather than after marshaling and flushing.
func (sw *Writer) WriteStreamEvent(ctx context.Context, event translate.StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	jsonData, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}
	return sw.writeFrame(event.Event, jsonData)
}

// WriteRaw writes a pre-encoded JSON payload as an SSE frame of the given
// event type, used for the terminal error envelope.
func (sw *Writer) WriteRaw(eventType string, jsonData []byte) error {
	return sw.writeFrame(eventType, jsonData)
}

func (sw *Writer) writeFrame(eventType string, jsonData []byte) error {
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}
