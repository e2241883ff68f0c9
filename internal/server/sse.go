package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jonathan/levelup/internal/types"
)

// SSEWriter helps write Server-Sent Events
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter sets the event-stream headers. It fails when the writer
// cannot flush.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends one named event with a JSON payload.
func (s *SSEWriter) WriteEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Send writes a review stream event under its type.
func (s *SSEWriter) Send(ev types.StreamEvent) error {
	return s.WriteEvent(ev.Type, ev)
}

// WriteError sends an error event
func (s *SSEWriter) WriteError(status int, message string) {
	s.Send(types.StreamEvent{ //nolint:errcheck
		Type:  types.EventError,
		Error: &types.ErrorResponse{Error: message, Details: http.StatusText(status)},
	})
}
