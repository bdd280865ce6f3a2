package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tokensweep/tokensweep/progress"
)

// SSEEmitter writes progress events as Server-Sent Events
type SSEEmitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEEmitter creates a new SSE emitter from a response writer
func NewSSEEmitter(w http.ResponseWriter) (*SSEEmitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &SSEEmitter{w: w, flusher: flusher}, nil
}

// EmitEvent writes e under its kind as the SSE event name
func (e *SSEEmitter) EmitEvent(ev progress.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// EmitError emits an error event
func (e *SSEEmitter) EmitError(err error) error {
	errData, marshalErr := json.Marshal(map[string]any{
		"error": map[string]string{
			"message": err.Error(),
			"type":    "api_error",
		},
	})
	if marshalErr != nil {
		return marshalErr
	}

	if _, err := fmt.Fprintf(e.w, "event: error\ndata: %s\n\n", errData); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// EmitDone emits the final done signal
func (e *SSEEmitter) EmitDone() error {
	if _, err := fmt.Fprintf(e.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}
