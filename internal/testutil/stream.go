package testutil

import (
	"fmt"
	"net/http"
	"time"
)

// StreamScript describes a canned streaming response.
type StreamScript struct {
	Status      int    // defaults to 200
	ContentType string // defaults to text/event-stream
	Body        string // written instead of Frames when Status is not 2xx
	Frames      []string
	// Delay is slept between frames.
	Delay time.Duration
	// HoldOpen keeps the response open after the last frame until the
	// client goes away.
	HoldOpen bool
	// Inspect is called with the incoming request before anything is written.
	Inspect func(*http.Request)
}

// SSEFrame renders payload as a single SSE data event.
func SSEFrame(payload string) string {
	return fmt.Sprintf("data: %s\n\n", payload)
}

// StreamHandler serves script, flushing after every frame.
func StreamHandler(script StreamScript) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if script.Inspect != nil {
			script.Inspect(r)
		}
		status := script.Status
		if status == 0 {
			status = http.StatusOK
		}
		if status < 200 || status > 299 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(script.Body))
			return
		}
		ct := script.ContentType
		if ct == "" {
			ct = "text/event-stream"
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(status)
		flusher, _ := w.(http.Flusher)
		for i, frame := range script.Frames {
			if i > 0 && script.Delay > 0 {
				select {
				case <-time.After(script.Delay):
				case <-r.Context().Done():
					return
				}
			}
			if _, err := w.Write([]byte(frame)); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if script.HoldOpen {
			<-r.Context().Done()
		}
	})
}
