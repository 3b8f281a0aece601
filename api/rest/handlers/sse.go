package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"sales-forecast/core/monitoring"
)

// streamEvents relays a poll stream as server-sent events, one data frame
// per observation. A stream that ends in error gets a final "error" event.
func streamEvents[T any](w http.ResponseWriter, r *http.Request, events <-chan monitoring.Event[T]) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for e := range events {
		if e.Err != nil {
			writeEvent(w, "error", ErrorResponse{Error: e.Err.Error()})
			flusher.Flush()
			return
		}
		writeEvent(w, "", e.Value)
		flusher.Flush()
	}
	if r.Context().Err() != nil {
		log.Printf("Client left stream %s", r.URL.Path)
	}
}

func writeEvent(w http.ResponseWriter, event string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to encode stream event: %v", err)
		return
	}
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
