package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/conseiller-portal/messagerie/pkg/metrics"
)

// DefaultHeartbeatInterval keeps idle SSE connections open through proxies.
const DefaultHeartbeatInterval = 30 * time.Second

// HeartbeatEvent is sent on idle streams.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// startSSE writes the event-stream headers. It fails when the writer cannot flush.
func startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

// pushLatest hands v to the stream, replacing an undelivered older snapshot.
// Snapshots are full state, so dropping an intermediate one loses nothing.
func pushLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// streamUpdates writes every update as an SSE event until the client leaves.
func streamUpdates[T any](ctx context.Context, w http.ResponseWriter, flusher http.Flusher, event string, updates <-chan T, heartbeat time.Duration) {
	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case v := <-updates:
			if err := sendSSEEvent(w, flusher, event, v); err != nil {
				return
			}
		case <-ticker.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", &HeartbeatEvent{Timestamp: time.Now()}); err != nil {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
