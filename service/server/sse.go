package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/symfeed/service/metrics"
	"github.com/brojonat/symfeed/service/tracker"
	"github.com/goccy/go-json"
)

// SSE event names.
const (
	EventConnected = "connected"
	EventRecord    = "record"
	EventUpgrade   = "upgrade"
	EventReset     = "reset"
	EventResync    = "resync"
)

// sseEventName maps a record set change to its SSE event name.
func sseEventName(kind tracker.EventKind) string {
	switch kind {
	case tracker.EventAdded:
		return EventRecord
	case tracker.EventUpgraded:
		return EventUpgrade
	case tracker.EventReset:
		return EventReset
	case tracker.EventResync:
		return EventResync
	default:
		return string(kind)
	}
}

// handleStreamRecords streams record set changes as Server-Sent Events.
// GET /api/v1/stream/records
func handleStreamRecords(feed Feed, keepaliveEvery time.Duration, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		events, cancel := feed.Subscribe()
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher.Flush()

		m.RecordSSEConnectionChange(1)
		defer m.RecordSSEConnectionChange(-1)

		logger.DebugContext(r.Context(), "SSE client connected", "remote_addr", r.RemoteAddr)

		hello := map[string]string{}
		if st, err := feed.Status(r.Context()); err == nil {
			hello["address"] = st.Address
			hello["network"] = st.Network
			hello["session_id"] = st.SessionID
		}
		data, _ := json.Marshal(hello)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", EventConnected, data)
		flusher.Flush()
		m.RecordSSEEventSent(EventConnected)

		keepalive := time.NewTicker(keepaliveEvery)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flusher.Flush()

			case ev, ok := <-events:
				if !ok {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					logger.WarnContext(r.Context(), "failed to marshal event", "error", err)
					continue
				}
				name := sseEventName(ev.Kind)
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
				flusher.Flush()
				m.RecordSSEEventSent(name)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected", "remote_addr", r.RemoteAddr)
				return
			}
		}
	})
}
