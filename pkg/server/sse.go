package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/psagate/psa-gateway/pkg/events"
)

// handleEvents serves the SSE stream. Optional query params: tenant (cache
// key filter) and events (comma-separated event names; empty = all).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	tenant := q.Get("tenant")
	names := splitCSV(q.Get("events"))

	sub := s.hub.Subscribe(tenant, names)
	defer s.hub.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.sendEvent(w, flusher, events.NewEvent(events.EventConnected, tenant, map[string]any{
		"subscriberId": sub.ID,
		"events":       names,
	}))

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-sub.Events():
			if !open {
				// Reaped for inactivity or hub shutdown.
				return
			}
			sub.Touch()
			s.sendEvent(w, flusher, evt)
		case <-heartbeat.C:
			sub.Touch()
			s.sendEvent(w, flusher, events.NewEvent(events.EventHeartbeat, tenant, map[string]any{
				"alive": true,
			}))
		}
	}
}

// handleUpdateSubscription replaces a subscriber's event-name filter.
func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Events []string `json:"events"`
	}
	if err := gojson.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid subscription body", http.StatusBadRequest)
		return
	}

	id := mux.Vars(r)["id"]
	if !s.hub.UpdateSubscription(id, req.Events) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown subscriber"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

// sendEvent writes one SSE frame and flushes it.
func (s *Server) sendEvent(w http.ResponseWriter, flusher http.Flusher, evt events.Event) {
	data, err := gojson.Marshal(evt.Payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", evt.Name).Msg("Failed to encode event payload")
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Name, data)
	flusher.Flush()
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
