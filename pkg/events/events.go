// Package events implements the subscriber registry and fan-out hub behind
// the gateway's SSE surface.
package events

import "time"

// Event names delivered to subscribers.
const (
	EventConnected           = "connected"
	EventHeartbeat           = "heartbeat"
	EventPollingStarted      = "polling-started"
	EventPollingError        = "polling-error"
	EventPollingHealth       = "polling-health"
	EventPollingStopped      = "polling-stopped"
	EventSubscriptionUpdated = "subscription-updated"
)

// EntityUpdate returns the event name for live updates of one entity,
// e.g. "tickets-update".
func EntityUpdate(entity string) string {
	return entity + "-update"
}

// Event is one published notification. Tenant scopes delivery: subscribers
// with a tenant filter only receive events for that tenant; events with an
// empty tenant reach everyone.
type Event struct {
	Name    string         `json:"event"`
	Tenant  string         `json:"-"`
	Payload map[string]any `json:"data"`
}

// NewEvent builds an event with the mandatory timestamp stamped into the
// payload.
func NewEvent(name, tenant string, payload map[string]any) Event {
	if payload == nil {
		payload = make(map[string]any)
	}
	if _, ok := payload["timestamp"]; !ok {
		payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}
	return Event{Name: name, Tenant: tenant, Payload: payload}
}
