package dashboard

import (
	"time"

	"signalbot/pkg/types"
)

// Event is the wrapper for everything broadcast to dashboard clients,
// matching the teacher's DashboardEvent envelope shape.
type Event struct {
	Type      string      `json:"type"` // "snapshot", "confirmed", "rejected"
	Timestamp time.Time   `json:"timestamp"`
	Symbol    string      `json:"symbol,omitempty"`
	Data      interface{} `json:"data"`
}

// NewSnapshotEvent wraps a full pipeline snapshot for broadcast.
func NewSnapshotEvent(snapshot PipelineSnapshot) Event {
	return Event{Type: "snapshot", Timestamp: time.Now(), Data: snapshot}
}

// NewConfirmedEvent wraps a confirmed-signal notification for broadcast.
func NewConfirmedEvent(evt types.SignalConfirmedEvent) Event {
	return Event{Type: "confirmed", Timestamp: evt.Time, Data: evt}
}

// NewRejectedEvent wraps a rejected-signal notification for broadcast.
func NewRejectedEvent(evt types.SignalRejectedEvent) Event {
	return Event{Type: "rejected", Timestamp: evt.Time, Symbol: evt.Signal.Symbol, Data: evt}
}
