package sse

import "time"

// EventType tags a server-push event; clients dispatch on it.
type EventType string

const (
	EventAttendanceUpdate EventType = "attendance_update"
	EventMetricsUpdate    EventType = "metrics_update"
	EventNotification     EventType = "notification"
	EventPing             EventType = "ping"
)

type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// PingPayload is pushed every heartbeat interval and doubles as the TTL
// refresh for the connection's registry record.
type PingPayload struct {
	Timestamp    time.Time `json:"timestamp"`
	ConnectionID string    `json:"connection_id"`
}

// NotificationPayload is the generic notification event body.
type NotificationPayload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category,omitempty"`
	Priority string `json:"priority,omitempty"`
}
