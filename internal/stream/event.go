// Package stream produces the per-session event streams and their wire framing.
package stream

import (
	"bytes"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventType identifies a stream event. Heartbeat events carry no type.
type EventType string

const (
	EventMessage             EventType = "message"
	EventPingRequired        EventType = "ping_required"
	EventSessionDisconnected EventType = "session_disconnected"
	EventError               EventType = "error"
)

// Event texts.
const (
	PingRequiredText = "Server is requesting pong response"
	DisconnectedText = "Session has been disconnected"
)

// Event is one outbound stream event. Fields that do not apply to an event
// type are omitted from its JSON form.
type Event struct {
	Type          EventType `json:"type,omitempty"`
	Timestamp     float64   `json:"timestamp"`
	SessionID     string    `json:"session_id,omitempty"`
	Username      string    `json:"username,omitempty"`
	Counter       *int64    `json:"counter,omitempty"`
	Message       string    `json:"message"`
	PingStatus    string    `json:"ping_status,omitempty"`
	PingMissCount *int      `json:"ping_miss_count,omitempty"`
}

// Label names the event for metrics and logs.
func (e Event) Label() string {
	if e.Type == "" {
		return "heartbeat"
	}
	return string(e.Type)
}

// Terminal reports whether the event ends its stream.
func (e Event) Terminal() bool {
	return e.Type == EventSessionDisconnected || e.Type == EventError
}

// Timestamp converts t to fractional Unix seconds.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Marshal returns the JSON form of the event.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Frame encodes the event as a server-sent event: "data: <json>\n\n".
func (e Event) Frame() ([]byte, error) {
	payload, err := e.Marshal()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(payload) + 8)
	buf.WriteString("data: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}
