// Package websocket implements the real-time pub/sub hub that pushes server
// events to connected GUI clients. It uses gorilla/websocket under the hood
// and exposes a topic-based broadcast API consumed by the job engine, node
// registry, monitor engine, and notification service.
//
// Topic naming convention:
//
//	unit:<node>/<unit>       — unit state/property changes, mirrors monitor.Event
//	node:<name>              — a node's online/offline transitions
//	notifications:<user_id>  — in-app notifications for a specific user
package websocket

// MessageType identifies the kind of event carried by a Message.
// The GUI uses this field to route the payload to the correct store update.
type MessageType string

const (
	// MsgJobStatus is sent when a job transitions between states
	// (waiting → running → done | failed | canceled).
	MsgJobStatus MessageType = "job.status"

	// MsgUnitEvent is sent for every unit state or property change a node
	// relays, matching a monitor.Engine Subscription. Published on both the
	// unit:<node>/<unit> and node:<name> topics so a client can watch either
	// a single unit or everything on a node.
	MsgUnitEvent MessageType = "unit.event"

	// MsgNodeStatus is sent when a node transitions online or offline.
	MsgNodeStatus MessageType = "node.status"

	// MsgNotification is sent when a new in-app notification is created for
	// the subscribed user.
	MsgNotification MessageType = "notification"

	// MsgPing is an application-level keepalive type. Nothing in this package
	// sends it; connection keepalive uses WebSocket ping control frames
	// written by Client.writePump.
	MsgPing MessageType = "ping"
)

// Message is the envelope for every WebSocket frame sent to clients.
// The GUI deserializes this struct and dispatches on Type.
//
// JSON example:
//
//	{"type":"node.status","topic":"node:host-a","payload":{"node":"host-a","status":"online"}}
type Message struct {
	// Type identifies the kind of event so the client can route it correctly.
	Type MessageType `json:"type"`

	// Topic is the pub/sub channel this message was published on.
	// Clients use it to associate the update with the correct UI element.
	Topic string `json:"topic"`

	// Payload carries the event-specific data. The shape varies by Type:
	//   - job.status:    {"status":"running","started_at":"..."}
	//   - unit.event:    {"node":"...","type":"...","unit":"...","active_state":"...",
	//                     "sub_state":"...","reason":"...","properties":{...}}
	//   - node.status:   {"node":"...","status":"online"}
	//   - notification:  {"id":"...","type":"...","title":"...","body":"..."}
	//   - ping:          {} (empty)
	Payload any `json:"payload"`
}