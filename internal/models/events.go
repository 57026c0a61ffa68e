package models

import "encoding/json"

// EventType represents the type of an event exchanged over the relay channel
type EventType string

const (
	EventIdentityAssigned EventType = "identity-assigned"
	EventCall             EventType = "call"
	EventAnswer           EventType = "answer"
	EventConnectRequest   EventType = "connect-request"
	EventConnectAck       EventType = "connect-ack"
	EventSendMessage      EventType = "send-message"
	EventReceiveMessage   EventType = "receive-message"
	EventDeliveryUpdate   EventType = "delivery-update"
	EventReadReceipt      EventType = "read-receipt"
)

// Status is a delivery or acknowledgement state attached to an event.
//
// Connect acks use sent/not-found/error. Delivery updates use
// delivered/broadcasted/error. Message records on the client use
// sent/delivered/read, ranked by Rank.
type Status string

const (
	StatusSent        Status = "sent"
	StatusDelivered   Status = "delivered"
	StatusRead        Status = "read"
	StatusBroadcasted Status = "broadcasted"
	StatusNotFound    Status = "not-found"
	StatusError       Status = "error"
)

// Rank orders message statuses for monotonic merging: sent < delivered < read.
// Statuses outside the message life cycle rank zero and never win a merge.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Event is the single wire envelope for the relay channel. Fields are
// populated per Type; unused fields are omitted. Payload is an opaque blob
// the relay forwards verbatim and never parses.
type Event struct {
	Type      EventType       `json:"type"`
	ID        string          `json:"id,omitempty"`        // message id, caller-generated and globally unique
	To        string          `json:"to,omitempty"`        // target connection id; empty means broadcast for messages
	From      string          `json:"from,omitempty"`      // sender connection id, stamped by the relay
	Name      string          `json:"name,omitempty"`      // sender display name
	TargetID  string          `json:"targetId,omitempty"`  // signaling target (call/answer)
	Payload   json.RawMessage `json:"payload,omitempty"`   // negotiation blob or message body
	CreatedAt int64           `json:"createdAt,omitempty"` // sender-clock millis, not authoritative
	Status    Status          `json:"status,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// FilePayload is the message body shape for file attachments. Text messages
// carry a plain JSON string instead.
type FilePayload struct {
	Type string `json:"type"` // always "file"
	Name string `json:"name"`
	Mime string `json:"mime"`
	Data string `json:"data"` // data URL or base64 content
}

// TextPayload encodes a plain-text message body.
func TextPayload(text string) json.RawMessage {
	data, _ := json.Marshal(text)
	return data
}
