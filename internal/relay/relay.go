package relay

import (
	"log"

	"github.com/pairwave/relay/internal/models"
	"github.com/pairwave/relay/internal/registry"
)

// Relay routes signaling payloads, chat messages, and acknowledgements
// between live connections. It owns no state of its own: every routing
// decision is one Lookup against the registry, and nothing is retried or
// queued. Failures are reported asynchronously to the originating
// connection over the same channel used for success acks.
type Relay struct {
	reg *registry.Registry
}

func New(reg *registry.Registry) *Relay {
	return &Relay{reg: reg}
}

// Dispatch routes one inbound event from the connection identified by
// senderID. The sender id is transport-assigned; any client-asserted `from`
// field is overwritten before forwarding, so a connection can never speak
// as another.
func (rl *Relay) Dispatch(senderID string, ev models.Event) {
	switch ev.Type {
	case models.EventCall:
		rl.handleCall(senderID, ev)
	case models.EventAnswer:
		rl.handleAnswer(senderID, ev)
	case models.EventConnectRequest:
		rl.handleConnectRequest(senderID, ev)
	case models.EventSendMessage:
		rl.handleSendMessage(senderID, ev)
	case models.EventReadReceipt:
		rl.handleReadReceipt(senderID, ev)
	default:
		log.Printf("Unknown event type from %s: %s", senderID, ev.Type)
	}
}

// handleCall forwards a session-negotiation payload one hop to the target.
// The payload is opaque and delivered verbatim. There is no ack path for
// signaling: an offline target means the call silently goes nowhere.
func (rl *Relay) handleCall(senderID string, ev models.Event) {
	target, ok := rl.reg.Lookup(ev.TargetID)
	if !ok {
		log.Printf("Call target %s not found (from %s)", ev.TargetID, senderID)
		return
	}
	err := target.Send(models.Event{
		Type:    models.EventCall,
		From:    senderID,
		Name:    ev.Name,
		Payload: ev.Payload,
	})
	if err != nil {
		log.Printf("Failed to forward call to %s: %v", ev.TargetID, err)
	}
}

// handleAnswer forwards the reciprocal signaling leg back to the caller.
// Same fire-and-forget contract as handleCall.
func (rl *Relay) handleAnswer(senderID string, ev models.Event) {
	target, ok := rl.reg.Lookup(ev.TargetID)
	if !ok {
		log.Printf("Answer target %s not found (from %s)", ev.TargetID, senderID)
		return
	}
	err := target.Send(models.Event{
		Type:    models.EventAnswer,
		From:    senderID,
		Payload: ev.Payload,
	})
	if err != nil {
		log.Printf("Failed to forward answer to %s: %v", ev.TargetID, err)
	}
}

// handleConnectRequest forwards a link request to the target and acks the
// outcome to the requester. Arrival of the forwarded request is implicit
// acceptance; there is no rejection path.
func (rl *Relay) handleConnectRequest(senderID string, ev models.Event) {
	if ev.To == "" {
		return
	}

	target, ok := rl.reg.Lookup(ev.To)
	if !ok {
		rl.ackConnect(senderID, models.Event{
			Type:   models.EventConnectAck,
			To:     ev.To,
			Status: models.StatusNotFound,
		})
		return
	}

	err := target.Send(models.Event{
		Type: models.EventConnectRequest,
		From: senderID,
		Name: ev.Name,
	})
	if err != nil {
		rl.ackConnect(senderID, models.Event{
			Type:   models.EventConnectAck,
			To:     ev.To,
			Status: models.StatusError,
			Error:  err.Error(),
		})
		return
	}

	rl.ackConnect(senderID, models.Event{
		Type:   models.EventConnectAck,
		To:     ev.To,
		Status: models.StatusSent,
	})
}

func (rl *Relay) ackConnect(senderID string, ack models.Event) {
	sender, ok := rl.reg.Lookup(senderID)
	if !ok {
		return
	}
	if err := sender.Send(ack); err != nil {
		log.Printf("Failed to ack connect to %s: %v", senderID, err)
	}
}

// handleSendMessage routes one chat envelope and drives its delivery
// acknowledgement. A targeted message is delivered to the target, echoed
// back to the sender so both sides converge on one record, and confirmed
// with a delivered update. An untargeted message is broadcast to everyone
// else and confirmed with a broadcasted update.
func (rl *Relay) handleSendMessage(senderID string, ev models.Event) {
	if ev.ID == "" {
		rl.deliveryError(senderID, ev.ID, ev.To, "message id is required")
		return
	}

	// Authoritative sender stamp; the client-asserted from is discarded.
	out := models.Event{
		Type:      models.EventReceiveMessage,
		ID:        ev.ID,
		To:        ev.To,
		From:      senderID,
		Name:      ev.Name,
		Payload:   ev.Payload,
		CreatedAt: ev.CreatedAt,
	}

	if ev.To != "" {
		rl.deliverTargeted(senderID, ev.To, out)
		return
	}

	for id, conn := range rl.reg.Others(senderID) {
		if err := conn.Send(out); err != nil {
			// Best effort per recipient; there is no partial rollback.
			log.Printf("Broadcast from %s to %s failed: %v", senderID, id, err)
		}
	}
	rl.sendUpdate(senderID, models.Event{
		Type:   models.EventDeliveryUpdate,
		ID:     ev.ID,
		Status: models.StatusBroadcasted,
	})
}

func (rl *Relay) deliverTargeted(senderID, targetID string, out models.Event) {
	sender, senderOK := rl.reg.Lookup(senderID)

	target, ok := rl.reg.Lookup(targetID)
	if !ok {
		// Offline target: no delivery, no delivered update. The echo keeps
		// the sender's local record, which stays at its optimistic status.
		if senderOK {
			if err := sender.Send(out); err != nil {
				rl.deliveryError(senderID, out.ID, targetID, err.Error())
			}
		}
		return
	}

	if err := target.Send(out); err != nil {
		rl.deliveryError(senderID, out.ID, targetID, err.Error())
		return
	}
	// An echo failure is a transport failure like any other: report error,
	// never confirm delivered on a half-completed exchange.
	if senderOK {
		if err := sender.Send(out); err != nil {
			rl.deliveryError(senderID, out.ID, targetID, err.Error())
			return
		}
	}
	rl.sendUpdate(senderID, models.Event{
		Type:   models.EventDeliveryUpdate,
		ID:     out.ID,
		To:     targetID,
		Status: models.StatusDelivered,
	})
}

// handleReadReceipt forwards a read confirmation verbatim to the original
// sender. If that sender is offline the receipt is dropped.
func (rl *Relay) handleReadReceipt(senderID string, ev models.Event) {
	if ev.To == "" {
		return
	}
	target, ok := rl.reg.Lookup(ev.To)
	if !ok {
		return
	}
	err := target.Send(models.Event{
		Type: models.EventReadReceipt,
		ID:   ev.ID,
		From: senderID,
		To:   ev.To,
	})
	if err != nil {
		log.Printf("Failed to forward read receipt to %s: %v", ev.To, err)
	}
}

func (rl *Relay) deliveryError(senderID, msgID, targetID, msg string) {
	rl.sendUpdate(senderID, models.Event{
		Type:   models.EventDeliveryUpdate,
		ID:     msgID,
		To:     targetID,
		Status: models.StatusError,
		Error:  msg,
	})
}

func (rl *Relay) sendUpdate(senderID string, update models.Event) {
	sender, ok := rl.reg.Lookup(senderID)
	if !ok {
		return
	}
	if err := sender.Send(update); err != nil {
		log.Printf("Failed to send delivery update to %s: %v", senderID, err)
	}
}
