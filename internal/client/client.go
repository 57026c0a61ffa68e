// Package client is a Go participant for the relay: it dials the websocket
// endpoint, keeps a reconciled message store, and exposes the protocol
// operations (call, answer, connect, send, read).
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pairwave/relay/internal/models"
	"github.com/pairwave/relay/internal/reconcile"
)

// Handlers are optional callbacks for events the store does not absorb.
// They run on the read loop goroutine and must not block.
type Handlers struct {
	// OnCall fires when a peer initiates a call; payload is the opaque
	// negotiation blob to feed the local media engine.
	OnCall func(from, name string, payload json.RawMessage)
	// OnAnswer fires on the reciprocal signaling leg.
	OnAnswer func(from string, payload json.RawMessage)
	// OnConnectRequest fires when a peer links to us; the peer is already
	// adopted as current before the callback runs.
	OnConnectRequest func(from, name string)
	// OnConnectAck reports the outcome of our own ConnectTo.
	OnConnectAck func(to string, status models.Status, errMsg string)
	// OnMessage fires after an envelope is folded into the store.
	OnMessage func(rec reconcile.Record)
	// OnDeliveryError reports a failed send for a message id.
	OnDeliveryError func(id, errMsg string)
}

// Client is one participant connection.
type Client struct {
	conn     *websocket.Conn
	name     string
	store    *reconcile.Store
	handlers Handlers

	writeMu sync.Mutex

	mu          sync.Mutex
	id          string
	currentPeer string

	ready chan struct{} // closed once the relay assigns our id
}

// Dial connects to the relay websocket endpoint and waits for the assigned
// connection id. The caller must run Run to pump events.
func Dial(ctx context.Context, url, name string, handlers Handlers) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws connect: %w", err)
	}
	return &Client{
		conn:     conn,
		name:     name,
		store:    reconcile.NewStore(),
		handlers: handlers,
		ready:    make(chan struct{}),
	}, nil
}

// Run reads and dispatches events until the connection drops or ctx is
// cancelled.
func (c *Client) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-done:
		}
	}()

	for {
		var ev models.Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ws read: %w", err)
		}
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev models.Event) {
	switch ev.Type {
	case models.EventIdentityAssigned:
		c.mu.Lock()
		first := c.id == ""
		c.id = ev.ID
		c.mu.Unlock()
		if first {
			close(c.ready)
		}

	case models.EventCall:
		c.setCurrentPeer(ev.From)
		if c.handlers.OnCall != nil {
			c.handlers.OnCall(ev.From, ev.Name, ev.Payload)
		}

	case models.EventAnswer:
		if c.handlers.OnAnswer != nil {
			c.handlers.OnAnswer(ev.From, ev.Payload)
		}

	case models.EventConnectRequest:
		// Arrival is implicit acceptance: adopt the requester as peer.
		c.setCurrentPeer(ev.From)
		if c.handlers.OnConnectRequest != nil {
			c.handlers.OnConnectRequest(ev.From, ev.Name)
		}

	case models.EventConnectAck:
		if ev.Status == models.StatusSent {
			c.setCurrentPeer(ev.To)
		}
		if c.handlers.OnConnectAck != nil {
			c.handlers.OnConnectAck(ev.To, ev.Status, ev.Error)
		}

	case models.EventReceiveMessage:
		rec := c.store.ApplyEnvelope(c.currentID(), ev)
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(rec)
		}

	case models.EventDeliveryUpdate:
		if ev.Status == models.StatusError {
			if c.handlers.OnDeliveryError != nil {
				c.handlers.OnDeliveryError(ev.ID, ev.Error)
			}
			return
		}
		// broadcasted counts as delivered for the local record
		c.store.Raise(ev.ID, models.StatusDelivered)

	case models.EventReadReceipt:
		c.store.Raise(ev.ID, models.StatusRead)
	}
}

// ID returns the relay-assigned connection id, blocking until assigned.
func (c *Client) ID() string {
	<-c.ready
	return c.currentID()
}

// currentID reads the assigned id without blocking; empty until the
// identity event arrives. Used on the read loop, which must never wait on
// itself.
func (c *Client) currentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// CurrentPeer returns the current counterpart id, if any.
func (c *Client) CurrentPeer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPeer
}

func (c *Client) setCurrentPeer(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	c.currentPeer = id
	c.mu.Unlock()
}

// Messages returns the reconciled message sequence in arrival order.
func (c *Client) Messages() []reconcile.Record {
	return c.store.Messages()
}

// CallUser sends a negotiation payload to target.
func (c *Client) CallUser(target string, payload json.RawMessage) error {
	c.setCurrentPeer(target)
	return c.write(models.Event{
		Type:     models.EventCall,
		TargetID: target,
		Name:     c.name,
		Payload:  payload,
	})
}

// Answer sends the reciprocal negotiation payload back to the caller.
func (c *Client) Answer(target string, payload json.RawMessage) error {
	return c.write(models.Event{
		Type:     models.EventAnswer,
		TargetID: target,
		Payload:  payload,
	})
}

// ConnectTo requests a logical link to target. The outcome arrives as a
// connect-ack.
func (c *Client) ConnectTo(target string) error {
	return c.write(models.Event{
		Type: models.EventConnectRequest,
		To:   target,
		Name: c.name,
	})
}

// SendMessage sends a text message to target, or broadcasts when target is
// empty and no current peer is set. Returns the generated message id.
func (c *Client) SendMessage(text, target string) (string, error) {
	return c.send(models.TextPayload(text), reconcile.Record{Text: text}, target)
}

// SendFile sends a file attachment.
func (c *Client) SendFile(fileName, mime, data, target string) (string, error) {
	payload, err := json.Marshal(models.FilePayload{
		Type: "file",
		Name: fileName,
		Mime: mime,
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("encode file payload: %w", err)
	}
	return c.send(payload, reconcile.Record{
		FileName: fileName,
		FileMime: mime,
		FileData: data,
	}, target)
}

func (c *Client) send(payload json.RawMessage, rec reconcile.Record, target string) (string, error) {
	if target == "" {
		target = c.CurrentPeer()
	}

	id := uuid.New().String()
	createdAt := time.Now().UnixMilli()

	// Optimistic local insert; the relay echo merges into this id.
	rec.ID = id
	rec.From = c.ID()
	rec.Name = c.name
	rec.CreatedAt = createdAt
	c.store.RecordSent(rec)

	err := c.write(models.Event{
		Type:      models.EventSendMessage,
		ID:        id,
		To:        target,
		Name:      c.name,
		Payload:   payload,
		CreatedAt: createdAt,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// MarkRead raises the local record to read and notifies the author.
// Self-authored records need no receipt.
func (c *Client) MarkRead(id string) error {
	rec, ok := c.store.Get(id)
	if !ok || rec.FromMe {
		return nil
	}
	if _, ok := c.store.Raise(id, models.StatusRead); !ok {
		return nil
	}
	return c.write(models.Event{
		Type: models.EventReadReceipt,
		ID:   id,
		To:   rec.From,
	})
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) write(ev models.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("ws write: %w", err)
	}
	return nil
}
