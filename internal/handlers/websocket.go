package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pairwave/relay/internal/models"
	"github.com/pairwave/relay/internal/presence"
	"github.com/pairwave/relay/internal/registry"
	"github.com/pairwave/relay/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	ID   string
	Conn *websocket.Conn
	out  chan []byte
}

// Send queues an event for delivery to this connection. It never blocks:
// a full buffer means the connection cannot keep up and is reported as a
// transport failure to the caller.
func (c *Client) Send(ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	select {
	case c.out <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full for connection %s", c.ID)
	}
}

// HandleConnection upgrades the request to a WebSocket, registers the
// connection, announces its assigned id, and runs the read/write pumps
// until disconnect.
func HandleConnection(reg *registry.Registry, rl *relay.Relay, mirror *presence.Mirror) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("Failed to upgrade connection: %v", err)
			return
		}

		client := &Client{
			Conn: conn,
			out:  make(chan []byte, 256),
		}
		client.ID = reg.Register(client)
		mirror.Add(context.Background(), client.ID)

		log.Printf("Connection %s established", client.ID)

		// Announce the assigned id before anything else can be routed.
		if err := client.Send(models.Event{
			Type: models.EventIdentityAssigned,
			ID:   client.ID,
		}); err != nil {
			log.Printf("Failed to send identity to %s: %v", client.ID, err)
		}

		go client.writePump()
		go client.readPump(reg, rl, mirror)
	}
}

func (c *Client) readPump(reg *registry.Registry, rl *relay.Relay, mirror *presence.Mirror) {
	defer func() {
		reg.Unregister(c.ID)
		mirror.Remove(context.Background(), c.ID)
		c.Conn.Close()
		log.Printf("Connection %s closed", c.ID)
	}()

	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on %s: %v", c.ID, err)
			}
			break
		}

		var ev models.Event
		if err := json.Unmarshal(message, &ev); err != nil {
			log.Printf("Failed to parse event from %s: %v", c.ID, err)
			continue
		}

		rl.Dispatch(c.ID, ev)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.out:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write to %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
