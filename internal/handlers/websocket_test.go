package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pairwave/relay/internal/models"
	"github.com/pairwave/relay/internal/registry"
	"github.com/pairwave/relay/internal/relay"
)

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.New()
	rl := relay.New(reg)

	router := gin.New()
	router.GET("/ws/connect", HandleConnection(reg, rl, nil))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, reg
}

// dialPeer connects one participant and consumes its identity event.
func dialPeer(t *testing.T, srv *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/connect"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	ev := readEvent(t, conn)
	if ev.Type != models.EventIdentityAssigned || ev.ID == "" {
		t.Fatalf("expected identity event, got %+v", ev)
	}
	return conn, ev.ID
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	return ev
}

func writeEvent(t *testing.T, conn *websocket.Conn, ev models.Event) {
	t.Helper()
	if err := conn.WriteJSON(ev); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestBroadcastReachesEveryoneButSender(t *testing.T) {
	srv, _ := newTestServer(t)

	p1, id1 := dialPeer(t, srv)
	p2, _ := dialPeer(t, srv)
	p3, _ := dialPeer(t, srv)

	writeEvent(t, p1, models.Event{
		Type:    models.EventSendMessage,
		ID:      "m1",
		Payload: models.TextPayload("hi"),
	})

	for _, peer := range []*websocket.Conn{p2, p3} {
		ev := readEvent(t, peer)
		if ev.Type != models.EventReceiveMessage || ev.ID != "m1" {
			t.Fatalf("expected receive-message m1, got %+v", ev)
		}
		if ev.From != id1 {
			t.Fatalf("expected from %s, got %s", id1, ev.From)
		}
	}

	ack := readEvent(t, p1)
	if ack.Type != models.EventDeliveryUpdate || ack.ID != "m1" || ack.Status != models.StatusBroadcasted {
		t.Fatalf("expected broadcasted update, got %+v", ack)
	}
}

func TestTargetedMessageOverWire(t *testing.T) {
	srv, _ := newTestServer(t)

	p1, id1 := dialPeer(t, srv)
	p2, id2 := dialPeer(t, srv)

	writeEvent(t, p1, models.Event{
		Type:    models.EventSendMessage,
		ID:      "m1",
		To:      id2,
		From:    "spoofed",
		Payload: models.TextPayload("hello"),
	})

	got := readEvent(t, p2)
	if got.Type != models.EventReceiveMessage || got.From != id1 {
		t.Fatalf("expected stamped delivery, got %+v", got)
	}

	echo := readEvent(t, p1)
	if echo.Type != models.EventReceiveMessage || echo.ID != "m1" || echo.From != id1 {
		t.Fatalf("expected echo, got %+v", echo)
	}

	ack := readEvent(t, p1)
	if ack.Type != models.EventDeliveryUpdate || ack.Status != models.StatusDelivered || ack.To != id2 {
		t.Fatalf("expected delivered update, got %+v", ack)
	}
}

func TestConnectHandshakeOverWire(t *testing.T) {
	srv, _ := newTestServer(t)

	p1, id1 := dialPeer(t, srv)
	p2, id2 := dialPeer(t, srv)

	writeEvent(t, p1, models.Event{Type: models.EventConnectRequest, To: id2, Name: "alice"})

	fwd := readEvent(t, p2)
	if fwd.Type != models.EventConnectRequest || fwd.From != id1 || fwd.Name != "alice" {
		t.Fatalf("expected forwarded request, got %+v", fwd)
	}

	ack := readEvent(t, p1)
	if ack.Type != models.EventConnectAck || ack.Status != models.StatusSent || ack.To != id2 {
		t.Fatalf("expected sent ack, got %+v", ack)
	}

	writeEvent(t, p1, models.Event{Type: models.EventConnectRequest, To: "ghost"})
	ack = readEvent(t, p1)
	if ack.Type != models.EventConnectAck || ack.Status != models.StatusNotFound {
		t.Fatalf("expected not-found ack, got %+v", ack)
	}
}

func TestReadReceiptOverWire(t *testing.T) {
	srv, _ := newTestServer(t)

	reader, readerID := dialPeer(t, srv)
	author, authorID := dialPeer(t, srv)

	writeEvent(t, reader, models.Event{Type: models.EventReadReceipt, ID: "m1", To: authorID})

	receipt := readEvent(t, author)
	if receipt.Type != models.EventReadReceipt || receipt.ID != "m1" || receipt.From != readerID {
		t.Fatalf("expected receipt, got %+v", receipt)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	srv, reg := newTestServer(t)

	conn, _ := dialPeer(t, srv)
	if reg.Len() != 1 {
		t.Fatalf("expected 1 live connection, got %d", reg.Len())
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection never unregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
