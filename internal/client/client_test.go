package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pairwave/relay/internal/handlers"
	"github.com/pairwave/relay/internal/models"
	"github.com/pairwave/relay/internal/registry"
	"github.com/pairwave/relay/internal/relay"
	"github.com/stretchr/testify/require"
)

func wsURL(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.New()
	rl := relay.New(reg)
	router := gin.New()
	router.GET("/ws/connect", handlers.HandleConnection(reg, rl, nil))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/connect"
}

func dial(t *testing.T, ctx context.Context, url, name string, h Handlers) *Client {
	t.Helper()
	c, err := Dial(ctx, url, name, h)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	go c.Run(ctx)
	return c
}

func TestMessageLifecycleEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := wsURL(t)

	alice := dial(t, ctx, url, "alice", Handlers{})
	bob := dial(t, ctx, url, "bob", Handlers{})

	aliceID := alice.ID()
	bobID := bob.ID()
	require.NotEmpty(t, aliceID)
	require.NotEqual(t, aliceID, bobID)

	// Handshake: bob adopts alice as current peer on arrival.
	require.NoError(t, alice.ConnectTo(bobID))
	require.Eventually(t, func() bool {
		return bob.CurrentPeer() == aliceID && alice.CurrentPeer() == bobID
	}, 2*time.Second, 10*time.Millisecond)

	msgID, err := alice.SendMessage("hello bob", bobID)
	require.NoError(t, err)

	// Bob's view: one record, delivered, authoritative sender id.
	require.Eventually(t, func() bool {
		msgs := bob.Messages()
		return len(msgs) == 1 && msgs[0].ID == msgID && msgs[0].Status == models.StatusDelivered
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, aliceID, bob.Messages()[0].From)
	require.Equal(t, "hello bob", bob.Messages()[0].Text)
	require.False(t, bob.Messages()[0].FromMe)

	// Alice's view: the echo merges into the optimistic record, never a
	// second one, and the status only climbs.
	require.Eventually(t, func() bool {
		msgs := alice.Messages()
		return len(msgs) == 1 && msgs[0].Status == models.StatusRead
	}, 2*time.Second, 10*time.Millisecond)
	require.True(t, alice.Messages()[0].FromMe)

	// Bob marks the message read; his own record rises.
	require.NoError(t, bob.MarkRead(msgID))
	require.Eventually(t, func() bool {
		rec, ok := bob.store.Get(msgID)
		return ok && rec.Status == models.StatusRead
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := wsURL(t)

	sender := dial(t, ctx, url, "sender", Handlers{})
	peerA := dial(t, ctx, url, "a", Handlers{})
	peerB := dial(t, ctx, url, "b", Handlers{})
	senderID := sender.ID()
	peerA.ID()
	peerB.ID()

	// No target and no current peer: broadcast.
	msgID, err := sender.SendMessage("hi all", "")
	require.NoError(t, err)

	for _, peer := range []*Client{peerA, peerB} {
		require.Eventually(t, func() bool {
			msgs := peer.Messages()
			return len(msgs) == 1 && msgs[0].ID == msgID && msgs[0].From == senderID
		}, 2*time.Second, 10*time.Millisecond)
	}

	// The broadcasted ack raises the sender's optimistic record to
	// delivered; no echo arrives on the broadcast path.
	require.Eventually(t, func() bool {
		msgs := sender.Messages()
		return len(msgs) == 1 && msgs[0].Status == models.StatusDelivered
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSignalingEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := wsURL(t)

	gotCall := make(chan string, 1)
	gotAnswer := make(chan string, 1)

	callee := dial(t, ctx, url, "callee", Handlers{
		OnCall: func(from, name string, payload json.RawMessage) {
			gotCall <- string(payload)
		},
	})
	caller := dial(t, ctx, url, "caller", Handlers{
		OnAnswer: func(from string, payload json.RawMessage) {
			gotAnswer <- string(payload)
		},
	})

	calleeID := callee.ID()
	callerID := caller.ID()

	require.NoError(t, caller.CallUser(calleeID, []byte(`{"sdp":"offer"}`)))
	select {
	case payload := <-gotCall:
		require.JSONEq(t, `{"sdp":"offer"}`, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("call never arrived")
	}

	// Receiving the call adopts the caller as current peer.
	require.Equal(t, callerID, callee.CurrentPeer())

	require.NoError(t, callee.Answer(callerID, []byte(`{"sdp":"answer"}`)))
	select {
	case payload := <-gotAnswer:
		require.JSONEq(t, `{"sdp":"answer"}`, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("answer never arrived")
	}
}

func TestRunReturnsWhenConnectionDrops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := wsURL(t)

	c, err := Dial(ctx, url, "alice", Handlers{})
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()
	c.ID()

	// Drop the transport with the context still live: Run must return its
	// read error instead of waiting on cancellation.
	c.Close()

	select {
	case err := <-runErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned after the connection dropped")
	}
}

func TestSendFileEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := wsURL(t)

	alice := dial(t, ctx, url, "alice", Handlers{})
	bob := dial(t, ctx, url, "bob", Handlers{})
	alice.ID()
	bobID := bob.ID()

	msgID, err := alice.SendFile("notes.txt", "text/plain", "aGVsbG8=", bobID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs := bob.Messages()
		return len(msgs) == 1 && msgs[0].ID == msgID
	}, 2*time.Second, 10*time.Millisecond)

	rec := bob.Messages()[0]
	require.Equal(t, "notes.txt", rec.FileName)
	require.Equal(t, "text/plain", rec.FileMime)
	require.Equal(t, "aGVsbG8=", rec.FileData)
	require.Empty(t, rec.Text)
}
