package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"teamchat/internal/observability"
)

func newTestClient(userID, stream string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		send:   make(chan []byte, sendBuffer),
		userID: userID,
		stream: stream,
		ctx:    ctx,
		cancel: cancel,
	}
}

// closeMarked cancels the client without touching the nil connection
func closeMarked(c *Client) {
	c.closed.Store(true)
	c.cancel()
}

func runHub(t *testing.T) (*Hub, context.CancelFunc, <-chan error) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- hub.Run(ctx)
	}()
	t.Cleanup(cancel)
	return hub, cancel, errChan
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_NewHub(t *testing.T) {
	hub := NewHub()

	if hub.clients == nil {
		t.Error("Expected clients map to be initialized")
	}
	if hub.register == nil || hub.unregister == nil || hub.disconnect == nil {
		t.Error("Expected hub channels to be initialized")
	}
	if hub.done == nil {
		t.Error("Expected done channel to be initialized")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	_, cancel, errChan := runHub(t)

	cancel()

	select {
	case err := <-errChan:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Hub did not stop within timeout")
	}
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub, _, _ := runHub(t)
	gauge := observability.WebSocketConnectionsActive.WithLabelValues(StreamChats)
	before := testutil.ToFloat64(gauge)

	a := newTestClient("alice", StreamChats)
	b := newTestClient("alice", StreamChats)
	hub.Register(a)
	hub.Register(b)

	if got := hub.Connections("alice"); got != 2 {
		t.Fatalf("Expected 2 connections, got %d", got)
	}
	if got := testutil.ToFloat64(gauge) - before; got != 2 {
		t.Errorf("Expected gauge to grow by 2, got %v", got)
	}

	// a cancelled client unregisters itself
	closeMarked(a)
	waitFor(t, func() bool { return hub.Connections("alice") == 1 })

	hub.Unregister(b)
	hub.Unregister(b)
	waitFor(t, func() bool { return hub.Connections("alice") == 0 })
	if got := testutil.ToFloat64(gauge) - before; got != 0 {
		t.Errorf("Expected gauge back at baseline, got %v", got)
	}
}

func TestHub_DisconnectUser(t *testing.T) {
	hub, _, _ := runHub(t)

	alice := newTestClient("alice", StreamMessages)
	bob := newTestClient("bob", StreamMessages)
	// closed connections are skipped by Close, so nil conns are safe here
	alice.closed.Store(true)
	bob.closed.Store(true)
	hub.Register(alice)
	hub.Register(bob)

	hub.DisconnectUser("alice")

	select {
	case <-alice.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("alice's client was not closed")
	}
	waitFor(t, func() bool { return hub.Connections("alice") == 0 })

	if hub.Connections("bob") != 1 {
		t.Error("bob's client should remain registered")
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub, cancel, errChan := runHub(t)

	clients := []*Client{
		newTestClient("alice", StreamChats),
		newTestClient("bob", StreamMessages),
	}
	for _, c := range clients {
		c.closed.Store(true)
		hub.Register(c)
	}
	waitFor(t, func() bool { return hub.Connections("bob") == 1 })

	cancel()
	<-errChan

	for _, c := range clients {
		select {
		case <-c.ctx.Done():
		case <-time.After(time.Second):
			t.Fatalf("client %s not closed on shutdown", c.userID)
		}
	}

	// registering after shutdown closes the client immediately
	late := newTestClient("carol", StreamChats)
	late.closed.Store(true)
	hub.Register(late)
	select {
	case <-late.ctx.Done():
	default:
		t.Error("late client should be closed")
	}
	if hub.Connections("carol") != 0 {
		t.Error("stopped hub should report no connections")
	}
}
