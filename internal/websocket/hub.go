package websocket

import (
	"context"
	"errors"
	"log/slog"

	"teamchat/internal/observability"
)

var (
	errReadOnly     = errors.New("this stream does not accept frames")
	errUnknownFrame = errors.New("unknown frame type")
)

// Hub tracks open clients per user so they can be closed together, on
// logout or at shutdown.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	disconnect chan string
	count      chan countQuery
	done       chan struct{}
}

type countQuery struct {
	userID string
	result chan int
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		disconnect: make(chan string),
		count:      make(chan countQuery),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			slog.Info("hub shutting down gracefully")
			return ctx.Err()

		case client := <-h.register:
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*Client]bool)
			}
			h.clients[client.userID][client] = true
			observability.WebSocketConnectionsActive.WithLabelValues(client.stream).Inc()
			slog.Debug("client registered",
				slog.String("user", client.userID),
				slog.String("stream", client.stream))

		case client := <-h.unregister:
			h.unregisterClient(client)

		case userID := <-h.disconnect:
			for client := range h.clients[userID] {
				client.Close()
				h.unregisterClient(client)
			}

		case q := <-h.count:
			q.result <- len(h.clients[q.userID])
		}
	}
}

func (h *Hub) unregisterClient(client *Client) {
	clients, ok := h.clients[client.userID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	observability.WebSocketConnectionsActive.WithLabelValues(client.stream).Dec()
	if len(clients) == 0 {
		delete(h.clients, client.userID)
	}
}

func (h *Hub) shutdown() {
	close(h.done)

	for _, clients := range h.clients {
		for client := range clients {
			client.Close()
			observability.WebSocketConnectionsActive.WithLabelValues(client.stream).Dec()
		}
	}
	h.clients = make(map[string]map[*Client]bool)

	slog.Info("hub shutdown complete")
}

// Register tracks client until it closes; it is a no-op once the hub stopped
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
		return
	}
	go func() {
		<-client.ctx.Done()
		h.Unregister(client)
	}()
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// DisconnectUser closes every socket the user has open
func (h *Hub) DisconnectUser(userID string) {
	select {
	case h.disconnect <- userID:
	case <-h.done:
	}
}

// Connections reports how many sockets userID has open
func (h *Hub) Connections(userID string) int {
	q := countQuery{userID: userID, result: make(chan int, 1)}
	select {
	case h.count <- q:
		return <-q.result
	case <-h.done:
		return 0
	}
}
