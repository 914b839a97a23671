package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"userscript-engine/internal/navigation"
)

var (
	// ErrPageNotConnected is returned when executing on a page that has no socket.
	ErrPageNotConnected = errors.New("page not connected")
	// ErrPageBacklogged is returned when a page's send buffer is full.
	ErrPageBacklogged = errors.New("page send buffer full")
)

// Socket message types.
const (
	msgHello      = "hello"
	msgNavigation = "navigation"
	msgExecute    = "execute"
)

// pageMessage is the envelope exchanged with connected pages.
type pageMessage struct {
	Type   string `json:"type"`
	Page   string `json:"page,omitempty"`
	Event  string `json:"event,omitempty"`
	URL    string `json:"url,omitempty"`
	Source string `json:"source,omitempty"`
}

// WSHub manages page connections, broadcasts events, and delivers scripts
// to single pages.
type WSHub struct {
	clients map[*wsClient]struct{}
	byPage  map[string]*wsClient
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan interface{}

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	page string
	conn *websocket.Conn
	send chan []byte
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		byPage:     make(map[string]*wsClient),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan interface{}, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			// Close all remaining clients on shutdown
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			if client.page != "" {
				h.byPage[client.page] = client
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("page connected", "page", client.page, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("page disconnected", "page", client.page, "total", total)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("ws marshal", "err", err)
				continue
			}
			h.mu.Lock()
			var slow []*wsClient
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Client too slow, mark for eviction
					slow = append(slow, client)
				}
			}
			for _, client := range slow {
				h.drop(client)
				h.logger.Warn("page evicted (too slow)", "page", client.page)
			}
			h.mu.Unlock()
		}
	}
}

// drop removes client and closes its send channel. Callers hold h.mu.
func (h *WSHub) drop(client *wsClient) {
	delete(h.clients, client)
	if h.byPage[client.page] == client {
		delete(h.byPage, client.page)
	}
	close(client.send)
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg interface{}) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws broadcast channel full, dropping message")
	}
}

// Send queues msg for one page without blocking.
func (h *WSHub) Send(page string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", page, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.byPage[page]
	if !ok {
		return fmt.Errorf("send to %s: %w", page, ErrPageNotConnected)
	}
	select {
	case client.send <- data:
		return nil
	default:
		return fmt.Errorf("send to %s: %w", page, ErrPageBacklogged)
	}
}

// ExecuteScript hands source to a connected page, which evaluates it in
// its global context.
func (h *WSHub) ExecuteScript(page, source string) error {
	return h.Send(page, pageMessage{Type: msgExecute, Source: source})
}

// Len returns the number of connected pages.
func (h *WSHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	// If no allowedOrigins configured, nhooyr defaults to same-origin check.

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}

	conn.SetReadLimit(64 << 10)

	client := &wsClient{
		page: uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}
	hello, _ := json.Marshal(pageMessage{Type: msgHello, Page: client.page})
	client.send <- hello

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	// Channel closed by hub; close connection.
	client.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			// Hub already shut down; close connection directly.
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
		s.bus.Emit(navigation.Event{Type: navigation.EventPageClosed, Transport: navigation.TransportWS, Page: client.page})
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel read context when hub shuts down.
	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := client.conn.Read(ctx)
		if err != nil {
			return
		}
		s.handlePageMessage(client.page, data)
	}
}

// handlePageMessage turns a page's navigation report into a bus event.
func (s *Server) handlePageMessage(page string, data []byte) {
	var msg pageMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Debug("ws invalid message", "page", page, "err", err)
		return
	}
	if msg.Type != msgNavigation {
		return
	}

	switch msg.Event {
	case navigation.EventStart, navigation.EventLoad, navigation.EventURLChanged:
		s.bus.Emit(navigation.Event{Type: msg.Event, Transport: navigation.TransportWS, Page: page, URL: msg.URL})
	default:
		s.logger.Debug("ws unknown navigation event", "page", page, "event", msg.Event)
	}
}
