package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"diagrammer-backend/internal/models"
	"diagrammer-backend/internal/services"
	"diagrammer-backend/internal/session"
)

const (
	writeTimeout      = 10 * time.Second
	maxSnapshotRounds = 5
)

type tokenParser interface {
	ParseToken(token string) (uuid.UUID, error)
}

type sessionLookup interface {
	Get(id, ownerID uuid.UUID) (*session.Session, error)
}

// client serializes writes to one connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// subscription is the relay of one session's pub/sub channel. ready is closed once
// Redis has confirmed it, with err set if that failed.
type subscription struct {
	cancel context.CancelFunc
	ready  chan struct{}
	err    error
}

// Hub pushes session events to the browser tabs viewing each session. With a Redis
// client it relays the session's pub/sub channel; without one it only delivers what
// is passed to PublishUpdate in this process.
type Hub struct {
	mu            sync.RWMutex
	connections   map[uuid.UUID][]*client
	subscriptions map[uuid.UUID]*subscription

	redisClient *redis.Client
	auth        tokenParser
	sessions    sessionLookup
	upgrader    websocket.Upgrader
}

func NewHub(redisClient *redis.Client, auth tokenParser, sessions sessionLookup, frontendURL string) *Hub {
	return &Hub{
		connections:   make(map[uuid.UUID][]*client),
		subscriptions: make(map[uuid.UUID]*subscription),
		redisClient:   redisClient,
		auth:          auth,
		sessions:      sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || frontendURL == "*" || origin == frontendURL
			},
		},
	}
}

// HandleWebSocket upgrades /ws?token=<jwt>&session=<id> after checking the caller owns
// the session. The current snapshot is sent first.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Authenticate via token query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := h.auth.ParseToken(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID, err := uuid.Parse(r.URL.Query().Get("session"))
	if err != nil {
		http.Error(w, "Invalid session", http.StatusBadRequest)
		return
	}

	s, err := h.sessions.Get(sessionID, userID)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn}
	if err := h.register(r.Context(), sessionID, c); err != nil {
		log.Printf("WebSocket subscribe failed: session %s: %v", sessionID, err)
		h.unregister(sessionID, c)
		return
	}
	h.sendSnapshot(s, c)

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregister(sessionID, c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// sendSnapshot writes the session state once the client is registered. Events can be
// written between taking and writing a snapshot, so it is resent until it is stable.
func (h *Hub) sendSnapshot(s *session.Session, c *client) {
	var last []byte
	for i := 0; i < maxSnapshotRounds; i++ {
		data, err := json.Marshal(models.WSMessage{Type: models.EventStateChanged, Payload: s.Snapshot()})
		if err != nil || bytes.Equal(data, last) {
			return
		}
		if err := c.write(data); err != nil {
			return
		}
		last = data
	}
}

// register adds the client and returns once the session's channel subscription is live.
func (h *Hub) register(ctx context.Context, sessionID uuid.UUID, c *client) error {
	h.mu.Lock()
	h.connections[sessionID] = append(h.connections[sessionID], c)

	// Start pub/sub subscription if this is the first connection for this session
	sub, ok := h.subscriptions[sessionID]
	if !ok && h.redisClient != nil {
		subCtx, cancel := context.WithCancel(context.Background())
		sub = &subscription{cancel: cancel, ready: make(chan struct{})}
		h.subscriptions[sessionID] = sub
		go h.subscribe(subCtx, sessionID, sub)
	}
	total := len(h.connections[sessionID])
	h.mu.Unlock()

	log.Printf("WebSocket connected: session %s (total: %d)", sessionID, total)

	if sub == nil {
		return nil
	}
	select {
	case <-sub.ready:
		return sub.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) unregister(sessionID uuid.UUID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.conn.Close()

	conns := h.connections[sessionID]
	for i, existing := range conns {
		if existing == c {
			h.connections[sessionID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	// If no more connections, cancel pub/sub
	if len(h.connections[sessionID]) == 0 {
		delete(h.connections, sessionID)
		if sub, ok := h.subscriptions[sessionID]; ok {
			sub.cancel()
			delete(h.subscriptions, sessionID)
		}
	}

	log.Printf("WebSocket disconnected: session %s", sessionID)
}

func (h *Hub) subscribe(ctx context.Context, sessionID uuid.UUID, sub *subscription) {
	pubsub := h.redisClient.Subscribe(ctx, services.SessionChannel(sessionID))
	defer pubsub.Close()

	// Wait for the subscription confirmation so nothing published after it is missed.
	_, err := pubsub.Receive(ctx)
	if err != nil {
		h.mu.Lock()
		if h.subscriptions[sessionID] == sub {
			delete(h.subscriptions, sessionID)
		}
		h.mu.Unlock()
	}
	sub.err = err
	close(sub.ready)
	if err != nil {
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(sessionID, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(sessionID uuid.UUID, data []byte) {
	h.mu.RLock()
	clients := append([]*client(nil), h.connections[sessionID]...)
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			log.Printf("WebSocket write failed: session %s: %v", sessionID, err)
		}
	}
}

// PublishUpdate delivers msg to this process's connections for the session. It lets
// the hub stand in for the Redis publisher on a single instance.
func (h *Hub) PublishUpdate(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.broadcast(sessionID, data)
	return nil
}

// Connections reports how many sockets are open for a session.
func (h *Hub) Connections(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[sessionID])
}

// Close drops every connection and subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subscriptions {
		sub.cancel()
		delete(h.subscriptions, id)
	}
	for _, clients := range h.connections {
		for _, c := range clients {
			c.conn.Close()
		}
	}
}
