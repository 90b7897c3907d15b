package session

import (
	"net/http"
	"sync"
	"time"

	"creatorlab-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session-change notifications used to flow through a single process-wide
// callback slot that each new listener overwrote. The hub replaces it: any
// number of listeners subscribe independently and every published event
// reaches all of them.

type EventType string

const (
	SignedIn            EventType = "signed_in"
	SignedOut           EventType = "signed_out"
	SubscriptionChanged EventType = "subscription_changed"
)

type Event struct {
	Type   EventType `json:"type"`
	UserID string    `json:"userId,omitempty"`
	Tier   string    `json:"tier,omitempty"`
	At     time.Time `json:"at"`
}

type Subscriber struct {
	ID     uuid.UUID
	Events chan Event
}

type Hub struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]*Subscriber
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[uuid.UUID]*Subscriber),
	}
}

// DefaultHub is the application-lifetime hub the handlers publish into.
var DefaultHub = NewHub()

func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID:     uuid.New(),
		Events: make(chan Event, 16),
	}
	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	h.mu.Unlock()
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub.ID]; ok {
		delete(h.subscribers, sub.ID)
		close(sub.Events)
	}
	h.mu.Unlock()
}

// Publish fans the event out to every subscriber. A subscriber whose queue
// is full misses the event rather than blocking the publisher.
func (h *Hub) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		select {
		case sub.Events <- event:
		default:
		}
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish publishes on the application-lifetime hub.
func Publish(event Event) {
	DefaultHub.Publish(event)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS already restricts the API surface; the socket carries no secrets
		return true
	},
}

const pingInterval = 30 * time.Second

// ServeEvents upgrades the connection and streams session events to the
// browser until it disconnects.
// @Summary Subscribe to session events
// @Description Websocket stream of sign-in, sign-out and subscription-change notifications
// @Tags session
// @Router /api/session-events [get]
func ServeEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.LogError(err, "Websocket upgrade failed in ServeEvents")
		return
	}

	sub := DefaultHub.Subscribe()
	defer DefaultHub.Unsubscribe(sub)
	defer conn.Close()

	// Drain the read side so close frames are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				DefaultHub.Unsubscribe(sub)
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
