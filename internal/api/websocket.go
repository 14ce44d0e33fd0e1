package api

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Hub owns the transient subscriber state: which connections want which
// public streams, and which connections are bound to which user address.
// Registries are guarded by a single RWMutex; broadcasts iterate over a
// snapshot so no lock is held across a send.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]map[*Client]bool
	users   map[string]map[*Client]bool
	clients map[*Client]bool
	log     zerolog.Logger
}

// NewHub creates an empty subscription registry.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		streams: make(map[string]map[*Client]bool),
		users:   make(map[string]map[*Client]bool),
		clients: make(map[*Client]bool),
		log:     log,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	if c.userID != "" {
		if h.users[c.userID] == nil {
			h.users[c.userID] = make(map[*Client]bool)
		}
		h.users[c.userID][c] = true
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	for stream := range c.subscriptions {
		h.dropSubscriptionLocked(stream, c)
	}
	if c.userID != "" {
		if conns, ok := h.users[c.userID]; ok {
			delete(conns, c)
			if len(conns) == 0 {
				delete(h.users, c.userID)
			}
		}
	}
}

func (h *Hub) subscribe(c *Client, stream string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[stream] == nil {
		h.streams[stream] = make(map[*Client]bool)
	}
	h.streams[stream][c] = true
	c.subscriptions[stream] = true
}

func (h *Hub) unsubscribe(c *Client, stream string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropSubscriptionLocked(stream, c)
	delete(c.subscriptions, stream)
}

func (h *Hub) dropSubscriptionLocked(stream string, c *Client) {
	if subs, ok := h.streams[stream]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.streams, stream)
		}
	}
}

// BroadcastToStream wraps a payload as {stream, data} and queues it on
// every subscriber of the named stream. Never blocks: slow consumers shed
// load in Client.trySend.
func (h *Hub) BroadcastToStream(name string, payload interface{}) {
	frame, err := json.Marshal(map[string]interface{}{"stream": name, "data": payload})
	if err != nil {
		h.log.Error().Err(err).Str("stream", name).Msg("failed to marshal stream frame")
		return
	}

	h.mu.RLock()
	subscribers := make([]*Client, 0, len(h.streams[name]))
	for c := range h.streams[name] {
		subscribers = append(subscribers, c)
	}
	h.mu.RUnlock()

	for _, c := range subscribers {
		c.trySend(frame, false)
	}
}

// SendToUser queues a payload on every connection bound to an address.
// User frames (execution reports, balance updates) are critical: they are
// never shed, a connection that cannot keep up is closed instead.
func (h *Hub) SendToUser(userID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Str("user", userID).Msg("failed to marshal user frame")
		return
	}

	h.mu.RLock()
	conns := make([]*Client, 0, len(h.users[strings.ToLower(userID)]))
	for c := range h.users[strings.ToLower(userID)] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.trySend(data, true)
	}
}

// Stats reports gateway counters for the health endpoint.
type Stats struct {
	Connections   int `json:"connections"`
	Subscriptions int `json:"subscriptions"`
	Users         int `json:"users"`
}

// GetStats snapshots the registry sizes.
func (h *Hub) GetStats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := 0
	for _, conns := range h.streams {
		subs += len(conns)
	}
	return Stats{Connections: len(h.clients), Subscriptions: subs, Users: len(h.users)}
}

// SubscriberCount returns the live subscriber count of one stream.
func (h *Hub) SubscriberCount(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[name])
}
