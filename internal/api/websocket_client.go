package api

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Keep-alive: the server pings every pingPeriod and drops a connection
	// after two unanswered pings (pongWait = 2*pingPeriod).
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
	writeWait  = 10 * time.Second

	// Control-plane rate limit: inbound messages per sliding window.
	// Exceeding the limit earns an error frame; exceeding twice over earns
	// a close.
	controlLimit  = 20
	controlWindow = time.Second

	sendQueueSize = 256
)

var klineStreamRe = regexp.MustCompile(`^[a-z0-9]+@kline_(1m|5m|30m|1h|1d)$`)
var simpleStreamRe = regexp.MustCompile(`^[a-z0-9]+@(trade|depth|miniTicker)$`)

// ControlMessage is the inbound subscription protocol.
type ControlMessage struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// ControlResponse answers a control message.
type ControlResponse struct {
	Result interface{} `json:"result"`
	ID     int64       `json:"id"`
}

// ErrorFrame is pushed when a control message is rejected.
type ErrorFrame struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"msg"`
	} `json:"error"`
	ID int64 `json:"id,omitempty"`
}

// Client is one WebSocket connection. The send channel is the single
// writer queue; subscriptions are guarded by the hub mutex.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string // lowercased address, empty on public connections

	subscriptions map[string]bool

	limiterMu    sync.Mutex
	limiterHits  []time.Time
	backpressure bool

	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendQueueSize),
		userID:        strings.ToLower(userID),
		subscriptions: make(map[string]bool),
	}
}

// validStreamName checks a subscription request against the stream
// grammar. user@executionReport is only meaningful on user-bound
// connections.
func (c *Client) validStreamName(name string) bool {
	if name == "user@executionReport" {
		return c.userID != ""
	}
	return simpleStreamRe.MatchString(name) || klineStreamRe.MatchString(name)
}

// trySend queues a frame without blocking. A full queue sheds the oldest
// queued frame for non-critical market data; for critical user frames the
// connection is closed instead of losing the message.
func (c *Client) trySend(frame []byte, critical bool) {
	select {
	case c.send <- frame:
		return
	default:
	}

	if critical {
		c.hub.log.Warn().Str("user", c.userID).Msg("send queue full on critical frame, closing connection")
		c.close()
		return
	}

	// Drop the oldest frame to make room; flag backpressure.
	c.limiterMu.Lock()
	c.backpressure = true
	c.limiterMu.Unlock()
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- frame:
	default:
	}
}

// close unregisters the client and closes the socket. The send channel is
// never closed; both pumps exit through the dead connection, so a racing
// broadcast can still queue safely.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.hub.unregister(c)
		c.conn.Close()
	})
}

// allowControl applies the sliding-window rate limit to one inbound
// message. The second return is true once the client is far enough over
// the limit that the connection should be dropped.
func (c *Client) allowControl(now time.Time) (ok, kick bool) {
	c.limiterMu.Lock()
	defer c.limiterMu.Unlock()

	cutoff := now.Add(-controlWindow)
	recent := c.limiterHits[:0]
	for _, t := range c.limiterHits {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	c.limiterHits = append(recent, now)

	n := len(c.limiterHits)
	return n <= controlLimit, n > 2*controlLimit
}

// readPump consumes control messages until the connection dies.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		ok, kick := c.allowControl(time.Now())
		if kick {
			c.sendError(0, 429, "rate limit exceeded, closing")
			return
		}
		if !ok {
			c.sendError(0, 429, "rate limit exceeded")
			continue
		}

		var msg ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError(0, 400, "invalid control message")
			continue
		}
		c.handleControl(msg)
	}
}

func (c *Client) handleControl(msg ControlMessage) {
	switch strings.ToUpper(msg.Method) {
	case "SUBSCRIBE":
		for _, name := range msg.Params {
			if !c.validStreamName(name) {
				c.sendError(msg.ID, 400, "invalid stream name: "+name)
				return
			}
		}
		for _, name := range msg.Params {
			c.hub.subscribe(c, name)
		}
		c.sendResponse(msg.ID, nil)

	case "UNSUBSCRIBE":
		for _, name := range msg.Params {
			c.hub.unsubscribe(c, name)
		}
		c.sendResponse(msg.ID, nil)

	case "LIST_SUBSCRIPTIONS":
		c.hub.mu.RLock()
		subs := make([]string, 0, len(c.subscriptions))
		for name := range c.subscriptions {
			subs = append(subs, name)
		}
		c.hub.mu.RUnlock()
		c.sendResponse(msg.ID, subs)

	case "PING":
		c.sendResponse(msg.ID, "pong")

	default:
		c.sendError(msg.ID, 400, "unknown method: "+msg.Method)
	}
}

func (c *Client) sendResponse(id int64, result interface{}) {
	data, err := json.Marshal(ControlResponse{Result: result, ID: id})
	if err != nil {
		return
	}
	c.trySend(data, false)
}

func (c *Client) sendError(id int64, code int, message string) {
	var frame ErrorFrame
	frame.Error.Code = code
	frame.Error.Message = message
	frame.ID = id
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.trySend(data, false)
}

// writePump serializes all outbound frames and drives the keep-alive ping.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
