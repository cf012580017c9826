package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
	poller "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Poller"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// MessageType tags what a hub message carries
type MessageType string

const (
	MessageSnapshot MessageType = "snapshot"
	MessageLogout   MessageType = "logout"
)

// Message is the frame written to browsers
type Message struct {
	Type     MessageType      `json:"type"`
	Snapshot *poller.Snapshot `json:"snapshot,omitempty"`
	Redirect string           `json:"redirect,omitempty"`
}

func (m Message) deviceID() int {
	if m.Snapshot == nil {
		return 0
	}
	return m.Snapshot.DeviceID
}

// Hub fans poller snapshots out to websocket clients watching a device
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *logger.Logger
}

// Client is one browser connection. deviceID 0 receives every device.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan Message
	deviceID int
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		log:        log.WithComponent("live_hub"),
	}
}

// Run dispatches messages until ctx is done, then closes every client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.WithField("clients", n).Debug("websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.WithField("clients", n).Debug("websocket client disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(message) {
					continue
				}
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// OnSnapshot implements poller.Observer
func (h *Hub) OnSnapshot(s poller.Snapshot) {
	h.publish(Message{Type: MessageSnapshot, Snapshot: &s})
}

// BroadcastLogout tells every browser the session is gone
func (h *Hub) BroadcastLogout(redirect string) {
	h.publish(Message{Type: MessageLogout, Redirect: redirect})
}

func (h *Hub) publish(m Message) {
	select {
	case h.broadcast <- m:
	default:
		h.log.WithField("type", string(m.Type)).Warn("broadcast channel full, dropping message")
	}
}

// ServeWS upgrades the request and subscribes it to deviceID
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, deviceID int) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("failed to upgrade websocket connection")
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan Message, 64),
		deviceID: deviceID,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

const (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512
)

func (c *Client) wants(m Message) bool {
	id := m.deviceID()
	return c.deviceID == 0 || id == 0 || id == c.deviceID
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Debug("websocket read error")
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				c.hub.log.WithError(err).Error("failed to marshal websocket message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
