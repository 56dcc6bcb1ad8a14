package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	// Outbound buffer per client
	sendBufferSize = 256
)

// Client represents a WebSocket client connection
type Client struct {
	ID   string          // Unique client identifier (internal user ID)
	Role string          // "passenger" or "driver"
	Conn *websocket.Conn // WebSocket connection
	Send chan *Message   // Buffered channel of outbound messages
	Hub  *Hub            // Reference to hub

	log   *zap.Logger
	mu    sync.RWMutex        // Protects room membership
	rooms map[string]struct{} // Rooms this client has joined
}

// NewClient creates a new WebSocket client
func NewClient(id string, conn *websocket.Conn, hub *Hub, role string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		ID:    id,
		Conn:  conn,
		Send:  make(chan *Message, sendBufferSize),
		Hub:   hub,
		Role:  role,
		log:   log,
		rooms: make(map[string]struct{}),
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		err := c.Conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read failed",
					zap.String("client_id", c.ID),
					zap.Error(err),
				)
			}
			break
		}

		msg.Timestamp = time.Now()

		// Route message to appropriate handler
		c.Hub.HandleMessage(c, &msg)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			err := c.Conn.WriteJSON(message)
			if err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage queues a message for delivery. When the client's buffer is
// full the message is dropped and counted; callers are never blocked.
func (c *Client) SendMessage(msg *Message) {
	select {
	case c.Send <- msg:
	default:
		recordMessageDropped()
		c.log.Warn("send buffer full, dropping message",
			zap.String("client_id", c.ID),
			zap.String("type", msg.Type),
		)
	}
}

// Ack replies to an inbound message that requested acknowledgement.
// Messages without an AckID are not acknowledged.
func (c *Client) Ack(inbound *Message, data map[string]interface{}) {
	if inbound == nil || inbound.AckID == "" {
		return
	}
	c.SendMessage(&Message{
		Type:      TypeAck,
		AckID:     inbound.AckID,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// StageRoom records room membership on a client that has not been
// registered with the hub yet. Register syncs staged rooms into the
// hub's room index, so identity rooms bound at connect time never race
// the first inbound message.
func (c *Client) StageRoom(room string) {
	c.joinedRoom(room)
}

// Rooms returns the rooms this client is currently in
func (c *Client) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// InRoom reports whether the client has joined the given room
func (c *Client) InRoom(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

func (c *Client) joinedRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = struct{}{}
}

func (c *Client) leftRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, room)
}

func (c *Client) clearRooms() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms = make(map[string]struct{})
}
