package websocket

import (
	"sync"

	"go.uber.org/zap"
)

// Broadcast targets
const (
	TargetClient = "client"
	TargetRoom   = "room"
	TargetAll    = "all"
)

// MessageHandler is a function that handles incoming messages
type MessageHandler func(*Client, *Message)

// Hub maintains the set of active clients and broadcasts messages.
// Clients may join any number of named rooms; room names are opaque to
// the hub.
type Hub struct {
	// Registered clients by client ID
	clients map[string]*Client

	// Clients grouped by room name
	rooms map[string]map[string]*Client

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Broadcast messages to targets
	Broadcast chan *BroadcastMessage

	// Message handlers by message type
	handlers map[string]MessageHandler

	log *zap.Logger

	// Mutex for thread-safe operations
	mu sync.RWMutex
}

// BroadcastMessage represents a message to be broadcast
type BroadcastMessage struct {
	Target    string   // TargetClient, TargetRoom or TargetAll
	TargetID  string   // Client ID or room name
	ExcludeID string   // Optional client ID to skip on room broadcasts
	Message   *Message // Message to send
}

// NewHub creates a new Hub instance
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan *BroadcastMessage, 256),
		handlers:   make(map[string]MessageHandler),
		log:        log,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.log.Info("websocket hub started")
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case broadcast := <-h.Broadcast:
			h.broadcastMessage(broadcast)
		}
	}
}

// registerClient adds a client to the hub. A client reconnecting under
// the same ID replaces the previous session.
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.clients[client.ID]; ok && existing != client {
		h.removeFromRoomsLocked(existing)
		close(existing.Send)
	}

	h.clients[client.ID] = client
	for _, room := range client.Rooms() {
		if _, ok := h.rooms[room]; !ok {
			h.rooms[room] = make(map[string]*Client)
		}
		h.rooms[room][client.ID] = client
	}
	wsConnections.Set(float64(len(h.clients)))

	h.log.Info("websocket client registered",
		zap.String("client_id", client.ID),
		zap.String("role", client.Role),
	)
}

// unregisterClient removes a client from the hub. Stale sessions that
// were already replaced by a reconnect are ignored.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.clients[client.ID]
	if !ok || current != client {
		return
	}

	delete(h.clients, client.ID)
	h.removeFromRoomsLocked(client)
	close(client.Send)
	wsConnections.Set(float64(len(h.clients)))

	h.log.Info("websocket client unregistered", zap.String("client_id", client.ID))
}

func (h *Hub) removeFromRoomsLocked(client *Client) {
	for _, room := range client.Rooms() {
		if members, ok := h.rooms[room]; ok {
			delete(members, client.ID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	client.clearRooms()
}

// broadcastMessage sends a message to target clients
func (h *Hub) broadcastMessage(broadcast *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	switch broadcast.Target {
	case TargetClient:
		if client, ok := h.clients[broadcast.TargetID]; ok {
			client.SendMessage(broadcast.Message)
		}

	case TargetRoom:
		for id, client := range h.rooms[broadcast.TargetID] {
			if id == broadcast.ExcludeID {
				continue
			}
			client.SendMessage(broadcast.Message)
		}

	case TargetAll:
		for _, client := range h.clients {
			client.SendMessage(broadcast.Message)
		}
	}
}

// HandleMessage routes incoming messages to appropriate handlers.
// Unknown message types are acknowledged with a failure when the sender
// asked for one.
func (h *Hub) HandleMessage(client *Client, msg *Message) {
	recordEventReceived(msg.Type)

	h.mu.RLock()
	handler, exists := h.handlers[msg.Type]
	h.mu.RUnlock()

	if !exists {
		h.log.Warn("no handler for message type",
			zap.String("type", msg.Type),
			zap.String("client_id", client.ID),
		)
		client.Ack(msg, map[string]interface{}{
			"success": false,
			"message": "unknown event type",
		})
		return
	}

	handler(client, msg)
}

// RegisterHandler registers a message handler for a specific type
func (h *Hub) RegisterHandler(msgType string, handler MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[msgType] = handler
}

// JoinRoom adds a registered client to a room, creating it on demand
func (h *Hub) JoinRoom(clientID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return
	}

	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[string]*Client)
	}

	h.rooms[room][clientID] = client
	client.joinedRoom(room)

	h.log.Debug("client joined room",
		zap.String("client_id", clientID),
		zap.String("room", room),
	)
}

// LeaveRoom removes a client from a room
func (h *Hub) LeaveRoom(clientID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[room]; ok {
		delete(members, clientID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}

	if client, ok := h.clients[clientID]; ok {
		client.leftRoom(room)
	}
}

// SendToClient sends a message to a specific client
func (h *Hub) SendToClient(clientID string, msg *Message) {
	h.Broadcast <- &BroadcastMessage{
		Target:   TargetClient,
		TargetID: clientID,
		Message:  msg,
	}
}

// SendToRoom sends a message to every client in a room
func (h *Hub) SendToRoom(room string, msg *Message) {
	h.Broadcast <- &BroadcastMessage{
		Target:   TargetRoom,
		TargetID: room,
		Message:  msg,
	}
}

// SendToRoomExcept sends a message to every client in a room except one
func (h *Hub) SendToRoomExcept(room, excludeClientID string, msg *Message) {
	h.Broadcast <- &BroadcastMessage{
		Target:    TargetRoom,
		TargetID:  room,
		ExcludeID: excludeClientID,
		Message:   msg,
	}
}

// SendToAll broadcasts a message to all connected clients
func (h *Hub) SendToAll(msg *Message) {
	h.Broadcast <- &BroadcastMessage{
		Target:  TargetAll,
		Message: msg,
	}
}

// GetClient returns a client by ID
func (h *Hub) GetClient(clientID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[clientID]
	return client, ok
}

// ClientsInRoom returns all clients in a room
func (h *Hub) ClientsInRoom(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*Client, 0)
	for _, client := range h.rooms[room] {
		clients = append(clients, client)
	}
	return clients
}

// RoomSize returns the number of clients in a room
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomCount returns the number of active rooms
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
