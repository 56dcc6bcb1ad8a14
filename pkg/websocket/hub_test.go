package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func receiveMessage(t *testing.T, c *Client) *Message {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no message received")
		return nil
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Send:
		t.Fatalf("unexpected message received: %s", msg.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestHubRegisterAndUnregister tests the client lifecycle
func TestHubRegisterAndUnregister(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	client := NewClient("user-1", nil, hub, "passenger", zap.NewNop())

	hub.Register <- client
	time.Sleep(10 * time.Millisecond)

	got, ok := hub.GetClient("user-1")
	require.True(t, ok)
	assert.Equal(t, client, got)
	assert.Equal(t, 1, hub.ClientCount())

	hub.Unregister <- client
	time.Sleep(10 * time.Millisecond)

	_, ok = hub.GetClient("user-1")
	assert.False(t, ok)
	assert.Equal(t, 0, hub.ClientCount())

	// Send channel is closed on unregister
	select {
	case _, open := <-client.Send:
		assert.False(t, open)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("send channel was not closed")
	}
}

// TestHubReconnectReplacesSession tests that a new connection under the
// same ID evicts the old session without tearing down the new one
func TestHubReconnectReplacesSession(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	old := NewClient("user-1", nil, hub, "driver", zap.NewNop())
	hub.Register <- old
	time.Sleep(10 * time.Millisecond)

	hub.JoinRoom("user-1", "drivers_taxi")
	assert.Equal(t, 1, hub.RoomSize("drivers_taxi"))

	replacement := NewClient("user-1", nil, hub, "driver", zap.NewNop())
	hub.Register <- replacement
	time.Sleep(10 * time.Millisecond)

	got, ok := hub.GetClient("user-1")
	require.True(t, ok)
	assert.Same(t, replacement, got)

	// Old session's membership is gone
	assert.Equal(t, 0, hub.RoomSize("drivers_taxi"))

	select {
	case _, open := <-old.Send:
		assert.False(t, open)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("old send channel was not closed")
	}

	// The old session's read pump eventually unregisters; that must not
	// evict the replacement
	hub.Unregister <- old
	time.Sleep(10 * time.Millisecond)

	got, ok = hub.GetClient("user-1")
	require.True(t, ok)
	assert.Same(t, replacement, got)
	assert.Equal(t, 1, hub.ClientCount())
}

// TestHubJoinLeaveRoom tests room membership through the hub
func TestHubJoinLeaveRoom(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	client := NewClient("driver-1", nil, hub, "driver", zap.NewNop())
	hub.Register <- client
	time.Sleep(10 * time.Millisecond)

	hub.JoinRoom("driver-1", "drivers_bike")

	assert.Equal(t, 1, hub.RoomSize("drivers_bike"))
	assert.True(t, client.InRoom("drivers_bike"))
	assert.Len(t, hub.ClientsInRoom("drivers_bike"), 1)
	assert.Equal(t, 1, hub.RoomCount())

	hub.LeaveRoom("driver-1", "drivers_bike")

	assert.Equal(t, 0, hub.RoomSize("drivers_bike"))
	assert.False(t, client.InRoom("drivers_bike"))
	assert.Equal(t, 0, hub.RoomCount())
}

// TestHubJoinRoomUnknownClient tests joining with an unregistered ID
func TestHubJoinRoomUnknownClient(t *testing.T) {
	hub := NewHub(zap.NewNop())

	hub.JoinRoom("ghost", "drivers_taxi")

	assert.Equal(t, 0, hub.RoomSize("drivers_taxi"))
	assert.Equal(t, 0, hub.RoomCount())
}

// TestHubUnregisterLeavesRooms tests that disconnects clean up every room
func TestHubUnregisterLeavesRooms(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	client := NewClient("driver-1", nil, hub, "driver", zap.NewNop())
	hub.Register <- client
	time.Sleep(10 * time.Millisecond)

	hub.JoinRoom("driver-1", "drivers_taxi")
	hub.JoinRoom("driver-1", "driver_DR0001")
	assert.Equal(t, 2, hub.RoomCount())

	hub.Unregister <- client
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 0, hub.RoomCount())
}

// TestHubSendToClient tests direct addressing
func TestHubSendToClient(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	alice := NewClient("alice", nil, hub, "passenger", zap.NewNop())
	bob := NewClient("bob", nil, hub, "passenger", zap.NewNop())
	hub.Register <- alice
	hub.Register <- bob
	time.Sleep(10 * time.Millisecond)

	hub.SendToClient("alice", &Message{Type: "rideStatusUpdate", Data: map[string]interface{}{"status": "accepted"}})

	msg := receiveMessage(t, alice)
	assert.Equal(t, "rideStatusUpdate", msg.Type)
	assertNoMessage(t, bob)
}

// TestHubSendToRoom tests room fan-out
func TestHubSendToRoom(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	clients := make([]*Client, 3)
	for i, id := range []string{"d1", "d2", "d3"} {
		clients[i] = NewClient(id, nil, hub, "driver", zap.NewNop())
		hub.Register <- clients[i]
	}
	time.Sleep(10 * time.Millisecond)

	hub.JoinRoom("d1", "drivers_taxi")
	hub.JoinRoom("d2", "drivers_taxi")

	hub.SendToRoom("drivers_taxi", &Message{Type: "newRideRequest", Data: map[string]interface{}{}})

	assert.Equal(t, "newRideRequest", receiveMessage(t, clients[0]).Type)
	assert.Equal(t, "newRideRequest", receiveMessage(t, clients[1]).Type)
	assertNoMessage(t, clients[2])
}

// TestHubSendToRoomExcept tests room fan-out with exclusion
func TestHubSendToRoomExcept(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	clients := make([]*Client, 3)
	for i, id := range []string{"d1", "d2", "d3"} {
		clients[i] = NewClient(id, nil, hub, "driver", zap.NewNop())
		hub.Register <- clients[i]
	}
	time.Sleep(10 * time.Millisecond)

	for _, id := range []string{"d1", "d2", "d3"} {
		hub.JoinRoom(id, "drivers_taxi")
	}

	hub.SendToRoomExcept("drivers_taxi", "d2", &Message{Type: "rideTaken", Data: map[string]interface{}{}})

	assert.Equal(t, "rideTaken", receiveMessage(t, clients[0]).Type)
	assert.Equal(t, "rideTaken", receiveMessage(t, clients[2]).Type)
	assertNoMessage(t, clients[1])
}

// TestHubSendToAll tests global broadcast
func TestHubSendToAll(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	alice := NewClient("alice", nil, hub, "passenger", zap.NewNop())
	bob := NewClient("bob", nil, hub, "driver", zap.NewNop())
	hub.Register <- alice
	hub.Register <- bob
	time.Sleep(10 * time.Millisecond)

	hub.SendToAll(&Message{Type: "priceUpdate", Data: map[string]interface{}{}})

	assert.Equal(t, "priceUpdate", receiveMessage(t, alice).Type)
	assert.Equal(t, "priceUpdate", receiveMessage(t, bob).Type)
}

// TestHubHandleMessageRoutesToHandler tests handler dispatch
func TestHubHandleMessageRoutesToHandler(t *testing.T) {
	hub := NewHub(zap.NewNop())
	client := NewClient("user-1", nil, hub, "passenger", zap.NewNop())

	var gotClient *Client
	var gotMsg *Message
	hub.RegisterHandler("bookRide", func(c *Client, m *Message) {
		gotClient = c
		gotMsg = m
	})

	msg := &Message{Type: "bookRide", Data: map[string]interface{}{"vehicleType": "taxi"}}
	hub.HandleMessage(client, msg)

	require.NotNil(t, gotMsg)
	assert.Same(t, client, gotClient)
	assert.Equal(t, "taxi", gotMsg.Data["vehicleType"])
}

// TestHubHandleMessageUnknownType tests the failure ack for unroutable events
func TestHubHandleMessageUnknownType(t *testing.T) {
	hub := NewHub(zap.NewNop())
	client := NewClient("user-1", nil, hub, "passenger", zap.NewNop())

	hub.HandleMessage(client, &Message{Type: "noSuchEvent", AckID: "ack-9", Data: map[string]interface{}{}})

	reply := receiveMessage(t, client)
	assert.Equal(t, TypeAck, reply.Type)
	assert.Equal(t, "ack-9", reply.AckID)
	assert.Equal(t, false, reply.Data["success"])

	// Without an ack_id there is nothing to send back
	hub.HandleMessage(client, &Message{Type: "noSuchEvent", Data: map[string]interface{}{}})
	assertNoMessage(t, client)
}

// TestHubStagedRoomsSyncOnRegister tests that rooms staged before
// registration are addressable as soon as the client registers
func TestHubStagedRoomsSyncOnRegister(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	client := NewClient("DR1001", nil, hub, "driver", zap.NewNop())
	client.StageRoom("driver_DR1001")

	hub.Register <- client
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 1, hub.RoomSize("driver_DR1001"))

	hub.SendToRoom("driver_DR1001", &Message{Type: "workingHoursWarning"})
	time.Sleep(10 * time.Millisecond)

	msg := receiveMessage(t, client)
	assert.Equal(t, "workingHoursWarning", msg.Type)
}
