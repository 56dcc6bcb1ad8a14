package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	ws "github.com/ridepulse/dispatch/pkg/websocket"
)

func newTestHub(t *testing.T, ids ...string) (*ws.Hub, map[string]*ws.Client) {
	t.Helper()
	hub := ws.NewHub(zap.NewNop())
	go hub.Run()

	clients := make(map[string]*ws.Client, len(ids))
	for _, id := range ids {
		c := ws.NewClient(id, nil, hub, "driver", zap.NewNop())
		hub.Register <- c
		clients[id] = c
	}
	time.Sleep(10 * time.Millisecond)
	return hub, clients
}

func drain(t *testing.T, c *ws.Client) *ws.Message {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no message received")
		return nil
	}
}

func assertSilent(t *testing.T, c *ws.Client) {
	t.Helper()
	select {
	case msg := <-c.Send:
		t.Fatalf("unexpected message: %s", msg.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestEmitterToFleetExcept tests that the losing drivers hear about an
// acceptance but the winner does not
func TestEmitterToFleetExcept(t *testing.T) {
	hub, clients := newTestHub(t, "DR1", "DR2", "DR3")
	for _, id := range []string{"DR1", "DR2", "DR3"} {
		hub.JoinRoom(id, FleetRoom("taxi"))
	}

	e := NewEmitter(hub)
	e.ToFleetExcept("taxi", "DR2", EventRideAlreadyAccepted, map[string]interface{}{"raidId": "RID000042"})

	msg := drain(t, clients["DR1"])
	assert.Equal(t, EventRideAlreadyAccepted, msg.Type)
	assert.Equal(t, "RID000042", msg.Data["raidId"])
	assert.Equal(t, EventRideAlreadyAccepted, drain(t, clients["DR3"]).Type)
	assertSilent(t, clients["DR2"])
}

// TestEmitterToDriver tests per-driver room addressing
func TestEmitterToDriver(t *testing.T) {
	hub, clients := newTestHub(t, "DR1", "DR2")
	hub.JoinRoom("DR1", DriverRoom("DR1"))
	hub.JoinRoom("DR2", DriverRoom("DR2"))

	e := NewEmitter(hub)
	e.ToDriver("DR1", EventWalletUpdate, map[string]interface{}{"balance": float64(250)})

	msg := drain(t, clients["DR1"])
	assert.Equal(t, EventWalletUpdate, msg.Type)
	assertSilent(t, clients["DR2"])
}

// TestEmitterToAll tests the global broadcast path
func TestEmitterToAll(t *testing.T) {
	hub, clients := newTestHub(t, "a", "b")

	e := NewEmitter(hub)
	e.ToAll(EventPriceUpdate, nil)

	assert.Equal(t, EventPriceUpdate, drain(t, clients["a"]).Type)
	assert.Equal(t, EventPriceUpdate, drain(t, clients["b"]).Type)
}

// TestEmitterNilSafe tests that services can emit without a gateway
func TestEmitterNilSafe(t *testing.T) {
	var e *Emitter
	assert.NotPanics(t, func() {
		e.ToUser("u", EventBillAlert, nil)
		e.ToDriver("d", EventRideAccepted, nil)
		e.ToFleet("taxi", EventNewRideRequest, nil)
		e.ToFleetExcept("taxi", "d", EventRideAlreadyAccepted, nil)
		e.ToAll(EventPriceUpdate, nil)
	})
}

// TestRoomNames pins the room naming scheme
func TestRoomNames(t *testing.T) {
	assert.Equal(t, "drivers_bike", FleetRoom("bike"))
	assert.Equal(t, "driver_DR0001", DriverRoom("DR0001"))
}
