package realtime

import (
	"time"

	ws "github.com/ridepulse/dispatch/pkg/websocket"
)

// Emitter addresses outbound events to gateway rooms. A nil Emitter drops
// everything, which keeps services usable in tests and in tools that run
// without the gateway.
type Emitter struct {
	hub *ws.Hub
}

// NewEmitter creates an emitter bound to the gateway hub.
func NewEmitter(hub *ws.Hub) *Emitter {
	return &Emitter{hub: hub}
}

func (e *Emitter) enabled() bool {
	return e != nil && e.hub != nil
}

// ToUser sends an event to a passenger's session room. Passenger sessions
// are keyed by the internal user ID.
func (e *Emitter) ToUser(userID, event string, data map[string]interface{}) {
	if !e.enabled() {
		return
	}
	e.hub.SendToRoom(userID, newEvent(event, data))
}

// ToDriver sends an event to one driver's room.
func (e *Emitter) ToDriver(driverID, event string, data map[string]interface{}) {
	if !e.enabled() {
		return
	}
	e.hub.SendToRoom(DriverRoom(driverID), newEvent(event, data))
}

// ToFleet sends an event to every driver of a vehicle type.
func (e *Emitter) ToFleet(vehicleType, event string, data map[string]interface{}) {
	if !e.enabled() {
		return
	}
	e.hub.SendToRoom(FleetRoom(vehicleType), newEvent(event, data))
}

// ToFleetExcept sends an event to every driver of a vehicle type except
// the named driver.
func (e *Emitter) ToFleetExcept(vehicleType, exceptDriverID, event string, data map[string]interface{}) {
	if !e.enabled() {
		return
	}
	e.hub.SendToRoomExcept(FleetRoom(vehicleType), exceptDriverID, newEvent(event, data))
}

// ToAll broadcasts an event to every connected session.
func (e *Emitter) ToAll(event string, data map[string]interface{}) {
	if !e.enabled() {
		return
	}
	e.hub.SendToAll(newEvent(event, data))
}

func newEvent(event string, data map[string]interface{}) *ws.Message {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &ws.Message{
		Type:      event,
		Timestamp: time.Now(),
		Data:      data,
	}
}
