package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/pkg/logger"
)

// Subjects for dispatch lifecycle events. The feed is fire-and-forget;
// consumers that are offline miss events and nothing in the dispatcher
// depends on delivery.
const (
	SubjectRideRequested = "rides.requested"
	SubjectRideAccepted  = "rides.accepted"
	SubjectRideArrived   = "rides.arrived"
	SubjectRideStarted   = "rides.started"
	SubjectRideCompleted = "rides.completed"
	SubjectRideCancelled = "rides.cancelled"

	SubjectDriverOnline       = "drivers.online"
	SubjectDriverOffline      = "drivers.offline"
	SubjectDriverShiftWarning = "drivers.shift.warning"
	SubjectDriverShiftExpired = "drivers.shift.expired"

	SubjectWalletCredited = "wallet.credited"
	SubjectWalletDebited  = "wallet.debited"

	SubjectPriceUpdated = "prices.updated"
)

// Event is the envelope for all events published through the bus.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent creates a new event with a unique ID and current timestamp.
func NewEvent(eventType, source string, data interface{}) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// HandlerFunc processes a received event.
type HandlerFunc func(event *Event)

// Config holds NATS connection settings.
type Config struct {
	URL  string
	Name string // client connection name
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		URL:  nats.DefaultURL,
		Name: "dispatch",
	}
}

// Bus wraps a core NATS connection for publishing lifecycle events.
// A nil Bus is valid and drops everything, which is how the daemon runs
// when the feed is disabled.
type Bus struct {
	conn *nats.Conn
}

// New connects to NATS.
func New(cfg Config) (*Bus, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Info("NATS event bus connected", zap.String("url", cfg.URL))

	return &Bus{conn: nc}, nil
}

// Publish sends an event to the given subject. Publishing through a nil
// or disconnected bus silently drops the event.
func (b *Bus) Publish(subject string, event *Event) error {
	if b == nil || b.conn == nil {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	logger.Debug("event published",
		zap.String("subject", subject),
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
	)
	return nil
}

// Subscribe registers a handler for a subject pattern (e.g. "rides.>").
// Malformed payloads are dropped.
func (b *Bus) Subscribe(subject string, handler HandlerFunc) (*nats.Subscription, error) {
	if b == nil || b.conn == nil {
		return nil, fmt.Errorf("event bus not connected")
	}

	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Warn("failed to unmarshal event", zap.Error(err))
			return
		}
		handler(&event)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	logger.Info("subscribed to events", zap.String("subject", subject))
	return sub, nil
}

// Close drains and closes the NATS connection.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	b.conn.Drain()
	logger.Info("NATS event bus closed")
}

// Connected returns true if the NATS connection is active.
func (b *Bus) Connected() bool {
	return b != nil && b.conn != nil && b.conn.IsConnected()
}
