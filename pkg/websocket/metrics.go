package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_active_connections",
		Help: "Number of currently connected WebSocket clients",
	})

	wsEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_events_received_total",
			Help: "Total inbound WebSocket events by type",
		},
		[]string{"event"},
	)

	wsMessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_dropped_total",
		Help: "Total outbound messages dropped because a client send buffer was full",
	})
)

func recordEventReceived(event string) {
	wsEventsReceived.WithLabelValues(event).Inc()
}

func recordMessageDropped() {
	wsMessagesDropped.Inc()
}
