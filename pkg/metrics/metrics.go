// Package metrics holds the domain-level Prometheus collectors shared by
// the dispatch, presence and working-hours services. HTTP and WebSocket
// transport metrics live next to their middleware.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RidesRequested counts bookings by vehicle type.
	RidesRequested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_rides_requested_total",
			Help: "Total ride bookings by vehicle type",
		},
		[]string{"vehicle_type"},
	)

	// RidesDeduplicated counts bookings suppressed by the duplicate window.
	RidesDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_rides_deduplicated_total",
		Help: "Total bookings suppressed as duplicates within the dedup window",
	})

	// DispatchFanout counts drivers notified per booking.
	DispatchFanout = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_fanout_drivers",
		Help:    "Drivers notified per booking fan-out",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
	})

	// RideTransitions counts state machine transitions by target status.
	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_ride_transitions_total",
			Help: "Total ride state transitions by target status",
		},
		[]string{"status"},
	)

	// AcceptConflicts counts acceptance attempts lost to another driver.
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_accept_conflicts_total",
		Help: "Total ride acceptances rejected because another driver won",
	})

	// RaidIDFallbacks counts ride ids minted from the clock because the
	// sequence store was unavailable.
	RaidIDFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_raid_id_fallbacks_total",
		Help: "Total ride identifiers generated via the timestamp fallback",
	})

	// DriversOnline tracks registered drivers by vehicle type.
	DriversOnline = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "presence_drivers_online",
			Help: "Drivers currently online by vehicle type",
		},
		[]string{"vehicle_type"},
	)

	// LocationUpdates counts live location messages by subject kind.
	LocationUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_location_updates_total",
			Help: "Total live location updates by subject kind",
		},
		[]string{"kind"},
	)

	// SweeperEvictions counts stale entries removed by the presence sweeper.
	SweeperEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_sweeper_evictions_total",
			Help: "Total stale entries evicted by the sweeper, by cache",
		},
		[]string{"cache"},
	)

	// ShiftWarnings counts working-hours warnings by threshold.
	ShiftWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workinghours_warnings_total",
			Help: "Total shift expiry warnings by threshold seconds",
		},
		[]string{"threshold"},
	)

	// ShiftAutoDebits counts automatic extensions charged at expiry.
	ShiftAutoDebits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workinghours_auto_debits_total",
		Help: "Total automatic wallet debits at shift expiry",
	})

	// ShiftAutoStops counts drivers forced offline at expiry.
	ShiftAutoStops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workinghours_auto_stops_total",
		Help: "Total drivers forced offline because the shift expired unfunded",
	})

	// WalletTransactions counts ledger writes by method and type.
	WalletTransactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_transactions_total",
			Help: "Total wallet ledger writes by method and direction",
		},
		[]string{"method", "type"},
	)

	// PushDropped counts notifications dropped because the dispatcher
	// queue was full.
	PushDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_dropped_total",
		Help: "Total push notifications dropped because the queue was full",
	})
)
