package notifications

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/pkg/logger"
	"github.com/ridepulse/dispatch/pkg/metrics"
	"github.com/ridepulse/dispatch/pkg/models"
)

const (
	defaultQueueSize = 256
	sendTimeout      = 3 * time.Second
)

type pushJob struct {
	token string
	title string
	body  string
	data  map[string]string
}

// Dispatcher fans push notifications out through a bounded queue. Enqueue
// never blocks the caller: a full queue drops the notification and counts
// it. Without a sender every push is a no-op, which is how the process
// runs when FCM credentials are absent.
type Dispatcher struct {
	sender PushSender
	queue  chan pushJob
}

// NewDispatcher creates a dispatcher. sender may be nil to disable push.
func NewDispatcher(sender PushSender, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		sender: sender,
		queue:  make(chan pushJob, queueSize),
	}
}

// Run delivers queued notifications until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.sender == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			d.deliver(job)
		}
	}
}

// SendRideRequest notifies a driver about a new ride request.
func (d *Dispatcher) SendRideRequest(_ context.Context, token string, ride *models.Ride) {
	d.enqueue(pushJob{
		token: token,
		title: "New ride request",
		body:  fmt.Sprintf("Pickup at %s. Fare ₹%d.", ride.PickupAddress, ride.Fare),
		data: map[string]string{
			"type":          "newRideRequest",
			"rideId":        ride.RaidID,
			"vehicleType":   ride.VehicleType,
			"pickupAddress": ride.PickupAddress,
			"fare":          strconv.FormatInt(ride.Fare, 10),
		},
	})
}

// SendShiftWarning notifies a driver their working hours are running out.
func (d *Dispatcher) SendShiftWarning(_ context.Context, driver *models.Driver, remainingSeconds int64) {
	token := pushToken(driver)
	if token == "" {
		return
	}

	var window string
	switch {
	case remainingSeconds >= 3600:
		window = "1 hour"
	case remainingSeconds >= 1800:
		window = "30 minutes"
	default:
		window = "10 minutes"
	}

	d.enqueue(pushJob{
		token: token,
		title: "Working hours reminder",
		body:  fmt.Sprintf("Your working hours end in %s.", window),
		data: map[string]string{
			"type":             "workingHoursWarning",
			"remainingSeconds": strconv.FormatInt(remainingSeconds, 10),
		},
	})
}

// SendShiftExpired notifies a driver their shift ran out, either renewed
// from the wallet or stopped.
func (d *Dispatcher) SendShiftExpired(_ context.Context, driver *models.Driver, renewed bool) {
	token := pushToken(driver)
	if token == "" {
		return
	}

	job := pushJob{token: token}
	if renewed {
		job.title = "Working hours extended"
		job.body = fmt.Sprintf("₹%d deducted from your wallet. 12 more hours added.", driver.DeductionFee())
		job.data = map[string]string{"type": "workingHoursExtended"}
	} else {
		job.title = "Working hours ended"
		job.body = "Working hours exhausted. You have been taken offline."
		job.data = map[string]string{"type": "autoStop"}
	}
	d.enqueue(job)
}

func (d *Dispatcher) enqueue(job pushJob) {
	if d.sender == nil || job.token == "" {
		return
	}
	select {
	case d.queue <- job:
	default:
		metrics.PushDropped.Inc()
		logger.Warn("push queue full, notification dropped",
			zap.String("title", job.title),
		)
	}
}

func (d *Dispatcher) deliver(job pushJob) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if _, err := d.sender.SendPush(ctx, job.token, job.title, job.body, job.data); err != nil {
		logger.Warn("push delivery failed",
			zap.String("title", job.title),
			zap.String("token", maskToken(job.token)),
			zap.Error(err),
		)
	}
}

func pushToken(driver *models.Driver) string {
	if driver == nil || driver.PushToken == nil {
		return ""
	}
	return *driver.PushToken
}
