package notifications

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridepulse/dispatch/pkg/models"
)

type sentPush struct {
	token string
	title string
	body  string
	data  map[string]string
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentPush
	ready chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{ready: make(chan struct{}, 16)}
}

func (f *fakeSender) SendPush(_ context.Context, token, title, body string, data map[string]string) (string, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentPush{token: token, title: title, body: body, data: data})
	f.mu.Unlock()
	f.ready <- struct{}{}
	return "msg-1", nil
}

func (f *fakeSender) wait(t *testing.T) sentPush {
	t.Helper()
	select {
	case <-f.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("push was not delivered")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func tokenDriver(token string) *models.Driver {
	return &models.Driver{
		DriverID:          "DR1001",
		Name:              "Ravi",
		WorkingHoursLimit: 12,
		PushToken:         &token,
	}
}

func TestDispatcherDeliversRideRequest(t *testing.T) {
	sender := newFakeSender()
	d := NewDispatcher(sender, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.SendRideRequest(context.Background(), "tok-abc", &models.Ride{
		RaidID:        "RID000042",
		VehicleType:   models.VehicleTypeBike,
		PickupAddress: "MG Road",
		Fare:          180,
	})

	got := sender.wait(t)
	assert.Equal(t, "tok-abc", got.token)
	assert.Equal(t, "New ride request", got.title)
	assert.Contains(t, got.body, "MG Road")
	assert.Equal(t, "RID000042", got.data["rideId"])
	assert.Equal(t, "newRideRequest", got.data["type"])
	assert.Equal(t, "180", got.data["fare"])
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	sender := newFakeSender()
	d := NewDispatcher(sender, 1)
	// No worker running, so the queue fills immediately.

	ride := &models.Ride{RaidID: "RID000001", PickupAddress: "MG Road"}
	d.SendRideRequest(context.Background(), "tok-1", ride)
	d.SendRideRequest(context.Background(), "tok-2", ride)

	assert.Equal(t, 1, len(d.queue))
}

func TestDispatcherNoopWithoutSender(t *testing.T) {
	d := NewDispatcher(nil, 4)

	d.SendRideRequest(context.Background(), "tok-1", &models.Ride{RaidID: "RID000001"})
	d.SendShiftWarning(context.Background(), tokenDriver("tok-1"), 3600)

	assert.Equal(t, 0, len(d.queue))
}

func TestShiftWarningSkipsDriverWithoutToken(t *testing.T) {
	sender := newFakeSender()
	d := NewDispatcher(sender, 4)

	d.SendShiftWarning(context.Background(), &models.Driver{DriverID: "DR1001"}, 3600)

	assert.Equal(t, 0, len(d.queue))
}

func TestShiftWarningBodies(t *testing.T) {
	tests := []struct {
		remaining int64
		window    string
	}{
		{3600, "1 hour"},
		{1800, "30 minutes"},
		{600, "10 minutes"},
	}
	for _, tt := range tests {
		sender := newFakeSender()
		d := NewDispatcher(sender, 4)

		d.SendShiftWarning(context.Background(), tokenDriver("tok-1"), tt.remaining)

		require.Equal(t, 1, len(d.queue))
		job := <-d.queue
		assert.Contains(t, job.body, tt.window)
		assert.Equal(t, "workingHoursWarning", job.data["type"])
	}
}

func TestShiftExpiredRenewed(t *testing.T) {
	sender := newFakeSender()
	d := NewDispatcher(sender, 4)

	d.SendShiftExpired(context.Background(), tokenDriver("tok-1"), true)

	require.Equal(t, 1, len(d.queue))
	job := <-d.queue
	assert.Equal(t, "Working hours extended", job.title)
	assert.Contains(t, job.body, "₹100")
}

func TestShiftExpiredStopped(t *testing.T) {
	sender := newFakeSender()
	d := NewDispatcher(sender, 4)

	d.SendShiftExpired(context.Background(), tokenDriver("tok-1"), false)

	require.Equal(t, 1, len(d.queue))
	job := <-d.queue
	assert.Equal(t, "Working hours ended", job.title)
	assert.Equal(t, "autoStop", job.data["type"])
}
