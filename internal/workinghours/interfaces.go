package workinghours

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/ridepulse/dispatch/internal/wallet"
	"github.com/ridepulse/dispatch/pkg/models"
)

// PurchaseKind selects which extra-time product a driver is buying.
type PurchaseKind int

const (
	// PurchaseExtend adds a caller-chosen number of hours for the
	// driver's deduction fee.
	PurchaseExtend PurchaseKind = iota
	// PurchaseHalfTime adds half a shift.
	PurchaseHalfTime
	// PurchaseFullTime adds a full shift.
	PurchaseFullTime
)

// RepositoryInterface defines the shift timer's persistence operations.
// Mutations run inside locked transactions so concurrent start/stop/expiry
// requests for the same driver serialize on the driver row.
type RepositoryInterface interface {
	GetDriver(ctx context.Context, driverID string) (*models.Driver, error)
	StartShift(ctx context.Context, driverID string) (*ShiftStart, error)
	ResumeShift(ctx context.Context, driverID string) (*ShiftStart, error)
	StopShift(ctx context.Context, driverID string, remaining int64, haveRemaining bool) (*models.Driver, error)
	RenewShift(ctx context.Context, driverID string) (*ShiftRenewal, error)
	PurchaseTime(ctx context.Context, driverID string, kind PurchaseKind, additionalHours int) (*TimePurchase, error)
	PersistCountdown(ctx context.Context, driverID string, remaining int64) error
	PersistWarning(ctx context.Context, driverID string, warnings int, remaining int64) error
	ListActiveTimers(ctx context.Context) ([]*models.Driver, error)
}

// WalletDebiter applies a debit inside the repository's transaction. The
// repository never announces; committed transactions surface through the
// outcome structs and the service announces them.
type WalletDebiter interface {
	ApplyDriverDebit(ctx context.Context, tx pgx.Tx, op wallet.DriverOp) (*models.Transaction, error)
}

// Announcer publishes a committed wallet transaction to the driver room
// and the event bus.
type Announcer interface {
	Announce(txn *models.Transaction)
}

// Emitter pushes realtime events into driver rooms
type Emitter interface {
	ToDriver(driverID, event string, data map[string]interface{})
}

// Pusher delivers shift notifications to drivers whose app is backgrounded
type Pusher interface {
	SendShiftWarning(ctx context.Context, driver *models.Driver, remainingSeconds int64)
	SendShiftExpired(ctx context.Context, driver *models.Driver, renewed bool)
}

// PresenceUpdater mirrors shift status changes into the presence map
type PresenceUpdater interface {
	SetStatus(driverID string, status models.DriverStatus)
}

// ServiceInterface defines the shift operations used by the HTTP handler
// and the realtime gateway
type ServiceInterface interface {
	Start(ctx context.Context, driverID string) (*models.ShiftState, error)
	Stop(ctx context.Context, driverID string) (*models.ShiftState, error)
	Pause(ctx context.Context, driverID string) (*models.ShiftState, error)
	Resume(ctx context.Context, driverID string) (*models.ShiftState, error)
	Extend(ctx context.Context, driverID string, additionalHours int) (*models.ShiftState, error)
	AddHalfTime(ctx context.Context, driverID string) (*models.ShiftState, error)
	AddFullTime(ctx context.Context, driverID string) (*models.ShiftState, error)
	Status(ctx context.Context, driverID string) (*models.ShiftState, error)
}
