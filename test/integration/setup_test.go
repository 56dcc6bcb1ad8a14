//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/internal/dispatch"
	"github.com/ridepulse/dispatch/internal/notifications"
	"github.com/ridepulse/dispatch/internal/presence"
	"github.com/ridepulse/dispatch/internal/pricing"
	"github.com/ridepulse/dispatch/internal/realtime"
	"github.com/ridepulse/dispatch/internal/rideid"
	"github.com/ridepulse/dispatch/internal/rides"
	"github.com/ridepulse/dispatch/internal/wallet"
	"github.com/ridepulse/dispatch/internal/workinghours"
	ws "github.com/ridepulse/dispatch/pkg/websocket"
	"github.com/ridepulse/dispatch/test/helpers"
)

// world wires the dispatch graph against the test database. The geo
// index, push sender, payment provider and NATS bus are left out; every
// flow under test runs on Postgres and the in-memory hub alone.
type world struct {
	pool     *pgxpool.Pool
	hub      *ws.Hub
	registry *presence.Registry
	presence *presence.Service
	ledger   *wallet.Ledger
	shifts   *workinghours.Service
	engine   *dispatch.Engine
	rides    *rides.Service
}

func newWorld(t *testing.T) *world {
	t.Helper()

	pool := helpers.SetupTestDatabase(t)

	hub := ws.NewHub(zap.NewNop())
	go hub.Run()

	emitter := realtime.NewEmitter(hub)
	registry := presence.NewRegistry()
	priceCache := pricing.NewCache()
	pushless := notifications.NewDispatcher(nil, 0)

	presenceService := presence.NewService(
		registry, presence.NewUserTracker(), presence.NewRepository(pool), nil, emitter, nil, nil,
	)

	ledger := wallet.NewLedger(wallet.NewRepository(pool), nil, emitter, nil, nil)

	shifts := workinghours.NewService(
		workinghours.NewRepository(pool, ledger), ledger, emitter, pushless, presenceService, nil,
	)

	ridesRepo := rides.NewRepository(pool)
	engine := dispatch.NewEngine(
		ridesRepo, dispatch.NewRepository(pool), rideid.NewAllocator(pool), priceCache,
		emitter, pushless, presenceService, presenceService, nil,
	)

	ridesService := rides.NewService(ridesRepo, priceCache, ledger, emitter, engine.Active(), presenceService, nil)
	presenceService.SetRideReader(ridesService)

	return &world{
		pool:     pool,
		hub:      hub,
		registry: registry,
		presence: presenceService,
		ledger:   ledger,
		shifts:   shifts,
		engine:   engine,
		rides:    ridesService,
	}
}

type driverSeed struct {
	driverID       string
	vehicleType    string
	wallet         int64
	remaining      int64
	limit          int
	deduction      int64
	walletDeducted bool
}

func seedDriver(t *testing.T, pool *pgxpool.Pool, seed driverSeed) {
	t.Helper()

	if seed.limit == 0 {
		seed.limit = 12
	}
	query := `
		INSERT INTO drivers (
			id, driver_id, name, phone, vehicle_type, status, wallet,
			working_hours_limit, working_hours_deduction_amount,
			remaining_working_seconds, wallet_deducted
		)
		VALUES ($1, $2, $3, $4, $5, 'offline', $6, $7, $8, $9, $10)
	`
	_, err := pool.Exec(context.Background(), query,
		uuid.New(), seed.driverID, "Driver "+seed.driverID, "+91"+seed.driverID,
		seed.vehicleType, seed.wallet, seed.limit, seed.deduction,
		seed.remaining, seed.walletDeducted,
	)
	require.NoError(t, err, "seed driver %s", seed.driverID)
}

func driverWallet(t *testing.T, pool *pgxpool.Pool, driverID string) int64 {
	t.Helper()

	var balance int64
	err := pool.QueryRow(context.Background(),
		`SELECT wallet FROM drivers WHERE driver_id = $1`, driverID).Scan(&balance)
	require.NoError(t, err)
	return balance
}

type ledgerRow struct {
	amount int64
	method string
	txType string
}

func driverLedger(t *testing.T, pool *pgxpool.Pool, driverID string) []ledgerRow {
	t.Helper()

	rows, err := pool.Query(context.Background(),
		`SELECT amount, method, type FROM transactions WHERE driver_id = $1 ORDER BY created_at`, driverID)
	require.NoError(t, err)
	defer rows.Close()

	var out []ledgerRow
	for rows.Next() {
		var r ledgerRow
		require.NoError(t, rows.Scan(&r.amount, &r.method, &r.txType))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

func userIDOf(t *testing.T, pool *pgxpool.Pool, customerID string) string {
	t.Helper()

	var id uuid.UUID
	err := pool.QueryRow(context.Background(),
		`SELECT id FROM users WHERE customer_id = $1`, customerID).Scan(&id)
	require.NoError(t, err)
	return id.String()
}

// driverSocket registers an in-process hub client in the driver's identity
// and fleet rooms, mirroring what the gateway does on registerDriver.
func (w *world) driverSocket(t *testing.T, driverID, vehicleType string) *ws.Client {
	t.Helper()

	client := ws.NewClient(driverID, nil, w.hub, "driver", zap.NewNop())
	client.StageRoom(realtime.DriverRoom(driverID))
	client.StageRoom(realtime.FleetRoom(vehicleType))
	w.hub.Register <- client
	time.Sleep(10 * time.Millisecond)
	return client
}

func (w *world) passengerSocket(t *testing.T, userID string) *ws.Client {
	t.Helper()

	client := ws.NewClient(userID, nil, w.hub, "passenger", zap.NewNop())
	client.StageRoom(userID)
	w.hub.Register <- client
	time.Sleep(10 * time.Millisecond)
	return client
}

// receiveEvent reads frames until one of the wanted type arrives.
func receiveEvent(t *testing.T, client *ws.Client, event string) *ws.Message {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-client.Send:
			if msg.Type == event {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", event)
			return nil
		}
	}
}

// nextEvents reads exactly n frames in arrival order.
func nextEvents(t *testing.T, client *ws.Client, n int) []string {
	t.Helper()

	types := make([]string, 0, n)
	deadline := time.After(2 * time.Second)
	for len(types) < n {
		select {
		case msg := <-client.Send:
			types = append(types, msg.Type)
		case <-deadline:
			t.Fatalf("got %d of %d frames: %v", len(types), n, types)
		}
	}
	return types
}

func drainSocket(client *ws.Client) {
	for {
		select {
		case <-client.Send:
		default:
			return
		}
	}
}

func assertSilentSocket(t *testing.T, client *ws.Client) {
	t.Helper()

	select {
	case msg := <-client.Send:
		t.Fatalf("expected no frame, got %q", msg.Type)
	case <-time.After(100 * time.Millisecond):
	}
}
