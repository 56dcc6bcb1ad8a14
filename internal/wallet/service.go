package wallet

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v83"
	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/internal/realtime"
	"github.com/ridepulse/dispatch/pkg/cache"
	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/eventbus"
	"github.com/ridepulse/dispatch/pkg/logger"
	"github.com/ridepulse/dispatch/pkg/metrics"
	"github.com/ridepulse/dispatch/pkg/models"
	"github.com/ridepulse/dispatch/pkg/tracing"
)

const (
	idemTTL     = 90 * time.Second
	idemPending = "pending"

	topUpCurrency = "inr"
)

// Ledger is the single mutation point for both wallets. Every committed
// mutation writes exactly one ledger row whose balance_after equals the
// post-commit wallet.
type Ledger struct {
	repo    RepositoryInterface
	cache   *cache.Manager
	emitter Emitter
	bus     *eventbus.Bus
	stripe  StripeProvider
}

// NewLedger creates a new wallet ledger
func NewLedger(repo RepositoryInterface, cacheMgr *cache.Manager, emitter Emitter, bus *eventbus.Bus, stripeClient StripeProvider) *Ledger {
	return &Ledger{repo: repo, cache: cacheMgr, emitter: emitter, bus: bus, stripe: stripeClient}
}

// --- Driver ledger ---

// DebitDriver debits a driver wallet in its own transaction. Duplicate
// submissions within the idempotency window replay the committed
// transaction instead of charging twice.
func (l *Ledger) DebitDriver(ctx context.Context, op DriverOp) (*models.Transaction, error) {
	return l.driverOp(ctx, op, models.TransactionDebit)
}

// CreditDriver credits a driver wallet in its own transaction.
func (l *Ledger) CreditDriver(ctx context.Context, op DriverOp) (*models.Transaction, error) {
	return l.driverOp(ctx, op, models.TransactionCredit)
}

func (l *Ledger) driverOp(ctx context.Context, op DriverOp, direction models.TransactionType) (*models.Transaction, error) {
	ctx, span := tracing.StartSpan(ctx, "wallet-ledger", "DriverOp")
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.WalletAttributes(op.DriverID, op.Method, op.Amount)...)

	if err := op.validate(); err != nil {
		return nil, common.NewValidationError(err.Error())
	}

	key, cached, err := l.claim(ctx, op.DriverID, op.Method, op.ref())
	if err != nil {
		return nil, err
	}
	if cached != "" {
		var prev models.Transaction
		if jsonErr := l.cache.Get(ctx, key, &prev); jsonErr == nil && prev.ID != uuid.Nil {
			logger.InfoContext(ctx, "wallet mutation replayed",
				zap.String("driver_id", op.DriverID),
				zap.String("method", op.Method),
			)
			return &prev, nil
		}
		return nil, common.NewConflictError(common.CodeConflict, "wallet operation already in progress")
	}

	var txn *models.Transaction
	if direction == models.TransactionDebit {
		txn, err = l.repo.DebitDriver(ctx, op.DriverID, op.Amount, op.Method, op.Description, op.RideID)
	} else {
		txn, err = l.repo.CreditDriver(ctx, op.DriverID, op.Amount, op.Method, op.Description, op.RideID)
	}
	if err != nil {
		l.release(ctx, key)
		tracing.RecordError(ctx, err)
		return nil, mapLedgerError(err, "driver not found")
	}

	l.finish(ctx, key, txn)
	l.Announce(txn)
	return txn, nil
}

// ApplyDriverDebit applies a debit inside the caller's transaction. The
// caller owns duplicate protection and must call Announce after commit.
func (l *Ledger) ApplyDriverDebit(ctx context.Context, tx pgx.Tx, op DriverOp) (*models.Transaction, error) {
	if err := op.validate(); err != nil {
		return nil, common.NewValidationError(err.Error())
	}
	return l.repo.ApplyDriverMutation(ctx, tx, op.DriverID, op.Amount, models.TransactionDebit, op.Method, op.Description, op.RideID)
}

// Announce publishes a committed driver transaction to the driver's
// realtime room and the event bus, and counts it. Callers of
// ApplyDriverDebit invoke this after their transaction commits.
func (l *Ledger) Announce(txn *models.Transaction) {
	metrics.WalletTransactions.WithLabelValues(txn.Method, string(txn.Type)).Inc()

	if l.emitter != nil {
		l.emitter.ToDriver(txn.DriverID, realtime.EventWalletUpdate, map[string]interface{}{
			"driverId":    txn.DriverID,
			"balance":     txn.BalanceAfter,
			"amount":      txn.Amount,
			"type":        string(txn.Type),
			"method":      txn.Method,
			"description": txn.Description,
		})
	}

	l.publish(txn.Type, txn.DriverID, "driver", txn.Amount, txn.BalanceAfter, txn.Method, txn.CreatedAt)
}

// --- Passenger ledger ---

// DebitUser debits a passenger wallet in its own transaction.
func (l *Ledger) DebitUser(ctx context.Context, op UserOp) (*models.UserTransaction, error) {
	return l.userOp(ctx, op, models.TransactionDebit)
}

// CreditUser credits a passenger wallet in its own transaction.
func (l *Ledger) CreditUser(ctx context.Context, op UserOp) (*models.UserTransaction, error) {
	return l.userOp(ctx, op, models.TransactionCredit)
}

func (l *Ledger) userOp(ctx context.Context, op UserOp, direction models.TransactionType) (*models.UserTransaction, error) {
	ctx, span := tracing.StartSpan(ctx, "wallet-ledger", "UserOp")
	defer span.End()

	if err := op.validate(); err != nil {
		return nil, common.NewValidationError(err.Error())
	}

	key, cached, err := l.claim(ctx, op.UserID.String(), op.Method, op.ref())
	if err != nil {
		return nil, err
	}
	if cached != "" {
		var prev models.UserTransaction
		if jsonErr := l.cache.Get(ctx, key, &prev); jsonErr == nil && prev.ID != uuid.Nil {
			logger.InfoContext(ctx, "user wallet mutation replayed",
				zap.String("user_id", op.UserID.String()),
				zap.String("method", op.Method),
			)
			return &prev, nil
		}
		return nil, common.NewConflictError(common.CodeConflict, "wallet operation already in progress")
	}

	var txn *models.UserTransaction
	if direction == models.TransactionDebit {
		txn, err = l.repo.DebitUser(ctx, op.UserID, op.Amount, op.Method, op.Description, op.RideID)
	} else {
		txn, err = l.repo.CreditUser(ctx, op.UserID, op.Amount, op.Method, op.Description, op.RideID)
	}
	if err != nil {
		l.release(ctx, key)
		tracing.RecordError(ctx, err)
		return nil, mapLedgerError(err, "user not found")
	}

	l.finish(ctx, key, txn)
	l.announceUser(txn)
	return txn, nil
}

func (l *Ledger) announceUser(txn *models.UserTransaction) {
	metrics.WalletTransactions.WithLabelValues(txn.Method, string(txn.Type)).Inc()

	if l.emitter != nil {
		l.emitter.ToUser(txn.UserID.String(), realtime.EventWalletUpdate, map[string]interface{}{
			"userId":      txn.UserID.String(),
			"balance":     txn.BalanceAfter,
			"amount":      txn.Amount,
			"type":        string(txn.Type),
			"method":      txn.Method,
			"description": txn.Description,
		})
	}

	l.publish(txn.Type, txn.UserID.String(), "user", txn.Amount, txn.BalanceAfter, txn.Method, txn.CreatedAt)
}

// --- REST operations ---

// DirectAdjust applies an admin credit or debit to a driver wallet.
func (l *Ledger) DirectAdjust(ctx context.Context, driverID string, req *DirectWalletRequest) (*models.Transaction, error) {
	op := DriverOp{
		DriverID:    driverID,
		Amount:      req.Amount,
		Method:      req.Method,
		Description: req.Description,
	}

	switch req.Type {
	case string(models.TransactionCredit):
		if op.Method == "" {
			op.Method = models.MethodAdminCredit
		}
		return l.CreditDriver(ctx, op)
	case string(models.TransactionDebit):
		if op.Method == "" {
			op.Method = models.MethodAdminDebit
		}
		return l.DebitDriver(ctx, op)
	default:
		return nil, common.NewValidationError("type must be credit or debit")
	}
}

// DriverTransactions returns a page of a driver's ledger history.
func (l *Ledger) DriverTransactions(ctx context.Context, driverID string, limit, offset int) ([]*models.Transaction, int64, error) {
	if _, err := l.repo.GetDriverBalance(ctx, driverID); err != nil {
		return nil, 0, mapLedgerError(err, "driver not found")
	}

	txns, total, err := l.repo.ListDriverTransactions(ctx, driverID, limit, offset)
	if err != nil {
		return nil, 0, mapLedgerError(err, "driver not found")
	}
	return txns, total, nil
}

// UserBalance returns a passenger's wallet balance.
func (l *Ledger) UserBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	balance, err := l.repo.GetUserBalance(ctx, userID)
	if err != nil {
		return 0, mapLedgerError(err, "user not found")
	}
	return balance, nil
}

// AddMoney tops up the passenger wallet. With Stripe configured the first
// call creates a payment intent; the follow-up call carrying the
// succeeded intent's ID commits the credit. Without Stripe the amount is
// credited directly.
func (l *Ledger) AddMoney(ctx context.Context, userID uuid.UUID, req *TopUpRequest) (*TopUpResult, error) {
	ctx, span := tracing.StartSpan(ctx, "wallet-ledger", "AddMoney")
	defer span.End()

	if l.stripe != nil && l.stripe.Enabled() {
		if req.PaymentIntentID == "" {
			if req.Amount <= 0 {
				return nil, common.NewValidationError("amount must be positive")
			}
			pi, err := l.stripe.CreatePaymentIntent(req.Amount*100, topUpCurrency, "wallet top-up", map[string]string{
				"user_id": userID.String(),
			})
			if err != nil {
				tracing.RecordError(ctx, err)
				return nil, common.NewAppError(http.StatusBadGateway, common.CodeExternalUnavailable, "payment provider unavailable", err)
			}
			return &TopUpResult{Intent: &TopUpIntent{
				PaymentIntentID: pi.ID,
				ClientSecret:    pi.ClientSecret,
				RequiresAction:  true,
			}}, nil
		}

		pi, err := l.stripe.GetPaymentIntent(req.PaymentIntentID)
		if err != nil {
			tracing.RecordError(ctx, err)
			return nil, common.NewAppError(http.StatusBadGateway, common.CodeExternalUnavailable, "payment provider unavailable", err)
		}
		if pi.Status != stripe.PaymentIntentStatusSucceeded {
			return nil, common.NewUnprocessableError(common.CodeDomainRule, "payment not completed")
		}
		if pi.Metadata["user_id"] != userID.String() {
			return nil, common.NewForbiddenError("payment intent belongs to another user")
		}

		txn, err := l.CreditUser(ctx, UserOp{
			UserID:      userID,
			Amount:      pi.Amount / 100,
			Method:      models.MethodWalletTopUp,
			Description: "wallet top-up",
			Ref:         pi.ID,
		})
		if err != nil {
			return nil, err
		}
		return &TopUpResult{Transaction: txn}, nil
	}

	// No payment provider configured: credit directly.
	if req.Amount <= 0 {
		return nil, common.NewValidationError("amount must be positive")
	}
	txn, err := l.CreditUser(ctx, UserOp{
		UserID:      userID,
		Amount:      req.Amount,
		Method:      models.MethodWalletTopUp,
		Description: "wallet top-up",
	})
	if err != nil {
		return nil, err
	}
	return &TopUpResult{Transaction: txn}, nil
}

// Payment debits the passenger wallet for a ride payment.
func (l *Ledger) Payment(ctx context.Context, userID uuid.UUID, req *PaymentRequest) (*models.UserTransaction, error) {
	description := req.Description
	if description == "" {
		description = "ride payment"
	}
	return l.DebitUser(ctx, UserOp{
		UserID:      userID,
		Amount:      req.Amount,
		Method:      models.MethodRidePayment,
		Description: description,
		RideID:      req.RideID,
	})
}

// Withdraw debits the passenger wallet back out.
func (l *Ledger) Withdraw(ctx context.Context, userID uuid.UUID, req *WithdrawRequest) (*models.UserTransaction, error) {
	return l.DebitUser(ctx, UserOp{
		UserID:      userID,
		Amount:      req.Amount,
		Method:      models.MethodWalletWithdrawal,
		Description: "wallet withdrawal",
	})
}

// CreditRide credits the passenger wallet with the final fare of a
// completed driver-transfer ride, at most once per ride.
func (l *Ledger) CreditRide(ctx context.Context, userID uuid.UUID, req *CreditRideRequest) (*models.UserTransaction, error) {
	ctx, span := tracing.StartSpan(ctx, "wallet-ledger", "CreditRide")
	defer span.End()

	ride, err := l.repo.GetRideForCredit(ctx, req.RideID)
	if err != nil {
		return nil, mapLedgerError(err, "ride not found")
	}
	if ride.UserID != userID {
		return nil, common.NewForbiddenError("ride belongs to another user")
	}
	if ride.Status != models.RideStatusCompleted {
		return nil, common.NewUnprocessableError(common.CodeDomainRule, "ride is not completed")
	}
	if ride.PaymentMethod != models.PaymentMethodDriverTransfer {
		return nil, common.NewUnprocessableError(common.CodeDomainRule, "ride was not paid by driver transfer")
	}

	txn, err := l.repo.CreditUserRideOnce(ctx, userID, ride.ID, ride.FinalFare(), "ride fare credit")
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, mapLedgerError(err, "ride not found")
	}

	l.announceUser(txn)
	return txn, nil
}

// --- Idempotency plumbing ---

// claim claims the idempotency key for this minute's (subject, method,
// ref) tuple. Returns the key when this call owns it, or the key with
// cached set when a previous call holds it. Redis being down disables the
// guard rather than blocking mutations.
func (l *Ledger) claim(ctx context.Context, subjectID, method, ref string) (key string, cached string, err error) {
	if l.cache == nil {
		return "", "", nil
	}

	key = cache.Keys.WalletIdempotency(subjectID, method, ref, time.Now().Unix()/60)
	claimed, err := l.cache.SetNX(ctx, key, idemPending, idemTTL)
	if err != nil {
		logger.WarnContext(ctx, "idempotency claim unavailable", zap.Error(err))
		return "", "", nil
	}
	if claimed {
		return key, "", nil
	}
	return key, key, nil
}

func (l *Ledger) release(ctx context.Context, key string) {
	if l.cache == nil || key == "" {
		return
	}
	if err := l.cache.Delete(ctx, key); err != nil {
		logger.WarnContext(ctx, "failed to release idempotency claim", zap.Error(err))
	}
}

func (l *Ledger) finish(ctx context.Context, key string, txn interface{}) {
	if l.cache == nil || key == "" {
		return
	}
	if err := l.cache.Set(ctx, key, txn, idemTTL); err != nil {
		logger.WarnContext(ctx, "failed to store idempotency result", zap.Error(err))
	}
}

func (l *Ledger) publish(txType models.TransactionType, subjectID, subjectType string, amount, balanceAfter int64, method string, at time.Time) {
	var (
		subject string
		payload interface{}
	)
	if txType == models.TransactionCredit {
		subject = eventbus.SubjectWalletCredited
		payload = eventbus.WalletCreditedData{
			SubjectID:    subjectID,
			SubjectType:  subjectType,
			Amount:       amount,
			BalanceAfter: balanceAfter,
			Reason:       method,
			CreditedAt:   at,
		}
	} else {
		subject = eventbus.SubjectWalletDebited
		payload = eventbus.WalletDebitedData{
			SubjectID:    subjectID,
			SubjectType:  subjectType,
			Amount:       amount,
			BalanceAfter: balanceAfter,
			Reason:       method,
			DebitedAt:    at,
		}
	}

	event, err := eventbus.NewEvent(subject, "wallet", payload)
	if err != nil {
		logger.Warn("failed to encode wallet event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := l.bus.Publish(subject, event); err != nil {
		logger.Warn("failed to publish wallet event", zap.Error(err))
	}
}

func mapLedgerError(err error, notFoundMessage string) error {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return common.NewUnprocessableError(common.CodeInsufficientBalance, "insufficient wallet balance")
	case errors.Is(err, ErrAlreadyCredited):
		return common.NewConflictError(common.CodeConflict, "ride already credited")
	case errors.Is(err, pgx.ErrNoRows):
		return common.NewNotFoundError(notFoundMessage, err)
	default:
		return common.NewServiceUnavailableError("wallet store unavailable", err)
	}
}
