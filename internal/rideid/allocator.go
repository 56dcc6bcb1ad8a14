// Package rideid allocates human-readable ride identifiers of the form
// RIDnnnnnn from a durable sequence counter.
package rideid

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/pkg/logger"
	"github.com/ridepulse/dispatch/pkg/metrics"
)

const (
	counterName = "raidId"
	sequenceMin = 100000
	sequenceMax = 999999
)

// Allocator hands out sequential raid ids. When the counter store is
// unreachable it falls back to a timestamp-derived id; the rides table
// uniqueness constraint catches the rare collision and the caller retries.
type Allocator struct {
	db *pgxpool.Pool
}

// NewAllocator creates an allocator backed by the sequence_counters table.
func NewAllocator(db *pgxpool.Pool) *Allocator {
	return &Allocator{db: db}
}

// Next returns the next raid id. The increment and wrap happen in a single
// statement so concurrent bookings never observe the same sequence value.
func (a *Allocator) Next(ctx context.Context) string {
	seq, err := a.nextSequence(ctx)
	if err != nil {
		metrics.RaidIDFallbacks.Inc()
		id := fallbackID(time.Now())
		logger.WarnContext(ctx, "sequence counter unavailable, using fallback raid id",
			zap.String("raid_id", id),
			zap.Error(err),
		)
		return id
	}
	return Format(seq)
}

func (a *Allocator) nextSequence(ctx context.Context) (int64, error) {
	query := `
		INSERT INTO sequence_counters (id, sequence)
		VALUES ($1, 1)
		ON CONFLICT (id) DO UPDATE
		SET sequence = CASE
			WHEN sequence_counters.sequence >= $2 THEN $3
			ELSE sequence_counters.sequence + 1
		END
		RETURNING sequence
	`

	var seq int64
	err := a.db.QueryRow(ctx, query, counterName, int64(sequenceMax), int64(sequenceMin)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to advance ride sequence: %w", err)
	}
	return seq, nil
}

// Format renders a sequence value as a raid id.
func Format(seq int64) string {
	return fmt.Sprintf("RID%06d", seq)
}

// fallbackID derives an id from the clock: the last six digits of the
// unix-millisecond timestamp plus three random digits.
func fallbackID(now time.Time) string {
	millis := now.UnixMilli() % 1000000
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	var suffix int64
	if err == nil {
		suffix = n.Int64()
	}
	return fmt.Sprintf("RID%06d%03d", millis, suffix)
}
