package presence

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/pkg/logger"
	"github.com/ridepulse/dispatch/pkg/models"
)

// SamplerConfig configures the location-sample append pipeline.
type SamplerConfig struct {
	// FlushInterval is how often buffered samples are written out.
	FlushInterval time.Duration
	// MaxBatch triggers a flush when the buffer reaches this size.
	MaxBatch int
}

// DefaultSamplerConfig returns sensible defaults.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		FlushInterval: 2 * time.Second,
		MaxBatch:      200,
	}
}

// Sampler accumulates location samples and appends them to the store in
// COPY batches. Samples are an audit trail; a failed batch is dropped
// with a warning and never blocks the live path.
type Sampler struct {
	db  *sql.DB
	cfg SamplerConfig

	mu      sync.Mutex
	buf     []models.LocationSample
	kick    chan struct{}
	stopped bool
}

// NewSampler creates a sampler writing through the given connection.
func NewSampler(db *sql.DB, cfg SamplerConfig) *Sampler {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultSamplerConfig().FlushInterval
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultSamplerConfig().MaxBatch
	}
	return &Sampler{
		db:   db,
		cfg:  cfg,
		buf:  make([]models.LocationSample, 0, cfg.MaxBatch),
		kick: make(chan struct{}, 1),
	}
}

// Record buffers one sample. A full buffer nudges the flush loop instead
// of writing inline.
func (s *Sampler) Record(sample models.LocationSample) {
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = time.Now()
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.buf = append(s.buf, sample)
	full := len(s.buf) >= s.cfg.MaxBatch
	s.mu.Unlock()

	if full {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// Run flushes on the configured interval until ctx is cancelled, then
// drains whatever is still buffered.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.stopped = true
			s.mu.Unlock()
			s.flush(context.Background())
			return
		case <-ticker.C:
			s.flush(ctx)
		case <-s.kick:
			s.flush(ctx)
		}
	}
}

// Pending returns the number of buffered samples.
func (s *Sampler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *Sampler) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buf
	s.buf = make([]models.LocationSample, 0, s.cfg.MaxBatch)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := s.writeBatch(ctx, batch); err != nil {
		logger.Warn("location sample batch dropped",
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
		return
	}
	logger.Debug("location samples flushed", zap.Int("batch_size", len(batch)))
}

func (s *Sampler) writeBatch(ctx context.Context, batch []models.LocationSample) error {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := txn.PrepareContext(ctx, pq.CopyIn("location_samples",
		"subject_id", "kind", "latitude", "longitude", "status", "ride_id", "recorded_at"))
	if err != nil {
		_ = txn.Rollback()
		return err
	}

	for _, sample := range batch {
		var rideID interface{}
		if sample.RideID != nil {
			rideID = sample.RideID.String()
		}
		if _, err := stmt.ExecContext(ctx,
			sample.SubjectID, string(sample.Kind), sample.Latitude, sample.Longitude,
			sample.Status, rideID, sample.RecordedAt,
		); err != nil {
			_ = stmt.Close()
			_ = txn.Rollback()
			return err
		}
	}

	// The empty Exec ships the COPY buffer.
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		_ = txn.Rollback()
		return err
	}
	if err := stmt.Close(); err != nil {
		_ = txn.Rollback()
		return err
	}
	return txn.Commit()
}
