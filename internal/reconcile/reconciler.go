// Package reconcile drains the reconciliation ledger by replaying failed
// projections against the current state of the primary store.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sha1n/order-index/internal/domain"
	"golang.org/x/sync/singleflight"
)

const (
	sweepKey = "sweep"

	// DefaultSweepTimeout bounds one sweep.
	DefaultSweepTimeout = 5 * time.Minute
)

// Ledger is the durable record of failed projections.
type Ledger interface {
	RecordFailedOperation(ctx context.Context, kind domain.OperationKind, entityID, message string) error
	ListFailedOperations(ctx context.Context) ([]domain.ReconciliationRecord, error)
	DeleteFailedOperation(ctx context.Context, kind domain.OperationKind, entityID string) error
}

// OrderSource loads the current snapshot of an order. A missing order is
// reported as an order_not_found error.
type OrderSource interface {
	GetOrder(ctx context.Context, id string) (domain.Order, error)
}

// Projection performs index writes that report their failures.
type Projection interface {
	Upsert(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, id string) error
}

// Serializer runs fn in the per-order lane shared with live event handlers.
type Serializer interface {
	Serialize(ctx context.Context, orderID string, fn func() error) error
}

// Locker excludes sweeps running in other processes.
type Locker interface {
	TryLock() (bool, error)
	Unlock() error
}

// SweepResult summarizes one pass over the ledger.
type SweepResult struct {
	Resolved  int  `json:"resolved"`
	Remaining int  `json:"remaining"`
	Dropped   int  `json:"dropped"`
	Skipped   bool `json:"skipped"`
}

// Reconciler replays ledger records. Concurrent ProcessFailedOperations calls
// share one in-flight sweep.
type Reconciler struct {
	ledger     Ledger
	orders     OrderSource
	projection Projection
	serializer Serializer
	locker     Locker
	logger     *slog.Logger
	group      singleflight.Group
	timeout    time.Duration
	stop       context.Context
	cancel     context.CancelFunc

	mu      sync.Mutex
	closed  bool
	running sync.WaitGroup
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithSerializer runs each replay in the given per-order lane.
func WithSerializer(s Serializer) Option {
	return func(r *Reconciler) { r.serializer = s }
}

// WithLocker guards each sweep with a cross-process lock.
func WithLocker(l Locker) Option {
	return func(r *Reconciler) { r.locker = l }
}

// WithSweepTimeout bounds each sweep. Non-positive values keep the default.
func WithSweepTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReconciler creates a reconciler.
func NewReconciler(ledger Ledger, orders OrderSource, projection Projection, opts ...Option) *Reconciler {
	r := &Reconciler{
		ledger:     ledger,
		orders:     orders,
		projection: projection,
		logger:     slog.Default(),
		timeout:    DefaultSweepTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.stop, r.cancel = context.WithCancel(context.Background())
	return r
}

// ErrClosed is returned by sweeps requested after Close.
var ErrClosed = errors.New("reconciler is closed")

// Close aborts any running sweep and waits for it to return. Later sweeps
// fail with ErrClosed.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.running.Wait()
}

func (r *Reconciler) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.running.Add(1)
	return true
}

// ProcessFailedOperations replays every outstanding record. A record whose
// replay succeeds is deleted; a failing one stays with its attempt count
// bumped; one whose order no longer exists is dropped. Calling it again with
// no new failures resolves nothing.
//
// A caller arriving while a sweep is running waits for that sweep and gets
// its result. The sweep itself is detached from every caller's cancellation;
// it ends on the sweep timeout or Close. When another process holds the
// sweep lock the result is Skipped.
func (r *Reconciler) ProcessFailedOperations(ctx context.Context) (SweepResult, error) {
	ch := r.group.DoChan(sweepKey, func() (any, error) {
		if !r.begin() {
			return SweepResult{}, ErrClosed
		}
		defer r.running.Done()

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		stop := context.AfterFunc(r.stop, cancel)
		defer stop()
		return r.sweep(sctx)
	})
	select {
	case res := <-ch:
		if res.Shared {
			r.logger.Debug("Joined in-flight reconciliation sweep")
		}
		if res.Err != nil {
			return SweepResult{}, res.Err
		}
		return res.Val.(SweepResult), nil
	case <-ctx.Done():
		return SweepResult{}, ctx.Err()
	}
}

func (r *Reconciler) sweep(ctx context.Context) (SweepResult, error) {
	if r.locker != nil {
		ok, err := r.locker.TryLock()
		if err != nil {
			return SweepResult{}, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			r.logger.Info("Reconciliation sweep skipped, another process holds the lock")
			return SweepResult{Skipped: true}, nil
		}
		defer func() {
			if err := r.locker.Unlock(); err != nil {
				r.logger.Warn("Failed to release sweep lock", "error", err)
			}
		}()
	}

	records, err := r.ledger.ListFailedOperations(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list failed operations: %w", err)
	}
	if len(records) == 0 {
		return SweepResult{}, nil
	}

	start := time.Now()
	var res SweepResult
	for i, rec := range records {
		if ctx.Err() != nil {
			res.Remaining += len(records) - i
			break
		}
		switch r.replayInLane(ctx, rec) {
		case outcomeResolved:
			res.Resolved++
		case outcomeDropped:
			res.Dropped++
		default:
			res.Remaining++
		}
	}

	r.logger.Info("Reconciliation sweep finished",
		"resolved", res.Resolved,
		"remaining", res.Remaining,
		"dropped", res.Dropped,
		"duration", time.Since(start))
	return res, ctx.Err()
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeResolved
	outcomeDropped
)

func (r *Reconciler) replayInLane(ctx context.Context, rec domain.ReconciliationRecord) outcome {
	result := outcomeFailed
	run := func() error {
		result = r.replay(ctx, rec)
		return nil
	}
	if r.serializer == nil {
		_ = run()
		return result
	}
	if err := r.serializer.Serialize(ctx, rec.EntityID, run); err != nil {
		r.logger.Warn("Replay could not be scheduled",
			"operation", rec.OperationKind, "order_id", rec.EntityID, "error", err)
		return outcomeFailed
	}
	return result
}

// replay re-runs one operation and settles its ledger record. It runs inside
// the order's lane so the record update cannot race a live event.
func (r *Reconciler) replay(ctx context.Context, rec domain.ReconciliationRecord) outcome {
	log := r.logger.With("operation", rec.OperationKind, "order_id", rec.EntityID, "attempts", rec.AttemptCount)

	err := r.execute(ctx, rec)
	switch {
	case err == nil:
		if derr := r.ledger.DeleteFailedOperation(ctx, rec.OperationKind, rec.EntityID); derr != nil {
			log.Error("Replay succeeded but the record could not be cleared", "error", derr)
			return outcomeFailed
		}
		log.Info("Replay succeeded, record resolved")
		return outcomeResolved

	case domain.IsKind(err, domain.KindReplayNotFound), domain.IsKind(err, domain.KindValidation):
		if derr := r.ledger.DeleteFailedOperation(ctx, rec.OperationKind, rec.EntityID); derr != nil {
			log.Error("Failed to drop unreplayable record", "error", derr)
			return outcomeFailed
		}
		log.Warn("Record dropped", "error_kind", domain.KindOf(err), "error", err)
		return outcomeDropped

	default:
		if rerr := r.ledger.RecordFailedOperation(ctx, rec.OperationKind, rec.EntityID, err.Error()); rerr != nil {
			log.Error("Failed to update record after failed replay", "error", rerr)
		}
		log.Warn("Replay failed, record kept", "error_kind", domain.KindOf(err), "error", err)
		return outcomeFailed
	}
}

func (r *Reconciler) execute(ctx context.Context, rec domain.ReconciliationRecord) error {
	switch rec.OperationKind {
	case domain.OperationDelete:
		return r.projection.Delete(ctx, rec.EntityID)

	case domain.OperationIndex, domain.OperationUpdate:
		order, err := r.orders.GetOrder(ctx, rec.EntityID)
		if domain.IsKind(err, domain.KindOrderNotFound) {
			return domain.NewReplayNotFoundError(rec.OperationKind, rec.EntityID, err)
		}
		if err != nil {
			return fmt.Errorf("load order %s: %w", rec.EntityID, err)
		}
		return r.projection.Upsert(ctx, order)

	default:
		return domain.NewValidationError(
			fmt.Sprintf("unknown operation kind %q", rec.OperationKind),
			map[string]any{"entity_id": rec.EntityID},
		)
	}
}
