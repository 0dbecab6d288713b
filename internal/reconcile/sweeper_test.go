package reconcile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sha1n/order-index/internal/domain"
)

type countingLedger struct {
	lists atomic.Int32
}

func (l *countingLedger) RecordFailedOperation(context.Context, domain.OperationKind, string, string) error {
	return nil
}

func (l *countingLedger) ListFailedOperations(context.Context) ([]domain.ReconciliationRecord, error) {
	l.lists.Add(1)
	return nil, nil
}

func (l *countingLedger) DeleteFailedOperation(context.Context, domain.OperationKind, string) error {
	return nil
}

func TestSweeper_SweepsAtStartAndOnTick(t *testing.T) {
	ledger := &countingLedger{}
	s := NewSweeper(NewReconciler(ledger, nil, &countingProjection{}), 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(75 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected Run to return after cancel")
	}
	if n := ledger.lists.Load(); n < 2 {
		t.Errorf("Expected at least 2 sweeps, got %d", n)
	}
}

func TestSweeper_FirstSweepIsImmediate(t *testing.T) {
	ledger := &countingLedger{}
	s := NewSweeper(NewReconciler(ledger, nil, &countingProjection{}), time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for ledger.lists.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if ledger.lists.Load() != 1 {
		t.Errorf("Expected exactly one startup sweep, got %d", ledger.lists.Load())
	}
}

func TestNewSweeper_DefaultInterval(t *testing.T) {
	s := NewSweeper(nil, 0, nil)
	if s.interval != time.Minute {
		t.Errorf("Expected 1m default interval, got %v", s.interval)
	}
}
