package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/sha1n/order-index/internal/domain"
)

func TestRecordFailedOperation_OneRecordPerKey(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	store := openTempStore(t, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.RecordFailedOperation(ctx, domain.OperationIndex, "order-a", "index unavailable"); err != nil {
			t.Fatalf("RecordFailedOperation failed: %v", err)
		}
		clock.Advance(time.Minute)
	}
	if err := store.RecordFailedOperation(ctx, domain.OperationIndex, "order-a", "timeout"); err != nil {
		t.Fatalf("RecordFailedOperation failed: %v", err)
	}

	records, err := store.ListFailedOperations(ctx)
	if err != nil {
		t.Fatalf("ListFailedOperations failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.OperationKind != domain.OperationIndex || r.EntityID != "order-a" {
		t.Errorf("Unexpected key (%s, %s)", r.OperationKind, r.EntityID)
	}
	if r.AttemptCount != 4 {
		t.Errorf("Expected attempt count 4, got %d", r.AttemptCount)
	}
	if r.ErrorMessage != "timeout" {
		t.Errorf("Expected latest message, got %q", r.ErrorMessage)
	}
	wantFirst := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	if !r.FirstFailedAt.Equal(wantFirst) {
		t.Errorf("Expected first failure %v, got %v", wantFirst, r.FirstFailedAt)
	}
	if !r.LastFailedAt.Equal(wantFirst.Add(3 * time.Minute)) {
		t.Errorf("Expected last failure %v, got %v", wantFirst.Add(3*time.Minute), r.LastFailedAt)
	}
}

func TestRecordFailedOperation_KindsAreSeparate(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	_ = store.RecordFailedOperation(ctx, domain.OperationIndex, "order-a", "x")
	_ = store.RecordFailedOperation(ctx, domain.OperationUpdate, "order-a", "x")
	_ = store.RecordFailedOperation(ctx, domain.OperationDelete, "order-b", "x")

	n, err := store.CountFailedOperations(ctx)
	if err != nil {
		t.Fatalf("CountFailedOperations failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 records, got %d", n)
	}
}

func TestRecordFailedOperation_Validation(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if err := store.RecordFailedOperation(ctx, domain.OperationKind("reindex"), "order-a", "x"); err == nil {
		t.Error("Expected error for unknown kind")
	}
	if err := store.RecordFailedOperation(ctx, domain.OperationIndex, " ", "x"); err == nil {
		t.Error("Expected error for empty entity id")
	}
}

func TestListFailedOperations_OldestFirst(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	store := openTempStore(t, WithClock(clock.Now))
	ctx := context.Background()

	empty, err := store.ListFailedOperations(ctx)
	if err != nil {
		t.Fatalf("ListFailedOperations failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("Expected empty non-nil list, got %v", empty)
	}

	for _, id := range []string{"c", "a", "b"} {
		_ = store.RecordFailedOperation(ctx, domain.OperationUpdate, id, "x")
		clock.Advance(time.Second)
	}

	records, _ := store.ListFailedOperations(ctx)
	got := []string{}
	for _, r := range records {
		got = append(got, r.EntityID)
	}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected order %v, got %v", want, got)
			break
		}
	}
}

func TestDeleteFailedOperation(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	_ = store.RecordFailedOperation(ctx, domain.OperationIndex, "order-a", "x")
	_ = store.RecordFailedOperation(ctx, domain.OperationDelete, "order-a", "x")

	if err := store.DeleteFailedOperation(ctx, domain.OperationIndex, "order-a"); err != nil {
		t.Fatalf("DeleteFailedOperation failed: %v", err)
	}
	if err := store.DeleteFailedOperation(ctx, domain.OperationIndex, "order-a"); err != nil {
		t.Errorf("Expected deleting a missing record to succeed, got %v", err)
	}

	records, _ := store.ListFailedOperations(ctx)
	if len(records) != 1 || records[0].OperationKind != domain.OperationDelete {
		t.Errorf("Expected only the delete record to remain, got %+v", records)
	}

	_ = store.RecordFailedOperation(ctx, domain.OperationIndex, "order-a", "again")
	records, _ = store.ListFailedOperations(ctx)
	for _, r := range records {
		if r.OperationKind == domain.OperationIndex && r.AttemptCount != 1 {
			t.Errorf("Expected a fresh record after resolution, got attempt count %d", r.AttemptCount)
		}
	}
}
