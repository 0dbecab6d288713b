package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sha1n/order-index/internal/domain"
	"github.com/sha1n/order-index/internal/events"
	"github.com/sha1n/order-index/internal/lock"
	"github.com/sha1n/order-index/internal/projection"
	"github.com/sha1n/order-index/internal/searchindex"
	"github.com/sha1n/order-index/internal/storage/sqlite"
)

type harness struct {
	store      *sqlite.Store
	dispatcher *events.Dispatcher
	faulty     *searchindex.FaultyClient
	projector  *projection.Projector
	reconciler *Reconciler
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	client, err := searchindex.NewBleveClient("", time.Second, projection.IndexMappings(projection.DefaultIndexName))
	if err != nil {
		t.Fatalf("NewBleveClient failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	d := events.NewDispatcher(nil, 8)
	t.Cleanup(d.Close)

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "orders.db"), sqlite.WithPublisher(d))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	faulty := searchindex.NewFaultyClient(client)
	p := projection.NewProjector(faulty, projection.DefaultIndexName, store, nil)
	if err := p.Register(d); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	opts = append([]Option{WithSerializer(d)}, opts...)
	return &harness{
		store:      store,
		dispatcher: d,
		faulty:     faulty,
		projector:  p,
		reconciler: NewReconciler(store, store, p, opts...),
	}
}

var sampleItems = []domain.ItemInput{
	{ProductID: "kb-1", ProductName: "Mechanical Keyboard", Price: 1000, Quantity: 2},
	{ProductID: "ms-1", ProductName: "Wireless Mouse", Price: 500, Quantity: 2},
}

func (h *harness) records(t *testing.T) []domain.ReconciliationRecord {
	t.Helper()
	recs, err := h.store.ListFailedOperations(context.Background())
	if err != nil {
		t.Fatalf("ListFailedOperations failed: %v", err)
	}
	return recs
}

func TestProcessFailedOperations_OutageThenRecovery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.faulty.SetDown(true)
	order, err := h.store.CreateOrder(ctx, "cust-1", sampleItems)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if order.Total != 3000 {
		t.Fatalf("Expected total 3000, got %v", order.Total)
	}
	h.dispatcher.Wait()

	// The same failure recurring before a sweep still leaves one record.
	h.projector.ProjectOrder(ctx, order)
	h.projector.ProjectOrder(ctx, order)

	recs := h.records(t)
	if len(recs) != 1 {
		t.Fatalf("Expected exactly one record, got %d", len(recs))
	}
	if recs[0].OperationKind != domain.OperationIndex || recs[0].EntityID != order.UUID {
		t.Errorf("Expected record (index, %s), got (%s, %s)", order.UUID, recs[0].OperationKind, recs[0].EntityID)
	}
	if recs[0].AttemptCount != 3 {
		t.Errorf("Expected attempt count 3, got %d", recs[0].AttemptCount)
	}

	h.faulty.SetDown(false)
	res, err := h.reconciler.ProcessFailedOperations(ctx)
	if err != nil {
		t.Fatalf("ProcessFailedOperations failed: %v", err)
	}
	if res != (SweepResult{Resolved: 1}) {
		t.Errorf("Expected one resolved record, got %+v", res)
	}
	if len(h.records(t)) != 0 {
		t.Errorf("Expected ledger to be empty, got %+v", h.records(t))
	}

	got, found, err := h.projector.FindOneByUUID(ctx, order.UUID)
	if err != nil || !found {
		t.Fatalf("Expected projected order, found=%v err=%v", found, err)
	}
	if got.UUID != order.UUID || got.Total != 3000 || len(got.Items) != 2 || !got.CreatedAt.Equal(order.CreatedAt) {
		t.Errorf("Expected document matching the order, got %+v", got)
	}

	again, err := h.reconciler.ProcessFailedOperations(ctx)
	if err != nil {
		t.Fatalf("Second sweep failed: %v", err)
	}
	if again.Resolved != 0 || again.Remaining != 0 {
		t.Errorf("Expected idempotent second sweep, got %+v", again)
	}
}

func TestProcessFailedOperations_FailedReplayKeepsRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.faulty.SetDown(true)
	order, _ := h.store.CreateOrder(ctx, "cust-1", sampleItems)
	h.dispatcher.Wait()

	res, err := h.reconciler.ProcessFailedOperations(ctx)
	if err != nil {
		t.Fatalf("ProcessFailedOperations failed: %v", err)
	}
	if res.Remaining != 1 || res.Resolved != 0 {
		t.Errorf("Expected the record to remain, got %+v", res)
	}

	recs := h.records(t)
	if len(recs) != 1 || recs[0].EntityID != order.UUID {
		t.Fatalf("Expected the record to be kept, got %+v", recs)
	}
	if recs[0].AttemptCount != 2 {
		t.Errorf("Expected attempt count 2 after failed replay, got %d", recs[0].AttemptCount)
	}
}

func TestProcessFailedOperations_ReplaysCurrentSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.faulty.SetDown(true)
	order, _ := h.store.CreateOrder(ctx, "cust-1", sampleItems)
	if _, err := h.store.UpdateStatus(ctx, order.UUID, domain.StatusProcessing); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	h.dispatcher.Wait()

	if n := len(h.records(t)); n != 2 {
		t.Fatalf("Expected index and update records, got %d", n)
	}

	h.faulty.SetDown(false)
	res, err := h.reconciler.ProcessFailedOperations(ctx)
	if err != nil {
		t.Fatalf("ProcessFailedOperations failed: %v", err)
	}
	if res.Resolved != 2 {
		t.Errorf("Expected 2 resolved, got %+v", res)
	}

	got, found, _ := h.projector.FindOneByUUID(ctx, order.UUID)
	if !found || got.Status != domain.StatusProcessing {
		t.Errorf("Expected the current PROCESSING snapshot, got found=%v status=%s", found, got.Status)
	}
}

func TestProcessFailedOperations_DeleteReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	order, _ := h.store.CreateOrder(ctx, "cust-1", sampleItems)
	h.dispatcher.Wait()

	h.faulty.SetDown(true)
	if _, err := h.store.DeleteOrder(ctx, order.UUID); err != nil {
		t.Fatalf("DeleteOrder failed: %v", err)
	}
	h.dispatcher.Wait()

	recs := h.records(t)
	if len(recs) != 1 || recs[0].OperationKind != domain.OperationDelete {
		t.Fatalf("Expected a delete record, got %+v", recs)
	}

	h.faulty.SetDown(false)
	if _, found, _ := h.projector.FindOneByUUID(ctx, order.UUID); !found {
		t.Fatal("Expected stale document before the sweep")
	}

	res, err := h.reconciler.ProcessFailedOperations(ctx)
	if err != nil {
		t.Fatalf("ProcessFailedOperations failed: %v", err)
	}
	if res.Resolved != 1 {
		t.Errorf("Expected delete replay to resolve, got %+v", res)
	}
	if _, found, _ := h.projector.FindOneByUUID(ctx, order.UUID); found {
		t.Error("Expected document to be removed by the sweep")
	}
}

func TestProcessFailedOperations_DropsRecordForMissingOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.store.RecordFailedOperation(ctx, domain.OperationUpdate, "gone-order", "timeout"); err != nil {
		t.Fatalf("RecordFailedOperation failed: %v", err)
	}

	res, err := h.reconciler.ProcessFailedOperations(ctx)
	if err != nil {
		t.Fatalf("ProcessFailedOperations failed: %v", err)
	}
	if res != (SweepResult{Dropped: 1}) {
		t.Errorf("Expected one dropped record, got %+v", res)
	}
	if len(h.records(t)) != 0 {
		t.Error("Expected the record to be dropped")
	}
}

func TestProcessFailedOperations_SkipsWhenLockHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconcile.lock")
	holder := lock.New(path)
	if ok, err := holder.TryLock(); err != nil || !ok {
		t.Fatalf("Expected to hold the lock, got %v (err %v)", ok, err)
	}
	defer func() { _ = holder.Unlock() }()

	h := newHarness(t, WithLocker(lock.New(path)))
	ctx := context.Background()
	_ = h.store.RecordFailedOperation(ctx, domain.OperationUpdate, "gone-order", "timeout")

	res, err := h.reconciler.ProcessFailedOperations(ctx)
	if err != nil {
		t.Fatalf("ProcessFailedOperations failed: %v", err)
	}
	if !res.Skipped {
		t.Errorf("Expected skipped sweep, got %+v", res)
	}
	if len(h.records(t)) != 1 {
		t.Error("Expected the record to be untouched")
	}

	_ = holder.Unlock()
	res, err = h.reconciler.ProcessFailedOperations(ctx)
	if err != nil || res.Skipped || res.Dropped != 1 {
		t.Errorf("Expected sweep to run once the lock is free, got %+v (err %v)", res, err)
	}
}

type blockingLedger struct {
	release   chan struct{}
	entered   chan struct{}
	listCalls atomic.Int32
}

func (l *blockingLedger) RecordFailedOperation(context.Context, domain.OperationKind, string, string) error {
	return nil
}

func (l *blockingLedger) ListFailedOperations(context.Context) ([]domain.ReconciliationRecord, error) {
	if l.listCalls.Add(1) == 1 {
		close(l.entered)
	}
	<-l.release
	return []domain.ReconciliationRecord{{OperationKind: domain.OperationDelete, EntityID: "o-1"}}, nil
}

func (l *blockingLedger) DeleteFailedOperation(context.Context, domain.OperationKind, string) error {
	return nil
}

type countingProjection struct {
	deletes atomic.Int32
}

func (p *countingProjection) Upsert(context.Context, domain.Order) error { return nil }

func (p *countingProjection) Delete(context.Context, string) error {
	p.deletes.Add(1)
	return nil
}

func TestProcessFailedOperations_ConcurrentCallsCoalesce(t *testing.T) {
	ledger := &blockingLedger{release: make(chan struct{}), entered: make(chan struct{})}
	proj := &countingProjection{}
	r := NewReconciler(ledger, nil, proj)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]SweepResult, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = r.ProcessFailedOperations(context.Background())
	}()
	<-ledger.entered

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = r.ProcessFailedOperations(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(ledger.release)
	wg.Wait()

	if n := ledger.listCalls.Load(); n != 1 {
		t.Errorf("Expected one sweep, got %d", n)
	}
	if n := proj.deletes.Load(); n != 1 {
		t.Errorf("Expected each record replayed once, got %d", n)
	}
	for i, res := range results {
		if res.Resolved != 1 {
			t.Errorf("Caller %d: expected shared result with 1 resolved, got %+v", i, res)
		}
	}
}

func TestProcessFailedOperations_WaiterHonorsOwnContext(t *testing.T) {
	ledger := &blockingLedger{release: make(chan struct{}), entered: make(chan struct{})}
	r := NewReconciler(ledger, nil, &countingProjection{})
	defer close(ledger.release)

	go func() { _, _ = r.ProcessFailedOperations(context.Background()) }()
	<-ledger.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.ProcessFailedOperations(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected waiter to time out on its own context, got %v", err)
	}
}

type failingLocker struct{}

func (failingLocker) TryLock() (bool, error) { return false, errors.New("disk gone") }
func (failingLocker) Unlock() error          { return nil }

func TestProcessFailedOperations_LockError(t *testing.T) {
	r := NewReconciler(&blockingLedger{}, nil, &countingProjection{}, WithLocker(failingLocker{}))
	if _, err := r.ProcessFailedOperations(context.Background()); err == nil {
		t.Error("Expected lock error to surface")
	}
}

func TestProcessFailedOperations_SharedSweepOutlivesFirstCaller(t *testing.T) {
	ledger := &blockingLedger{release: make(chan struct{}), entered: make(chan struct{})}
	proj := &countingProjection{}
	r := NewReconciler(ledger, nil, proj)
	defer r.Close()

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.ProcessFailedOperations(first)
		firstErr <- err
	}()
	<-ledger.entered

	type outcome struct {
		res SweepResult
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := r.ProcessFailedOperations(context.Background())
		second <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected the first caller to stop on its own cancel, got %v", err)
	}
	close(ledger.release)

	got := <-second
	if got.err != nil {
		t.Fatalf("Expected the shared sweep to finish, got %v", got.err)
	}
	if got.res.Resolved != 1 || got.res.Remaining != 0 {
		t.Errorf("Expected 1 resolved and 0 remaining, got %+v", got.res)
	}
	if n := proj.deletes.Load(); n != 1 {
		t.Errorf("Expected the record to be replayed once, got %d", n)
	}
}

func TestReconciler_CloseAbortsRunningSweep(t *testing.T) {
	ledger := &blockingLedger{release: make(chan struct{}), entered: make(chan struct{})}
	proj := &countingProjection{}
	r := NewReconciler(ledger, nil, proj)

	done := make(chan error, 1)
	go func() {
		_, err := r.ProcessFailedOperations(context.Background())
		done <- err
	}()
	<-ledger.entered

	closed := make(chan struct{})
	go func() {
		r.Close()
		close(closed)
	}()
	time.Sleep(20 * time.Millisecond)
	close(ledger.release)

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected the sweep to be canceled, got %v", err)
	}
	<-closed
	if n := proj.deletes.Load(); n != 0 {
		t.Errorf("Expected no replays after Close, got %d", n)
	}

	if _, err := r.ProcessFailedOperations(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

func TestProcessFailedOperations_SweepTimeout(t *testing.T) {
	ledger := &blockingLedger{release: make(chan struct{}), entered: make(chan struct{})}
	r := NewReconciler(ledger, nil, &countingProjection{}, WithSweepTimeout(20*time.Millisecond))
	defer r.Close()

	go func() {
		<-ledger.entered
		time.Sleep(50 * time.Millisecond)
		close(ledger.release)
	}()

	res, err := r.ProcessFailedOperations(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected the sweep deadline to end it, got %v", err)
	}
	if res != (SweepResult{}) {
		t.Errorf("Expected an empty result on error, got %+v", res)
	}
}
