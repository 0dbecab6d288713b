package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sha1n/order-index/internal/domain"
	"github.com/sha1n/order-index/internal/events"
)

type published struct {
	t     events.Type
	order domain.Order
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, t events.Type, order domain.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{t: t, order: order})
	return nil
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openTempStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "orders.db"), opts...)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return store
}

var sampleItems = []domain.ItemInput{
	{ProductID: "kb-1", ProductName: "Mechanical Keyboard", Price: 1000, Quantity: 2},
	{ProductID: "ms-1", ProductName: "Wireless Mouse", Price: 500, Quantity: 2},
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "orders.db")

	first, err := Open(path)
	if err != nil {
		t.Fatalf("First open failed: %v", err)
	}
	if _, err := first.CreateOrder(context.Background(), "cust-1", sampleItems); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	_ = first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer func() { _ = second.Close() }()

	ids, err := second.ListOrderIDs(context.Background())
	if err != nil {
		t.Fatalf("ListOrderIDs failed: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("Expected data to survive reopen, got %d orders", len(ids))
	}

	var applied int
	if err := second.db.QueryRow("SELECT COUNT(*) FROM " + migrationTable).Scan(&applied); err != nil {
		t.Fatalf("Count migrations failed: %v", err)
	}
	if applied != 2 {
		t.Errorf("Expected 2 applied migrations, got %d", applied)
	}
}

func TestExtractUp(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no markers", "CREATE TABLE a (x INT);", "CREATE TABLE a (x INT);"},
		{"up only", "-- +migrate Up\nCREATE TABLE a (x INT);", "\nCREATE TABLE a (x INT);"},
		{"up and down", "-- +migrate Up\nCREATE TABLE a (x INT);\n-- +migrate Down\nDROP TABLE a;", "\nCREATE TABLE a (x INT);\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractUp(tt.content); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCreateOrder_PersistsAndPublishesAfterCommit(t *testing.T) {
	pub := &recordingPublisher{}
	clock := &fakeClock{now: time.Date(2026, 3, 4, 5, 6, 7, 891234567, time.UTC)}
	store := openTempStore(t, WithPublisher(pub), WithClock(clock.Now))
	ctx := context.Background()

	order, err := store.CreateOrder(ctx, "cust-1", sampleItems)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if order.Total != 3000 {
		t.Errorf("Expected total 3000, got %v", order.Total)
	}
	if order.Status != domain.StatusPending {
		t.Errorf("Expected PENDING, got %s", order.Status)
	}
	if order.CreatedAt.Nanosecond()%int(time.Millisecond) != 0 {
		t.Errorf("Expected millisecond precision, got %v", order.CreatedAt)
	}

	got, err := store.GetOrder(ctx, order.UUID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Total != order.Total || !got.CreatedAt.Equal(order.CreatedAt) || len(got.Items) != 2 {
		t.Errorf("Expected stored order to match created, got %+v", got)
	}
	for i := range order.Items {
		if got.Items[i] != order.Items[i] {
			t.Errorf("Item %d: expected %+v, got %+v", i, order.Items[i], got.Items[i])
		}
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Expected stored order to be valid, got %v", err)
	}

	evts := pub.all()
	if len(evts) != 1 || evts[0].t != events.Created || evts[0].order.UUID != order.UUID {
		t.Errorf("Expected one created event, got %+v", evts)
	}
}

func TestCreateOrder_InvalidInputIsNotPersisted(t *testing.T) {
	pub := &recordingPublisher{}
	store := openTempStore(t, WithPublisher(pub))

	_, err := store.CreateOrder(context.Background(), "cust-1", nil)
	if !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
	ids, _ := store.ListOrderIDs(context.Background())
	if len(ids) != 0 {
		t.Errorf("Expected no orders, got %d", len(ids))
	}
	if len(pub.all()) != 0 {
		t.Errorf("Expected no events, got %d", len(pub.all()))
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	store := openTempStore(t)
	_, err := store.GetOrder(context.Background(), "missing")
	if !domain.IsKind(err, domain.KindOrderNotFound) {
		t.Errorf("Expected order_not_found, got %v", err)
	}
}

func TestUpdateStatus_Lifecycle(t *testing.T) {
	pub := &recordingPublisher{}
	clock := &fakeClock{now: time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)}
	store := openTempStore(t, WithPublisher(pub), WithClock(clock.Now))
	ctx := context.Background()

	order, err := store.CreateOrder(ctx, "cust-1", sampleItems)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	clock.Advance(time.Minute)
	updated, err := store.UpdateStatus(ctx, order.UUID, domain.StatusProcessing)
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if updated.Status != domain.StatusProcessing || !updated.UpdatedAt.After(order.UpdatedAt) {
		t.Errorf("Expected PROCESSING with newer updated_at, got %s at %v", updated.Status, updated.UpdatedAt)
	}

	_, err = store.UpdateStatus(ctx, order.UUID, domain.StatusDelivered)
	if !domain.IsKind(err, domain.KindInvalidTransition) {
		t.Errorf("Expected invalid transition, got %v", err)
	}

	_, err = store.UpdateStatus(ctx, order.UUID, domain.Status("LOST"))
	if !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("Expected validation error for unknown status, got %v", err)
	}

	canceled, err := store.CancelOrder(ctx, order.UUID)
	if err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	if canceled.Status != domain.StatusCanceled {
		t.Errorf("Expected CANCELED, got %s", canceled.Status)
	}

	stored, _ := store.GetOrder(ctx, order.UUID)
	if stored.Status != domain.StatusCanceled {
		t.Errorf("Expected stored status CANCELED, got %s", stored.Status)
	}

	var types []events.Type
	for _, e := range pub.all() {
		types = append(types, e.t)
	}
	want := []events.Type{events.Created, events.Updated, events.Canceled}
	if len(types) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}

func TestUpdateStatus_MissingOrder(t *testing.T) {
	store := openTempStore(t)
	_, err := store.UpdateStatus(context.Background(), "missing", domain.StatusProcessing)
	if !domain.IsKind(err, domain.KindOrderNotFound) {
		t.Errorf("Expected order_not_found, got %v", err)
	}
}

func TestDeleteOrder(t *testing.T) {
	pub := &recordingPublisher{}
	store := openTempStore(t, WithPublisher(pub))
	ctx := context.Background()

	order, _ := store.CreateOrder(ctx, "cust-1", sampleItems)
	deleted, err := store.DeleteOrder(ctx, order.UUID)
	if err != nil {
		t.Fatalf("DeleteOrder failed: %v", err)
	}
	if deleted.UUID != order.UUID {
		t.Errorf("Expected deleted snapshot for %s, got %s", order.UUID, deleted.UUID)
	}

	if _, err := store.GetOrder(ctx, order.UUID); !domain.IsKind(err, domain.KindOrderNotFound) {
		t.Errorf("Expected order to be gone, got %v", err)
	}
	var items int
	_ = store.db.QueryRow("SELECT COUNT(*) FROM order_items").Scan(&items)
	if items != 0 {
		t.Errorf("Expected items to be removed, got %d", items)
	}

	evts := pub.all()
	if len(evts) != 2 || evts[1].t != events.Deleted || evts[1].order.UUID != order.UUID {
		t.Errorf("Expected deleted event, got %+v", evts)
	}

	if _, err := store.DeleteOrder(ctx, order.UUID); !domain.IsKind(err, domain.KindOrderNotFound) {
		t.Errorf("Expected second delete to report not found, got %v", err)
	}
}

func TestListOrderIDs_OldestFirst(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)}
	store := openTempStore(t, WithClock(clock.Now))
	ctx := context.Background()

	var want []string
	for i := 0; i < 3; i++ {
		o, err := store.CreateOrder(ctx, "cust-1", sampleItems)
		if err != nil {
			t.Fatalf("CreateOrder failed: %v", err)
		}
		want = append(want, o.UUID)
		clock.Advance(time.Second)
	}

	ids, err := store.ListOrderIDs(ctx)
	if err != nil {
		t.Fatalf("ListOrderIDs failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("Expected 3 ids, got %d", len(ids))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], ids[i])
		}
	}
}

func TestCanceledContext(t *testing.T) {
	store := openTempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.CreateOrder(ctx, "cust-1", sampleItems); err == nil {
		t.Error("Expected error for canceled context")
	}
	if err := store.RecordFailedOperation(ctx, domain.OperationIndex, "id", "boom"); err == nil {
		t.Error("Expected error for canceled context")
	}
}
