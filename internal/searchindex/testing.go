package searchindex

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sha1n/order-index/internal/domain"
)

// ErrSimulatedOutage is the cause reported by a FaultyClient that is down.
var ErrSimulatedOutage = errors.New("simulated index outage")

// FaultyClient wraps a Client and can simulate an unreachable index.
// This is exported for use in tests of packages that depend on the index.
type FaultyClient struct {
	inner Client
	down  atomic.Bool
	mu    sync.Mutex
	calls map[string]int
}

// NewFaultyClient wraps inner.
func NewFaultyClient(inner Client) *FaultyClient {
	return &FaultyClient{inner: inner, calls: make(map[string]int)}
}

// SetDown toggles the simulated outage.
func (f *FaultyClient) SetDown(down bool) {
	f.down.Store(down)
}

// Calls returns how many times op was invoked, including failed calls.
func (f *FaultyClient) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FaultyClient) enter(op, index, id string) error {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
	if f.down.Load() {
		return domain.NewConnectionError(op, ErrSimulatedOutage, map[string]any{"index": index, "id": id})
	}
	return nil
}

func (f *FaultyClient) Upsert(ctx context.Context, index, id string, doc any) error {
	if err := f.enter("upsert", index, id); err != nil {
		return err
	}
	return f.inner.Upsert(ctx, index, id, doc)
}

func (f *FaultyClient) Delete(ctx context.Context, index, id string) error {
	if err := f.enter("delete", index, id); err != nil {
		return err
	}
	return f.inner.Delete(ctx, index, id)
}

func (f *FaultyClient) Exists(ctx context.Context, index, id string) (bool, error) {
	if err := f.enter("exists", index, id); err != nil {
		return false, err
	}
	return f.inner.Exists(ctx, index, id)
}

func (f *FaultyClient) Search(ctx context.Context, index string, req Request) (*Result, error) {
	if err := f.enter("search", index, ""); err != nil {
		return nil, err
	}
	return f.inner.Search(ctx, index, req)
}

var _ Client = (*FaultyClient)(nil)
var _ Client = (*BleveClient)(nil)
