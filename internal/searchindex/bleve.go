package searchindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/sha1n/order-index/internal/domain"
)

const (
	// IndexSuffix is the suffix for index directories
	IndexSuffix = ".bleve"

	// DefaultTimeout bounds a single index call when none is configured.
	DefaultTimeout = 5 * time.Second
)

var (
	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("search index client is closed")

	// ErrUnknownIndex is returned for an index name with no registered mapping.
	ErrUnknownIndex = errors.New("unknown index")

	// ErrIndexUnavailable is returned when an index cannot be opened, for
	// example while another process holds its directory.
	ErrIndexUnavailable = errors.New("search index unavailable")
)

// MappingFunc builds the mapping used when an index is first created.
type MappingFunc func() mapping.IndexMapping

// BleveClient manages named Bleve indexes under a base directory.
// An empty base directory keeps every index in memory.
type BleveClient struct {
	baseDir  string
	timeout  time.Duration
	mappings map[string]MappingFunc
	indexes  map[string]bleve.Index
	closed   bool
	mu       sync.Mutex
	openMu   sync.Mutex
}

// NewBleveClient creates a client for the given index mappings.
func NewBleveClient(baseDir string, timeout time.Duration, mappings map[string]MappingFunc) (*BleveClient, error) {
	if len(mappings) == 0 {
		return nil, fmt.Errorf("at least one index mapping is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	}
	return &BleveClient{
		baseDir:  baseDir,
		timeout:  timeout,
		mappings: mappings,
		indexes:  make(map[string]bleve.Index),
	}, nil
}

// indexPath returns the on-disk location of a named index.
func (c *BleveClient) indexPath(name string) string {
	return filepath.Join(c.baseDir, name+IndexSuffix)
}

// open returns the cached index, opening or creating it on first use.
// Opening waits at most the client timeout for the on-disk index lock, so a
// directory held by another process fails with ErrIndexUnavailable.
func (c *BleveClient) open(name string) (bleve.Index, error) {
	if idx, err := c.cached(name); idx != nil || err != nil {
		return idx, err
	}

	c.openMu.Lock()
	defer c.openMu.Unlock()
	if idx, err := c.cached(name); idx != nil || err != nil {
		return idx, err
	}

	idx, err := c.openOrCreate(name, c.mappings[name])
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = idx.Close()
		return nil, ErrClientClosed
	}
	c.indexes[name] = idx
	return idx, nil
}

// cached returns an already open index. A nil index with a nil error means
// the index is known but not open yet.
func (c *BleveClient) cached(name string) (bleve.Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if _, ok := c.mappings[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndex, name)
	}
	return c.indexes[name], nil
}

func (c *BleveClient) openOrCreate(name string, mappingFn MappingFunc) (bleve.Index, error) {
	if c.baseDir == "" {
		idx, err := bleve.NewMemOnly(mappingFn())
		if err != nil {
			return nil, fmt.Errorf("failed to create index %s: %w", name, err)
		}
		return idx, nil
	}

	path := c.indexPath(name)
	runtimeConfig := map[string]interface{}{"bolt_timeout": c.timeout.String()}
	idx, err := bleve.OpenUsing(path, runtimeConfig)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.NewUsing(path, mappingFn(), bleve.Config.DefaultIndexType, bleve.Config.DefaultKVStore, runtimeConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIndexUnavailable, name, err)
	}
	return idx, nil
}

// Upsert stores doc as a flat field map plus its original JSON in SourceField.
// Bleve's Index call replaces any previous document with the same id.
func (c *BleveClient) Upsert(ctx context.Context, index, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", id, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("document %s must encode to a JSON object: %w", id, err)
	}
	fields[SourceField] = string(raw)

	return c.call(ctx, "upsert", index, id, func(_ context.Context, idx bleve.Index) error {
		return idx.Index(id, fields)
	})
}

// Delete removes a document by id.
func (c *BleveClient) Delete(ctx context.Context, index, id string) error {
	return c.call(ctx, "delete", index, id, func(_ context.Context, idx bleve.Index) error {
		return idx.Delete(id)
	})
}

// Exists reports whether id is present in the index.
func (c *BleveClient) Exists(ctx context.Context, index, id string) (bool, error) {
	var found bool
	err := c.call(ctx, "exists", index, id, func(_ context.Context, idx bleve.Index) error {
		doc, err := idx.Document(id)
		if err != nil {
			return err
		}
		found = doc != nil
		return nil
	})
	return found, err
}

// Search executes req and returns the stored source of each hit.
func (c *BleveClient) Search(ctx context.Context, index string, req Request) (*Result, error) {
	searchReq := bleve.NewSearchRequestOptions(req.Query, req.Size, req.From, false)
	searchReq.Fields = []string{SourceField}
	if len(req.Sort) > 0 {
		searchReq.SortBy(req.Sort)
	}

	var res *bleve.SearchResult
	err := c.call(ctx, "search", index, "", func(ctx context.Context, idx bleve.Index) error {
		var err error
		res, err = idx.SearchInContext(ctx, searchReq)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := &Result{Total: res.Total, Hits: make([]Hit, 0, len(res.Hits))}
	for _, hit := range res.Hits {
		src, ok := hit.Fields[SourceField].(string)
		if !ok {
			return nil, fmt.Errorf("document %s has no stored source", hit.ID)
		}
		out.Hits = append(out.Hits, Hit{ID: hit.ID, Source: json.RawMessage(src)})
	}
	return out, nil
}

// Close releases all open indexes. Later calls fail as unavailable.
func (c *BleveClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	var errs []error
	for name, idx := range c.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close index %s: %w", name, err))
		}
		delete(c.indexes, name)
	}
	return errors.Join(errs...)
}

// call opens the named index and runs fn against it, both bounded by the
// client timeout. Bleve's write calls take no context, so the work runs in
// its own goroutine and a timeout abandons the wait, not the write.
func (c *BleveClient) call(ctx context.Context, op, index, id string, fn func(context.Context, bleve.Index) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		idx, err := c.open(index)
		if err != nil {
			done <- err
			return
		}
		done <- fn(ctx, idx)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() != nil {
			return classify(op, index, id, ctx.Err())
		}
		return classify(op, index, id, err)
	case <-ctx.Done():
		return classify(op, index, id, ctx.Err())
	}
}

// classify turns transport-level failures into domain connection errors and
// wraps the rest with operation context.
func classify(op, index, id string, err error) error {
	if err == nil {
		return nil
	}
	details := map[string]any{"index": index}
	if id != "" {
		details["id"] = id
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, ErrClientClosed),
		errors.Is(err, ErrIndexUnavailable),
		errors.Is(err, bleve.ErrorIndexClosed):
		return domain.NewConnectionError(op, err, details)
	}
	return fmt.Errorf("%s %s/%s: %w", op, index, id, err)
}
