package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sha1n/order-index/internal/config"
	"github.com/sha1n/order-index/internal/events"
	"github.com/sha1n/order-index/internal/lock"
	"github.com/sha1n/order-index/internal/projection"
	"github.com/sha1n/order-index/internal/reconcile"
	"github.com/sha1n/order-index/internal/searchindex"
	"github.com/sha1n/order-index/internal/storage/sqlite"
)

// Services is the wired object graph shared by the MCP server and the
// maintenance commands.
type Services struct {
	Store      *sqlite.Store
	Index      *searchindex.BleveClient
	Dispatcher *events.Dispatcher
	Projector  *projection.Projector
	Reconciler *reconcile.Reconciler
	Reindexer  *reconcile.Reindexer

	settings *config.Settings
	logger   *slog.Logger
	wg       sync.WaitGroup
	stop     context.CancelFunc
}

// NewServices opens the primary store and the search index and wires the
// projector, reconciler and reindexer around them.
func NewServices(settings *config.Settings, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dispatcher := events.NewDispatcher(logger.With("component", "dispatcher"), settings.Dispatch.BufferSize)

	store, err := sqlite.Open(settings.Store.Path,
		sqlite.WithPublisher(dispatcher),
		sqlite.WithLogger(logger.With("component", "store")),
	)
	if err != nil {
		dispatcher.Close()
		return nil, fmt.Errorf("failed to open order store: %w", err)
	}

	indexDir := settings.Index.Path
	if settings.Index.InMemory {
		indexDir = ""
	}
	index, err := searchindex.NewBleveClient(indexDir, settings.Index.Timeout, projection.IndexMappings(settings.Index.Name))
	if err != nil {
		dispatcher.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to open search index: %w", err)
	}

	projector := projection.NewProjector(index, settings.Index.Name, store, logger.With("component", "projector"))
	if err := projector.Register(dispatcher); err != nil {
		dispatcher.Close()
		_ = index.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to register projector: %w", err)
	}

	opts := []reconcile.Option{
		reconcile.WithSerializer(dispatcher),
		reconcile.WithLogger(logger.With("component", "reconciler")),
	}
	if settings.Reconcile.LockPath != "" {
		opts = append(opts, reconcile.WithLocker(lock.New(settings.Reconcile.LockPath)))
	}

	return &Services{
		Store:      store,
		Index:      index,
		Dispatcher: dispatcher,
		Projector:  projector,
		Reconciler: reconcile.NewReconciler(store, store, projector, opts...),
		Reindexer:  reconcile.NewReindexer(store, projector, store, dispatcher, logger.With("component", "reindexer")),
		settings:   settings,
		logger:     logger,
	}, nil
}

// StartSweeper runs the periodic reconciliation sweeper in the background
// when it is enabled. Close stops it.
func (s *Services) StartSweeper() {
	if !s.settings.Reconcile.Enabled || s.stop != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel

	sweeper := reconcile.NewSweeper(s.Reconciler, s.settings.Reconcile.Interval, s.logger.With("component", "sweeper"))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sweeper.Run(ctx)
	}()
}

// Close stops the sweeper and any running sweep, drains pending projections
// and closes the index and the store, in that order.
func (s *Services) Close() error {
	if s.stop != nil {
		s.stop()
		s.wg.Wait()
	}
	s.Reconciler.Close()
	s.Dispatcher.Close()

	var errs []error
	if err := s.Index.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
