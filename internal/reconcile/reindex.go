package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sha1n/order-index/internal/domain"
)

// Catalog enumerates and loads orders from the primary store.
type Catalog interface {
	OrderSource
	ListOrderIDs(ctx context.Context) ([]string, error)
}

// ReindexResult summarizes a full reindex.
type ReindexResult struct {
	Total   int `json:"total"`
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
	Missing int `json:"missing"`
}

// Reindexer re-projects every order in the primary store. It repairs drift
// the ledger cannot see, such as a lost index directory.
type Reindexer struct {
	catalog    Catalog
	projection Projection
	ledger     Ledger
	serializer Serializer
	logger     *slog.Logger
}

// NewReindexer creates a reindexer. Failed upserts are recorded in ledger as
// index operations so the next sweep retries them.
func NewReindexer(catalog Catalog, projection Projection, ledger Ledger, serializer Serializer, logger *slog.Logger) *Reindexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reindexer{
		catalog:    catalog,
		projection: projection,
		ledger:     ledger,
		serializer: serializer,
		logger:     logger,
	}
}

// Reindex upserts the current snapshot of every order.
func (r *Reindexer) Reindex(ctx context.Context) (ReindexResult, error) {
	ids, err := r.catalog.ListOrderIDs(ctx)
	if err != nil {
		return ReindexResult{}, fmt.Errorf("list orders: %w", err)
	}

	res := ReindexResult{Total: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := r.inLane(ctx, id, func() error { return r.reindexOne(ctx, id) })
		switch {
		case err == nil:
			res.Indexed++
		case domain.IsKind(err, domain.KindOrderNotFound):
			res.Missing++
		default:
			res.Failed++
		}
	}

	r.logger.Info("Reindex finished",
		"total", res.Total,
		"indexed", res.Indexed,
		"failed", res.Failed,
		"missing", res.Missing)
	return res, nil
}

func (r *Reindexer) reindexOne(ctx context.Context, id string) error {
	order, err := r.catalog.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if err := r.projection.Upsert(ctx, order); err != nil {
		r.logger.Warn("Reindex failed for order", "order_id", id, "error", err)
		if !domain.IsKind(err, domain.KindValidation) && r.ledger != nil {
			if rerr := r.ledger.RecordFailedOperation(ctx, domain.OperationIndex, id, err.Error()); rerr != nil {
				r.logger.Error("Failed to record reindex failure", "order_id", id, "error", rerr)
			}
		}
		return err
	}
	return nil
}

func (r *Reindexer) inLane(ctx context.Context, id string, fn func() error) error {
	if r.serializer == nil {
		return fn()
	}
	return r.serializer.Serialize(ctx, id, fn)
}
