// Package projection maps orders to search documents, keeps the search index
// in step with the primary store, and serves paginated reads from the index.
//
// Writes never fail the caller: a failed upsert or delete is logged and
// handed to the failure recorder for a later reconciliation sweep. Reads have
// no fallback, so their failures are returned as search query errors.
package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/blevesearch/bleve/v2"
	"github.com/sha1n/order-index/internal/domain"
	"github.com/sha1n/order-index/internal/events"
	"github.com/sha1n/order-index/internal/searchindex"
)

// FailureRecorder remembers a failed projection for later replay.
type FailureRecorder interface {
	RecordFailedOperation(ctx context.Context, kind domain.OperationKind, entityID, message string) error
}

// Subscriber registers event handlers.
type Subscriber interface {
	Subscribe(t events.Type, h events.Handler) error
}

// Projector writes order projections and reads them back.
type Projector struct {
	client   searchindex.Client
	index    string
	recorder FailureRecorder
	logger   *slog.Logger
}

// NewProjector creates a projector writing to the named index.
func NewProjector(client searchindex.Client, index string, recorder FailureRecorder, logger *slog.Logger) *Projector {
	if index == "" {
		index = DefaultIndexName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		client:   client,
		index:    index,
		recorder: recorder,
		logger:   logger,
	}
}

// Register subscribes the projector to every order event type.
func (p *Projector) Register(s Subscriber) error {
	handlers := []struct {
		t events.Type
		h events.Handler
	}{
		{events.Created, func(ctx context.Context, evt events.Event) error {
			p.ProjectOrder(ctx, evt.Order)
			return nil
		}},
		{events.Updated, func(ctx context.Context, evt events.Event) error {
			p.UpdateProjection(ctx, evt.Order)
			return nil
		}},
		{events.Canceled, func(ctx context.Context, evt events.Event) error {
			p.UpdateProjection(ctx, evt.Order)
			return nil
		}},
		{events.Deleted, func(ctx context.Context, evt events.Event) error {
			p.RemoveProjection(ctx, evt.OrderID)
			return nil
		}},
	}
	for _, sub := range handlers {
		if err := s.Subscribe(sub.t, sub.h); err != nil {
			return fmt.Errorf("subscribe %s: %w", sub.t, err)
		}
	}
	return nil
}

// ProjectOrder indexes a newly created order. It never returns an error.
func (p *Projector) ProjectOrder(ctx context.Context, order domain.Order) {
	p.project(ctx, domain.OperationIndex, order)
}

// UpdateProjection re-indexes a mutated order. It never returns an error.
func (p *Projector) UpdateProjection(ctx context.Context, order domain.Order) {
	p.project(ctx, domain.OperationUpdate, order)
}

// RemoveProjection deletes an order's document. It never returns an error.
func (p *Projector) RemoveProjection(ctx context.Context, id string) {
	if err := p.Delete(ctx, id); err != nil {
		p.recordFailure(ctx, domain.OperationDelete, id, err)
	}
}

// Upsert validates order and fully replaces its document. Unlike
// ProjectOrder it returns the failure; reconciliation replays use it.
func (p *Projector) Upsert(ctx context.Context, order domain.Order) error {
	doc, err := domain.NewSearchDocument(order)
	if err != nil {
		return err
	}
	if err := p.client.Upsert(ctx, p.index, doc.ID, doc); err != nil {
		return fmt.Errorf("upsert order %s: %w", doc.ID, err)
	}
	return nil
}

// Delete removes the document for id, returning any failure.
func (p *Projector) Delete(ctx context.Context, id string) error {
	if err := p.client.Delete(ctx, p.index, id); err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	return nil
}

func (p *Projector) project(ctx context.Context, kind domain.OperationKind, order domain.Order) {
	err := p.Upsert(ctx, order)
	if err == nil {
		p.logger.Debug("Order projected", "operation", kind, "order_id", order.UUID)
		return
	}
	if domain.IsKind(err, domain.KindValidation) {
		// Replaying a structurally invalid snapshot can never succeed.
		p.logger.Error("Order failed projection validation, not recording",
			"operation", kind, "order_id", order.UUID, "error", err)
		return
	}
	p.recordFailure(ctx, kind, order.UUID, err)
}

func (p *Projector) recordFailure(ctx context.Context, kind domain.OperationKind, id string, cause error) {
	p.logger.Warn("Projection failed, recording for reconciliation",
		"operation", kind,
		"order_id", id,
		"error_kind", domain.KindOf(cause),
		"error", cause)

	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordFailedOperation(context.WithoutCancel(ctx), kind, id, cause.Error()); err != nil {
		p.logger.Error("Failed to record projection failure",
			"operation", kind, "order_id", id, "error", err)
	}
}

// FindOneByUUID reads one projected order. found is false when no document
// exists; that is not an error.
func (p *Projector) FindOneByUUID(ctx context.Context, id string) (order domain.Order, found bool, err error) {
	if id == "" {
		return domain.Order{}, false, nil
	}
	res, err := p.client.Search(ctx, p.index, searchindex.Request{
		Query: bleve.NewDocIDQuery([]string{id}),
		Size:  1,
	})
	if err != nil {
		return domain.Order{}, false, domain.NewSearchQueryError("find_one_by_uuid", err, map[string]any{"order_id": id})
	}
	if len(res.Hits) == 0 {
		return domain.Order{}, false, nil
	}
	order, err = decodeHit(res.Hits[0])
	if err != nil {
		return domain.Order{}, false, domain.NewSearchQueryError("find_one_by_uuid", err, map[string]any{"order_id": id})
	}
	return order, true, nil
}

// FindAll returns every projected order, newest first.
func (p *Projector) FindAll(ctx context.Context, pg Pagination) (Page[domain.Order], error) {
	return p.search(ctx, "find_all", Filter{}, pg)
}

// FindByCustomer returns one customer's orders, newest first.
func (p *Projector) FindByCustomer(ctx context.Context, customerID string, pg Pagination) (Page[domain.Order], error) {
	return p.search(ctx, "find_by_customer", CustomerFilter(customerID), pg)
}

// Search returns orders matching filter, newest first.
func (p *Projector) Search(ctx context.Context, filter Filter, pg Pagination) (Page[domain.Order], error) {
	return p.search(ctx, "search", filter, pg)
}

func (p *Projector) search(ctx context.Context, op string, filter Filter, pg Pagination) (Page[domain.Order], error) {
	pg = pg.Normalize()
	details := map[string]any{"page": pg.Page, "limit": pg.Limit}
	if !filter.IsEmpty() {
		details["filter"] = filter
	}

	req := searchindex.Request{
		Query: filter.BuildQuery(),
		From:  pg.Offset(),
		Size:  pg.Limit,
		Sort:  recencySort,
	}
	if pg.OutOfRange() {
		// only the total is needed
		req.From, req.Size = 0, 0
	}
	res, err := p.client.Search(ctx, p.index, req)
	if err != nil {
		return Page[domain.Order]{}, domain.NewSearchQueryError(op, err, details)
	}

	orders := make([]domain.Order, 0, len(res.Hits))
	for _, hit := range res.Hits {
		order, err := decodeHit(hit)
		if err != nil {
			return Page[domain.Order]{}, domain.NewSearchQueryError(op, err, details)
		}
		orders = append(orders, order)
	}
	return NewPage(orders, int(res.Total), pg), nil
}

func decodeHit(hit searchindex.Hit) (domain.Order, error) {
	var doc domain.SearchDocument
	if err := json.Unmarshal(hit.Source, &doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode document %s: %w", hit.ID, err)
	}
	return doc.Order(), nil
}
