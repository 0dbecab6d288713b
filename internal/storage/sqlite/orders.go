package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sha1n/order-index/internal/domain"
	"github.com/sha1n/order-index/internal/events"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateOrder persists a new PENDING order and publishes created.
func (s *Store) CreateOrder(ctx context.Context, customerID string, items []domain.ItemInput) (domain.Order, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Order{}, err
	}
	order, err := domain.NewOrder(customerID, items, s.timestamp())
	if err != nil {
		return domain.Order{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin create order: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO orders (uuid, customer_id, status, total, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		order.UUID,
		order.CustomerID,
		string(order.Status),
		order.Total,
		order.CreatedAt.UnixMilli(),
		order.UpdatedAt.UnixMilli(),
	); err != nil {
		_ = tx.Rollback()
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	for i, item := range order.Items {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO order_items (uuid, order_uuid, position, product_id, product_name, price, quantity, subtotal)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
			item.UUID,
			order.UUID,
			i,
			item.ProductID,
			item.ProductName,
			item.Price,
			item.Quantity,
			item.Subtotal,
		); err != nil {
			_ = tx.Rollback()
			return domain.Order{}, fmt.Errorf("insert order item: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit create order: %w", err)
	}

	s.publish(ctx, events.Created, order)
	return order, nil
}

// UpdateStatus moves an order along its lifecycle and publishes updated, or
// canceled when the new status is CANCELED.
func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.Status) (domain.Order, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Order{}, err
	}
	if !status.Valid() {
		return domain.Order{}, domain.NewValidationError(
			fmt.Sprintf("unknown status %q", status),
			map[string]any{"allowed": domain.AllStatuses()},
		)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin update status: %w", err)
	}
	order, err := getOrder(ctx, tx, id)
	if err != nil {
		_ = tx.Rollback()
		return domain.Order{}, err
	}
	if !order.Status.CanTransitionTo(status) {
		_ = tx.Rollback()
		return domain.Order{}, domain.NewInvalidTransitionError(id, order.Status, status)
	}

	order.Status = status
	order.UpdatedAt = s.timestamp()
	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = ?, updated_at = ? WHERE uuid = ?",
		string(order.Status), order.UpdatedAt.UnixMilli(), id,
	); err != nil {
		_ = tx.Rollback()
		return domain.Order{}, fmt.Errorf("update order status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit update status: %w", err)
	}

	evt := events.Updated
	if status == domain.StatusCanceled {
		evt = events.Canceled
	}
	s.publish(ctx, evt, order)
	return order, nil
}

// CancelOrder cancels a PENDING or PROCESSING order.
func (s *Store) CancelOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.UpdateStatus(ctx, id, domain.StatusCanceled)
}

// DeleteOrder hard-deletes an order and publishes deleted with the last
// snapshot.
func (s *Store) DeleteOrder(ctx context.Context, id string) (domain.Order, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Order{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin delete order: %w", err)
	}
	order, err := getOrder(ctx, tx, id)
	if err != nil {
		_ = tx.Rollback()
		return domain.Order{}, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM order_items WHERE order_uuid = ?", id); err != nil {
		_ = tx.Rollback()
		return domain.Order{}, fmt.Errorf("delete order items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM orders WHERE uuid = ?", id); err != nil {
		_ = tx.Rollback()
		return domain.Order{}, fmt.Errorf("delete order: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit delete order: %w", err)
	}

	s.publish(ctx, events.Deleted, order)
	return order, nil
}

// GetOrder loads the current snapshot of an order. A missing order is an
// order_not_found error.
func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Order{}, err
	}
	return getOrder(ctx, s.db, id)
}

// ListOrderIDs returns every order id, oldest first.
func (s *Store) ListOrderIDs(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT uuid FROM orders ORDER BY created_at, uuid")
	if err != nil {
		return nil, fmt.Errorf("list order ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order ids: %w", err)
	}
	return ids, nil
}

func getOrder(ctx context.Context, q queryer, id string) (domain.Order, error) {
	var (
		order                domain.Order
		status               string
		createdAt, updatedAt int64
	)
	err := q.QueryRowContext(ctx, `
SELECT uuid, customer_id, status, total, created_at, updated_at
FROM orders
WHERE uuid = ?
`, id).Scan(&order.UUID, &order.CustomerID, &status, &order.Total, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.NewOrderNotFoundError(id)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	order.Status = domain.Status(status)
	order.CreatedAt = fromMillis(createdAt)
	order.UpdatedAt = fromMillis(updatedAt)

	rows, err := q.QueryContext(ctx, `
SELECT uuid, product_id, product_name, price, quantity, subtotal
FROM order_items
WHERE order_uuid = ?
ORDER BY position
`, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	order.Items = []domain.OrderItem{}
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.UUID, &item.ProductID, &item.ProductName, &item.Price, &item.Quantity, &item.Subtotal); err != nil {
			return domain.Order{}, fmt.Errorf("scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Order{}, fmt.Errorf("iterate order items: %w", err)
	}
	return order, nil
}

// publish notifies the publisher. The mutation is already committed, so a
// publish failure is logged and not returned.
func (s *Store) publish(ctx context.Context, t events.Type, order domain.Order) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, t, order); err != nil {
		s.logger.Warn("Failed to publish order event", "event", t, "order_id", order.UUID, "error", err)
	}
}
