package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sha1n/order-index/internal/domain"
)

// RecordFailedOperation upserts the record for (kind, entityID). A repeated
// failure increments attempt_count and refreshes the message and
// last_failed_at instead of adding a row.
func (s *Store) RecordFailedOperation(ctx context.Context, kind domain.OperationKind, entityID, message string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown operation kind %q", kind)
	}
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return errors.New("entity id is required")
	}

	now := s.timestamp().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO reconciliation_records (
	operation_kind,
	entity_id,
	error_message,
	attempt_count,
	first_failed_at,
	last_failed_at
) VALUES (?, ?, ?, 1, ?, ?)
ON CONFLICT(operation_kind, entity_id) DO UPDATE SET
	error_message = excluded.error_message,
	attempt_count = reconciliation_records.attempt_count + 1,
	last_failed_at = excluded.last_failed_at
`,
		string(kind),
		entityID,
		message,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("record failed operation: %w", err)
	}
	return nil
}

// ListFailedOperations returns outstanding records, oldest failure first.
func (s *Store) ListFailedOperations(ctx context.Context) ([]domain.ReconciliationRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT
	operation_kind,
	entity_id,
	error_message,
	attempt_count,
	first_failed_at,
	last_failed_at
FROM reconciliation_records
ORDER BY first_failed_at, id
`)
	if err != nil {
		return nil, fmt.Errorf("list failed operations: %w", err)
	}
	defer rows.Close()

	records := []domain.ReconciliationRecord{}
	for rows.Next() {
		var (
			record      domain.ReconciliationRecord
			kind        string
			first, last int64
		)
		if err := rows.Scan(&kind, &record.EntityID, &record.ErrorMessage, &record.AttemptCount, &first, &last); err != nil {
			return nil, fmt.Errorf("scan failed operation: %w", err)
		}
		record.OperationKind = domain.OperationKind(kind)
		record.FirstFailedAt = fromMillis(first)
		record.LastFailedAt = fromMillis(last)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failed operations: %w", err)
	}
	return records, nil
}

// DeleteFailedOperation removes the record for (kind, entityID). Removing a
// missing record is not an error.
func (s *Store) DeleteFailedOperation(ctx context.Context, kind domain.OperationKind, entityID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM reconciliation_records WHERE operation_kind = ? AND entity_id = ?",
		string(kind), entityID,
	); err != nil {
		return fmt.Errorf("delete failed operation: %w", err)
	}
	return nil
}

// CountFailedOperations returns the number of outstanding records.
func (s *Store) CountFailedOperations(ctx context.Context) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reconciliation_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count failed operations: %w", err)
	}
	return n, nil
}
