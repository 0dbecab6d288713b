package domain

import "time"

// OperationKind names the projection operation that failed.
type OperationKind string

const (
	OperationIndex  OperationKind = "index"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// Valid reports whether k is a known operation kind.
func (k OperationKind) Valid() bool {
	switch k {
	case OperationIndex, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// ReconciliationRecord is one outstanding projection failure.
// At most one record exists per (OperationKind, EntityID).
type ReconciliationRecord struct {
	OperationKind OperationKind `json:"operation_kind"`
	EntityID      string        `json:"entity_id"`
	ErrorMessage  string        `json:"error_message"`
	AttemptCount  int           `json:"attempt_count"`
	FirstFailedAt time.Time     `json:"first_failed_at"`
	LastFailedAt  time.Time     `json:"last_failed_at"`
}
