package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind identifies one variant of the closed error set.
type ErrorKind string

const (
	// KindConnection means the search index could not be reached or timed out.
	KindConnection ErrorKind = "connection"
	// KindSearchQuery means a read against the index failed.
	KindSearchQuery ErrorKind = "search_query"
	// KindValidation means an order snapshot violates its invariants.
	KindValidation ErrorKind = "validation"
	// KindReplayNotFound means a ledger replay found no current snapshot.
	KindReplayNotFound ErrorKind = "replay_not_found"
	// KindOrderNotFound means the primary store has no such order.
	KindOrderNotFound ErrorKind = "order_not_found"
	// KindInvalidTransition means a status change breaks the order lifecycle.
	KindInvalidTransition ErrorKind = "invalid_transition"
)

// Error is the tagged error carried across the projection subsystem.
// Variants are matched by Kind, never by type hierarchy.
type Error struct {
	Kind       ErrorKind
	HTTPStatus int
	Code       string
	Message    string
	Details    map[string]any
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error of the same kind, so that
// errors.Is(err, &Error{Kind: KindConnection}) works through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// NewConnectionError wraps an index transport failure or timeout.
func NewConnectionError(op string, err error, details map[string]any) *Error {
	return &Error{
		Kind:       KindConnection,
		HTTPStatus: http.StatusServiceUnavailable,
		Code:       "INDEX_UNAVAILABLE",
		Message:    fmt.Sprintf("search index unavailable during %s", op),
		Details:    withOperation(details, op),
		Err:        err,
	}
}

// NewSearchQueryError wraps a failed read, keeping the query context.
func NewSearchQueryError(op string, err error, details map[string]any) *Error {
	return &Error{
		Kind:       KindSearchQuery,
		HTTPStatus: http.StatusInternalServerError,
		Code:       "SEARCH_FAILED",
		Message:    fmt.Sprintf("search failed during %s", op),
		Details:    withOperation(details, op),
		Err:        err,
	}
}

// NewValidationError reports a snapshot that must not be written.
func NewValidationError(msg string, details map[string]any) *Error {
	return &Error{
		Kind:       KindValidation,
		HTTPStatus: http.StatusUnprocessableEntity,
		Code:       "VALIDATION_FAILED",
		Message:    msg,
		Details:    details,
	}
}

// NewReplayNotFoundError reports a ledger entry whose entity is gone.
func NewReplayNotFoundError(kind OperationKind, entityID string, err error) *Error {
	return &Error{
		Kind:       KindReplayNotFound,
		HTTPStatus: http.StatusGone,
		Code:       "REPLAY_ENTITY_MISSING",
		Message:    fmt.Sprintf("order %s no longer exists, dropping %s replay", entityID, kind),
		Details:    map[string]any{"operation_kind": string(kind), "entity_id": entityID},
		Err:        err,
	}
}

// NewOrderNotFoundError reports a primary store miss.
func NewOrderNotFoundError(id string) *Error {
	return &Error{
		Kind:       KindOrderNotFound,
		HTTPStatus: http.StatusNotFound,
		Code:       "ORDER_NOT_FOUND",
		Message:    fmt.Sprintf("order %s not found", id),
		Details:    map[string]any{"order_id": id},
	}
}

// NewInvalidTransitionError reports a status change outside the lifecycle.
func NewInvalidTransitionError(id string, from, to Status) *Error {
	msg := fmt.Sprintf("order %s cannot move from %s to %s", id, from, to)
	if from.Terminal() {
		msg = fmt.Sprintf("order %s is %s and can no longer change status", id, from)
	}
	return &Error{
		Kind:       KindInvalidTransition,
		HTTPStatus: http.StatusConflict,
		Code:       "INVALID_STATUS_TRANSITION",
		Message:    msg,
		Details:    map[string]any{"order_id": id, "from": string(from), "to": string(to), "terminal": from.Terminal()},
	}
}

func withOperation(details map[string]any, op string) map[string]any {
	out := make(map[string]any, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out["operation"] = op
	return out
}
