package es

import (
	"errors"
	"fmt"

	pkgerrors "github.com/angelmondragon/eventcore/pkg/errors"
)

var (
	// ErrConcurrencyConflict matches any *ConcurrencyConflictError via errors.Is.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrUnknownEventType matches any *UnknownEventTypeError via errors.Is.
	ErrUnknownEventType  = errors.New("unknown event type")
	ErrAggregateNotFound = errors.New("aggregate not found")
	ErrVersionGap        = errors.New("stream version gap")
)

// ConcurrencyConflictError reports that a stream moved past the version the
// writer loaded. Callers reload, reapply and retry; nothing here retries.
type ConcurrencyConflictError struct {
	AggregateID string
	Expected    int
	Actual      int
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on %s: expected version %d, actual %d", e.AggregateID, e.Expected, e.Actual)
}

func (e *ConcurrencyConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// ConflictVersions exposes the conflict to error dumps.
func (e *ConcurrencyConflictError) ConflictVersions() (string, int, int) {
	return e.AggregateID, e.Expected, e.Actual
}

func (e *ConcurrencyConflictError) Unwrap() error {
	return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "stream version mismatch").
		WithDetails(map[string]any{"aggregate_id": e.AggregateID, "expected": e.Expected, "actual": e.Actual})
}

// UnknownEventTypeError reports a stored type name with no registration.
type UnknownEventTypeError struct {
	TypeName string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.TypeName)
}

func (e *UnknownEventTypeError) Is(target error) bool {
	return target == ErrUnknownEventType
}

func (e *UnknownEventTypeError) Unwrap() error {
	return pkgerrors.New(pkgerrors.CodeUnknownEventType, "event type is not registered").
		WithDetails(map[string]any{"event_type": e.TypeName})
}

// VersionGapError reports history that does not continue the aggregate's stream.
type VersionGapError struct {
	AggregateID string
	Expected    int
	Got         int
}

func (e *VersionGapError) Error() string {
	return fmt.Sprintf("stream %s: expected version %d, got %d", e.AggregateID, e.Expected, e.Got)
}

func (e *VersionGapError) Is(target error) bool {
	return target == ErrVersionGap
}

// IsConcurrencyConflict returns the conflict carried by err, if any.
func IsConcurrencyConflict(err error) (*ConcurrencyConflictError, bool) {
	var conflict *ConcurrencyConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}
