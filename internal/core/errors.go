package core

import (
	"errors"
	"fmt"

	"srcode/pkg/domain"
)

var (
	// ErrEmptyTable is returned when there are no rows to code.
	ErrEmptyTable = errors.New("requirement table has no rows")
	// ErrInterleavedEvents is returned under GroupingContiguous when rows of one
	// event are split by rows of another.
	ErrInterleavedEvents = errors.New("event rows are not contiguous")
	// ErrUnresolvedKey is wrapped by UnresolvedKeyError.
	ErrUnresolvedKey = errors.New("unresolved requirement key")
)

// UnresolvedKeyError reports the row that stopped a strict coding run.
type UnresolvedKeyError struct {
	Diagnostic Diagnostic
}

func (e *UnresolvedKeyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnresolvedKey, e.Diagnostic)
}

func (e *UnresolvedKeyError) Unwrap() error { return ErrUnresolvedKey }

// InterleavedEventError names the event label that reappeared after another
// event had started.
type InterleavedEventError struct {
	EventLabel string
	Line       int
}

func (e *InterleavedEventError) Error() string {
	return fmt.Sprintf("%s: event %q reappears at line %d", ErrInterleavedEvents, e.EventLabel, e.Line)
}

func (e *InterleavedEventError) Unwrap() error { return ErrInterleavedEvents }

// DiagnosticKind classifies a row-scoped coding problem.
type DiagnosticKind string

const (
	// KindKeyNotFound means the row's key is absent from the Code Map.
	KindKeyNotFound DiagnosticKind = "key_not_found"
	// KindCodesExhausted means the row's event holds more occurrences of the key
	// than the Code Map reserved.
	KindCodesExhausted DiagnosticKind = "codes_exhausted"
	// KindDuplicateUniqueID means two coded rows share one Unique ID; the first
	// one is used for parent resolution.
	KindDuplicateUniqueID DiagnosticKind = "duplicate_unique_id"
)

// Diagnostic is a non-fatal, row-scoped finding returned next to the coded table.
type Diagnostic struct {
	Kind       DiagnosticKind
	Index      int // position of the row in the input sequence
	Line       int
	EventLabel string
	UniqueID   string
	Key        domain.Key
}

func (d Diagnostic) String() string {
	switch d.Kind {
	case KindKeyNotFound:
		return fmt.Sprintf("line %d: key %q not found in code map, row skipped", d.Line, d.Key)
	case KindCodesExhausted:
		return fmt.Sprintf("line %d: no more codes for key %q in event %q, row skipped", d.Line, d.Key, d.EventLabel)
	case KindDuplicateUniqueID:
		return fmt.Sprintf("line %d: unique id %q already used by an earlier row", d.Line, d.UniqueID)
	default:
		return fmt.Sprintf("line %d: %s", d.Line, d.Kind)
	}
}
