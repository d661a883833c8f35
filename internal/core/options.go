// Package core assigns requirement codes to specimen requirement rows.
//
// Coding runs in three strictly ordered passes over one in-memory table:
// Allocate builds the Code Map, Assign hands each row the code reserved for its
// position inside its event, and ResolveParents derives Parent Codes from the
// coded rows. The package performs no I/O and keeps no state between calls.
package core

import (
	"fmt"
	"strings"

	"srcode/pkg/domain"
)

// Strictness selects how unresolvable keys are handled by the assigner.
type Strictness string

const (
	// StrictnessLenient skips the row and records a diagnostic.
	StrictnessLenient Strictness = "lenient"
	// StrictnessStrict aborts coding at the first unresolvable key.
	StrictnessStrict Strictness = "strict"
)

// Grouping selects how rows are gathered into events.
type Grouping string

const (
	// GroupingCoalesce gathers rows by event label in first-seen order,
	// regardless of whether rows of one event are contiguous.
	GroupingCoalesce Grouping = "coalesce"
	// GroupingContiguous requires rows of one event to be contiguous and
	// rejects interleaved input.
	GroupingContiguous Grouping = "contiguous"
)

// Options configures one coding invocation.
type Options struct {
	// IncludeQuantityInKey adds Initial Quantity to the composite identity key.
	IncludeQuantityInKey bool
	Strictness           Strictness
	Grouping             Grouping
}

// DefaultOptions returns the options used by the deployed tool.
func DefaultOptions() Options {
	return Options{
		IncludeQuantityInKey: true,
		Strictness:           StrictnessLenient,
		Grouping:             GroupingCoalesce,
	}
}

// KeyPolicy returns the key policy implied by the options.
func (o Options) KeyPolicy() domain.KeyPolicy {
	return domain.KeyPolicy{IncludeQuantity: o.IncludeQuantityInKey}
}

// Validate reports unknown strictness or grouping values. Empty values are
// accepted and treated as the defaults.
func (o Options) Validate() error {
	switch o.Strictness {
	case "", StrictnessLenient, StrictnessStrict:
	default:
		return fmt.Errorf("unknown strictness %q", o.Strictness)
	}
	switch o.Grouping {
	case "", GroupingCoalesce, GroupingContiguous:
	default:
		return fmt.Errorf("unknown event grouping %q", o.Grouping)
	}
	return nil
}

func (o Options) strict() bool { return o.Strictness == StrictnessStrict }

// ParseStrictness converts a configuration string into a Strictness.
func ParseStrictness(s string) (Strictness, error) {
	switch v := Strictness(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return StrictnessLenient, nil
	case StrictnessLenient, StrictnessStrict:
		return v, nil
	default:
		return "", fmt.Errorf("unknown strictness %q (want lenient or strict)", s)
	}
}

// ParseGrouping converts a configuration string into a Grouping.
func ParseGrouping(s string) (Grouping, error) {
	switch v := Grouping(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return GroupingCoalesce, nil
	case GroupingCoalesce, GroupingContiguous:
		return v, nil
	default:
		return "", fmt.Errorf("unknown event grouping %q (want coalesce or contiguous)", s)
	}
}
