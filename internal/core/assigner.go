package core

import (
	"errors"

	"srcode/pkg/domain"
)

// Assign returns the rows annotated with the code reserved for each row's
// position within its event. Rows whose key is missing from codes, or whose
// event holds more occurrences than codes reserved, are left without a Code and
// reported as diagnostics; under StrictnessStrict the first such row aborts the
// call with an *UnresolvedKeyError. The input slice is not modified.
func Assign(rows []domain.Requirement, codes *CodeMap, opts Options) ([]domain.CodedRequirement, []Diagnostic, error) {
	if len(rows) == 0 {
		return nil, nil, ErrEmptyTable
	}
	if codes == nil {
		return nil, nil, errors.New("assign: nil code map")
	}
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}
	// Only the contiguity check matters here; counters are keyed by label so
	// both groupings hand out positions the same way Allocate consumed them.
	if _, err := groupEvents(rows, opts.Grouping); err != nil {
		return nil, nil, err
	}

	policy := opts.KeyPolicy()
	counters := make(map[string]map[domain.Key]int)
	out := make([]domain.CodedRequirement, len(rows))
	var diags []Diagnostic

	for i, r := range rows {
		out[i] = domain.CodedRequirement{Requirement: r}

		counter, ok := counters[r.EventLabel]
		if !ok {
			counter = make(map[domain.Key]int)
			counters[r.EventLabel] = counter
		}

		key := policy.Key(r)
		seq, known := codes.lookup(key)
		pos := counter[key]
		if known && pos < len(seq) {
			out[i].Code = seq[pos]
			counter[key] = pos + 1
			continue
		}

		d := Diagnostic{
			Kind:       KindKeyNotFound,
			Index:      i,
			Line:       r.Line,
			EventLabel: r.EventLabel,
			UniqueID:   r.UniqueID,
			Key:        key,
		}
		if known {
			d.Kind = KindCodesExhausted
		}
		if opts.strict() {
			return nil, nil, &UnresolvedKeyError{Diagnostic: d}
		}
		diags = append(diags, d)
	}
	return out, diags, nil
}
