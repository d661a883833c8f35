package core

import "srcode/pkg/domain"

// Stats summarizes one coding invocation.
type Stats struct {
	Rows            int
	Events          int
	Keys            int
	Allocations     int
	Coded           int
	Skipped         int
	ParentsResolved int
	// ParentsDangling counts rows with a Parent UID that matched no coded row.
	ParentsDangling int
}

// Result is the outcome of Generate.
type Result struct {
	Rows        []domain.CodedRequirement
	Codes       *CodeMap
	Diagnostics []Diagnostic
	Stats       Stats
}

// DiagnosticCounts groups diagnostics by kind.
func (r Result) DiagnosticCounts() map[DiagnosticKind]int {
	counts := make(map[DiagnosticKind]int)
	for _, d := range r.Diagnostics {
		counts[d.Kind]++
	}
	return counts
}

// Generate codes one requirement table: it allocates the Code Map over every
// event, assigns codes and resolves parent codes. The Code Map must be
// complete before assignment starts, so the passes never overlap.
func Generate(rows []domain.Requirement, opts Options) (Result, error) {
	codes, err := Allocate(rows, opts)
	if err != nil {
		return Result{}, err
	}
	assigned, diags, err := Assign(rows, codes, opts)
	if err != nil {
		return Result{}, err
	}
	resolved, parentDiags := ResolveParents(assigned)
	diags = append(diags, parentDiags...)

	events, _ := groupEvents(rows, GroupingCoalesce)
	stats := Stats{
		Rows:        len(rows),
		Events:      len(events),
		Keys:        codes.Len(),
		Allocations: codes.Allocations(),
	}
	for _, r := range resolved {
		if r.HasCode() {
			stats.Coded++
		} else {
			stats.Skipped++
		}
		if r.ParentUID == "" {
			continue
		}
		if r.HasParentCode() {
			stats.ParentsResolved++
		} else {
			stats.ParentsDangling++
		}
	}

	return Result{Rows: resolved, Codes: codes, Diagnostics: diags, Stats: stats}, nil
}
