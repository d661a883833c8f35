package core

import "srcode/pkg/domain"

// ResolveParents returns the rows with ParentCode set from the Code of the row
// whose Unique ID matches ParentUID. Only rows that received a Code are
// indexed. Empty or dangling parent references leave ParentCode unset and are
// not reported; a Unique ID shared by several coded rows resolves to the first
// of them and the later ones are reported.
func ResolveParents(rows []domain.CodedRequirement) ([]domain.CodedRequirement, []Diagnostic) {
	index := make(map[string]int, len(rows))
	var diags []Diagnostic
	for i, r := range rows {
		if !r.HasCode() || r.UniqueID == "" {
			continue
		}
		if _, dup := index[r.UniqueID]; dup {
			diags = append(diags, Diagnostic{
				Kind:       KindDuplicateUniqueID,
				Index:      i,
				Line:       r.Line,
				EventLabel: r.EventLabel,
				UniqueID:   r.UniqueID,
			})
			continue
		}
		index[r.UniqueID] = r.Code
	}

	out := make([]domain.CodedRequirement, len(rows))
	for i, r := range rows {
		out[i] = r
		out[i].ParentCode = 0
		if r.ParentUID == "" {
			continue
		}
		if code, ok := index[r.ParentUID]; ok {
			out[i].ParentCode = code
		}
	}
	return out, diags
}
