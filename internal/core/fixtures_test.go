package core

import (
	"strconv"

	"srcode/pkg/domain"
)

// fixture is a compact row description: event label, specimen type (standing in
// for the whole identity), unique id and parent uid.
type fixture struct {
	event, kind, uid, parent string
}

func buildRows(fixtures ...fixture) []domain.Requirement {
	rows := make([]domain.Requirement, len(fixtures))
	for i, s := range fixtures {
		rows[i] = domain.Requirement{
			Line:                i + 1,
			EventLabel:          s.event,
			UniqueID:            s.uid,
			ParentUID:           s.parent,
			Lineage:             "New",
			SpecimenClass:       "Fluid",
			SpecimenType:        s.kind,
			CollectionContainer: "Not Specified",
			InitialQuantity:     "1",
		}
	}
	return rows
}

// sequential builds n rows of one kind for event with uids prefix1..prefixN.
func sequential(event, kind, prefix string, n int) []fixture {
	out := make([]fixture, n)
	for i := range out {
		out[i] = fixture{event: event, kind: kind, uid: prefix + strconv.Itoa(i+1)}
	}
	return out
}

func codesOf(rows []domain.CodedRequirement) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r.Code
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func keyOf(kind string) domain.Key {
	return domain.DefaultKeyPolicy().Key(buildRows(fixture{kind: kind})[0])
}
