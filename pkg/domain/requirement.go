// Package domain defines the specimen requirement records exchanged between the
// coding core and the table collaborators.
package domain

import "strings"

// Column names of a specimen requirement export.
const (
	ColumnEventLabel          = "Event Label"
	ColumnLineage             = "Lineage"
	ColumnSpecimenClass       = "Specimen Class"
	ColumnSpecimenType        = "Specimen Type"
	ColumnCollectionContainer = "Collection Container"
	ColumnInitialQuantity     = "Initial Quantity"
	ColumnUniqueID            = "Unique ID"
	ColumnParentUID           = "Parent UID"
	ColumnCode                = "Code"
	ColumnParentCode          = "Parent Code"
)

// KeySeparator joins identity fields inside a composite key.
const KeySeparator = "_"

// Requirement is one specimen requirement row. Every value is kept as the raw
// string read from the source; missing values are empty strings.
type Requirement struct {
	// Line is the 1-based data line in the source table, used in diagnostics.
	Line int

	EventLabel          string
	UniqueID            string
	ParentUID           string
	Lineage             string
	SpecimenClass       string
	SpecimenType        string
	CollectionContainer string
	InitialQuantity     string
}

// CodedRequirement is a requirement annotated with its Code and Parent Code.
// Codes are positive integers, so zero means the value is absent.
type CodedRequirement struct {
	Requirement
	Code       int
	ParentCode int
}

// HasCode reports whether a Code was assigned.
func (r CodedRequirement) HasCode() bool { return r.Code > 0 }

// HasParentCode reports whether the parent reference resolved to a Code.
func (r CodedRequirement) HasParentCode() bool { return r.ParentCode > 0 }

// Key is the composite identity key of a requirement. Two requirements describe
// the same kind of specimen iff their keys are equal.
type Key string

// KeyPolicy controls which fields take part in the composite identity key.
type KeyPolicy struct {
	IncludeQuantity bool
}

// DefaultKeyPolicy includes the initial quantity in the key.
func DefaultKeyPolicy() KeyPolicy { return KeyPolicy{IncludeQuantity: true} }

// Key builds the composite identity key for r. Field order is lineage, class,
// type, quantity (when included) and container.
func (p KeyPolicy) Key(r Requirement) Key {
	parts := make([]string, 0, 5)
	parts = append(parts, r.Lineage, r.SpecimenClass, r.SpecimenType)
	if p.IncludeQuantity {
		parts = append(parts, r.InitialQuantity)
	}
	parts = append(parts, r.CollectionContainer)
	return Key(strings.Join(parts, KeySeparator))
}

// RequiredColumns lists the columns a requirement table must carry. Initial
// Quantity is optional: a table without it reads the quantity as empty.
func RequiredColumns() []string {
	return []string{
		ColumnEventLabel,
		ColumnLineage,
		ColumnSpecimenClass,
		ColumnSpecimenType,
		ColumnCollectionContainer,
		ColumnUniqueID,
		ColumnParentUID,
	}
}
