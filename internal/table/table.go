// Package table reads and writes the tabular specimen requirement exports
// (CSV and XLSX) and maps them to and from the domain rows.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"srcode/pkg/domain"
)

// ErrMissingColumn is wrapped by MissingColumnError.
var ErrMissingColumn = errors.New("table: missing required column")

// MissingColumnError lists every required column absent from a header.
type MissingColumnError struct {
	Columns []string
}

func (e MissingColumnError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMissingColumn, strings.Join(e.Columns, ", "))
}

func (e MissingColumnError) Unwrap() error { return ErrMissingColumn }

// Table is a header plus string records. Every record has len(Header) cells.
type Table struct {
	Header  []string
	Records [][]string
	// Lines holds the 1-based source line of each record. Nil means records
	// follow the header without gaps.
	Lines []int
}

// Len returns the number of records.
func (t *Table) Len() int { return len(t.Records) }

// Column returns the index of name in the header or -1.
func (t *Table) Column(name string) int {
	return slices.Index(t.Header, name)
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := &Table{Header: slices.Clone(t.Header), Records: make([][]string, len(t.Records)), Lines: slices.Clone(t.Lines)}
	for i, rec := range t.Records {
		out.Records[i] = slices.Clone(rec)
	}
	return out
}

// Read parses a CSV export. The first record is the header; a UTF-8 BOM and
// surrounding whitespace are stripped from header cells. Short records are
// padded with empty cells and fully blank records are skipped.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	t := &Table{Header: normalizeHeader(header)}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record %d: %w", len(t.Records)+2, err)
		}
		if blank(rec) {
			continue
		}
		line, _ := cr.FieldPos(0)
		t.Records = append(t.Records, t.fit(rec))
		t.Lines = append(t.Lines, line)
	}
	return t, nil
}

// Line returns the source line of record i.
func (t *Table) Line(i int) int {
	if i < len(t.Lines) {
		return t.Lines[i]
	}
	return i + 2
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		out[i] = strings.TrimSpace(h)
	}
	return out
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// fit pads or trims rec to the header width.
func (t *Table) fit(rec []string) []string {
	out := make([]string, len(t.Header))
	copy(out, rec)
	return out
}

// Requirements maps the records to domain rows. Initial Quantity is only
// looked up when the key policy includes it and reads as "" when absent.
func (t *Table) Requirements(policy domain.KeyPolicy) ([]domain.Requirement, error) {
	idx := make(map[string]int)
	var missing []string
	for _, col := range domain.RequiredColumns() {
		i := t.Column(col)
		if i < 0 {
			missing = append(missing, col)
			continue
		}
		idx[col] = i
	}
	if len(missing) > 0 {
		return nil, MissingColumnError{Columns: missing}
	}
	qty := -1
	if policy.IncludeQuantity {
		qty = t.Column(domain.ColumnInitialQuantity)
	}

	rows := make([]domain.Requirement, len(t.Records))
	for i, rec := range t.Records {
		rows[i] = domain.Requirement{
			Line:                t.Line(i),
			EventLabel:          rec[idx[domain.ColumnEventLabel]],
			UniqueID:            rec[idx[domain.ColumnUniqueID]],
			ParentUID:           rec[idx[domain.ColumnParentUID]],
			Lineage:             rec[idx[domain.ColumnLineage]],
			SpecimenClass:       rec[idx[domain.ColumnSpecimenClass]],
			SpecimenType:        rec[idx[domain.ColumnSpecimenType]],
			CollectionContainer: rec[idx[domain.ColumnCollectionContainer]],
		}
		if qty >= 0 {
			rows[i].InitialQuantity = rec[qty]
		}
	}
	return rows, nil
}

// Annotate returns a copy of t with Code and Parent Code columns set from
// rows, appending the columns when the header lacks them. Absent codes are
// written as empty cells.
func (t *Table) Annotate(rows []domain.CodedRequirement) (*Table, error) {
	if len(rows) != len(t.Records) {
		return nil, fmt.Errorf("annotate: %d coded rows for %d records", len(rows), len(t.Records))
	}
	out := t.Clone()
	codeCol := out.ensureColumn(domain.ColumnCode)
	parentCol := out.ensureColumn(domain.ColumnParentCode)
	for i, r := range rows {
		out.Records[i][codeCol] = formatCode(r.Code)
		out.Records[i][parentCol] = formatCode(r.ParentCode)
	}
	return out, nil
}

func (t *Table) ensureColumn(name string) int {
	if i := t.Column(name); i >= 0 {
		return i
	}
	t.Header = append(t.Header, name)
	for i := range t.Records {
		t.Records[i] = append(t.Records[i], "")
	}
	return len(t.Header) - 1
}

func formatCode(c int) string {
	if c <= 0 {
		return ""
	}
	return strconv.Itoa(c)
}

// WriteCSV writes the header and records as CSV.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Records); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}
