package table

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"srcode/pkg/domain"
)

const sampleCSV = "\ufeffEvent Label , Unique ID,Parent UID,Lineage,Specimen Class,Specimen Type,Collection Container,Initial Quantity\n" +
	"Visit 1,1,,New,Fluid,Plasma,EDTA,2\n" +
	"Visit 1,2,1,Aliquot,Fluid,Plasma\n" +
	",,,,,,,\n" +
	"Visit 2,3,,New,Fluid,Serum,SST,1\n"

func TestRead_NormalizesHeaderAndPadsRecords(t *testing.T) {
	tbl, err := Read(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if tbl.Header[0] != domain.ColumnEventLabel || tbl.Header[1] != domain.ColumnUniqueID {
		t.Fatalf("header = %q", tbl.Header)
	}
	if tbl.Len() != 3 {
		t.Fatalf("records = %d, want blank row skipped", tbl.Len())
	}
	if got := tbl.Records[1]; len(got) != 8 || got[6] != "" || got[7] != "" {
		t.Fatalf("short record not padded: %q", got)
	}
}

func TestRead_EmptyInput(t *testing.T) {
	if _, err := Read(strings.NewReader("")); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestRequirements(t *testing.T) {
	tbl, err := Read(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	rows, err := tbl.Requirements(domain.DefaultKeyPolicy())
	if err != nil {
		t.Fatalf("requirements: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d", len(rows))
	}
	r := rows[0]
	if r.Line != 2 || r.EventLabel != "Visit 1" || r.SpecimenType != "Plasma" || r.InitialQuantity != "2" {
		t.Fatalf("row 0 = %+v", r)
	}
	if rows[1].ParentUID != "1" || rows[1].InitialQuantity != "" {
		t.Fatalf("row 1 = %+v", rows[1])
	}

	noQty, err := tbl.Requirements(domain.KeyPolicy{IncludeQuantity: false})
	if err != nil {
		t.Fatalf("requirements: %v", err)
	}
	if noQty[0].InitialQuantity != "" {
		t.Fatalf("quantity read although excluded from key: %+v", noQty[0])
	}
}

func TestRequirements_LinesFollowSource(t *testing.T) {
	in := "Event Label,Unique ID,Parent UID,Lineage,Specimen Class,Specimen Type,Collection Container,Initial Quantity\n" +
		"Visit 1,1,,New,Fluid,Plasma,\"EDTA\nlavender top\",2\n" +
		"\n" +
		"Visit 2,2,,New,Fluid,Serum,SST,1\n"
	tbl, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	rows, err := tbl.Requirements(domain.DefaultKeyPolicy())
	if err != nil {
		t.Fatalf("requirements: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].Line != 2 || rows[1].Line != 5 {
		t.Fatalf("lines = %d, %d; want 2, 5", rows[0].Line, rows[1].Line)
	}
	if tbl.Clone().Line(1) != 5 {
		t.Fatalf("clone dropped line numbers")
	}
}

func TestRequirements_QuantityColumnOptional(t *testing.T) {
	tbl := &Table{
		Header:  []string{"Event Label", "Unique ID", "Parent UID", "Lineage", "Specimen Class", "Specimen Type", "Collection Container"},
		Records: [][]string{{"E", "1", "", "New", "Fluid", "Plasma", "EDTA"}},
	}
	rows, err := tbl.Requirements(domain.DefaultKeyPolicy())
	if err != nil {
		t.Fatalf("requirements: %v", err)
	}
	if rows[0].InitialQuantity != "" {
		t.Fatalf("quantity = %q", rows[0].InitialQuantity)
	}
}

func TestRequirements_MissingColumns(t *testing.T) {
	tbl := &Table{Header: []string{"Event Label", "Lineage"}}
	_, err := tbl.Requirements(domain.DefaultKeyPolicy())
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
	var mce MissingColumnError
	if !errors.As(err, &mce) || len(mce.Columns) != 5 {
		t.Fatalf("missing columns = %+v", mce)
	}
	if !strings.Contains(err.Error(), "Unique ID") {
		t.Fatalf("error text %q", err)
	}
}

func TestAnnotate(t *testing.T) {
	tbl, err := Read(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	coded := []domain.CodedRequirement{{Code: 1}, {Code: 2, ParentCode: 1}, {}}
	out, err := tbl.Annotate(coded)
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if tbl.Column(domain.ColumnCode) >= 0 {
		t.Fatalf("annotate mutated input header")
	}
	code, parent := out.Column(domain.ColumnCode), out.Column(domain.ColumnParentCode)
	if code != 8 || parent != 9 {
		t.Fatalf("columns at %d,%d", code, parent)
	}
	if out.Records[1][code] != "2" || out.Records[1][parent] != "1" || out.Records[2][code] != "" {
		t.Fatalf("records = %q", out.Records)
	}

	// re-annotating overwrites instead of appending
	again, err := out.Annotate([]domain.CodedRequirement{{Code: 5}, {}, {}})
	if err != nil {
		t.Fatalf("annotate again: %v", err)
	}
	if len(again.Header) != len(out.Header) || again.Records[0][code] != "5" || again.Records[0][parent] != "" {
		t.Fatalf("overwrite failed: %q %q", again.Header, again.Records[0])
	}

	if _, err := tbl.Annotate(coded[:1]); err == nil {
		t.Fatalf("expected length mismatch error")
	}
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	tbl := &Table{Header: []string{"a", "b"}, Records: [][]string{{"1", "x,y"}, {"2", ""}}}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, tbl); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := buf.String(); got != "a,b\n1,\"x,y\"\n2,\n" {
		t.Fatalf("csv = %q", got)
	}
}

func TestXLSX_RoundTrip(t *testing.T) {
	tbl := &Table{
		Header:  []string{"Event Label", "Code"},
		Records: [][]string{{"Visit 1", "1"}, {"Visit 2", ""}, {"Visit 3", "3"}},
	}
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, tbl, ""); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}
	back, err := ReadXLSX(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("read xlsx: %v", err)
	}
	if len(back.Header) != 2 || back.Header[1] != "Code" || back.Len() != 3 {
		t.Fatalf("table = %+v", back)
	}
	if back.Records[1][1] != "" || back.Records[2][1] != "3" {
		t.Fatalf("records = %q", back.Records)
	}
}

func TestReadXLSX_Garbage(t *testing.T) {
	if _, err := ReadXLSX(strings.NewReader("not a workbook")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestReadXLSX_FormattedNumberKeepsRawValue(t *testing.T) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	numFmt := "0.00"
	style, err := f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
	if err != nil {
		t.Fatalf("style: %v", err)
	}
	for cell, v := range map[string]string{"A1": "Event Label", "B1": "Initial Quantity", "A2": "Visit 1"} {
		if err := f.SetCellValue("Sheet1", cell, v); err != nil {
			t.Fatalf("set %s: %v", cell, err)
		}
	}
	if err := f.SetCellFloat("Sheet1", "B2", 1.5, -1, 64); err != nil {
		t.Fatalf("set float: %v", err)
	}
	if err := f.SetCellStyle("Sheet1", "B2", "B2", style); err != nil {
		t.Fatalf("set style: %v", err)
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	tbl, err := ReadXLSX(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("read xlsx: %v", err)
	}
	if got := tbl.Records[0][1]; got != "1.5" {
		t.Fatalf("quantity = %q, want raw 1.5", got)
	}

	// Text that looks formatted stays text.
	var out bytes.Buffer
	if err := WriteXLSX(&out, &Table{Header: []string{"Initial Quantity"}, Records: [][]string{{"1.50"}}}, ""); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}
	back, err := ReadXLSX(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("read xlsx: %v", err)
	}
	if got := back.Records[0][0]; got != "1.50" {
		t.Fatalf("quantity = %q, want 1.50", got)
	}
}
