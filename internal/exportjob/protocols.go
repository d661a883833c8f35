package exportjob

import (
	"fmt"
	"io"
	"strings"

	"srcode/internal/table"
)

// Protocol columns of the protocol list file.
const (
	ColumnIdentifier = "identifier"
	ColumnShortTitle = "short_title"
)

// Protocol is one collection protocol to export.
type Protocol struct {
	Identifier string
	ShortTitle string
}

// LoadProtocols reads the protocol list CSV. Rows without an identifier are
// skipped, as are repeats of an identifier already listed; a missing short
// title falls back to the identifier.
func LoadProtocols(r io.Reader) ([]Protocol, error) {
	t, err := table.Read(r)
	if err != nil {
		return nil, fmt.Errorf("read protocol list: %w", err)
	}
	idCol, titleCol := t.Column(ColumnIdentifier), t.Column(ColumnShortTitle)
	var missing []string
	if idCol < 0 {
		missing = append(missing, ColumnIdentifier)
	}
	if titleCol < 0 {
		missing = append(missing, ColumnShortTitle)
	}
	if len(missing) > 0 {
		return nil, table.MissingColumnError{Columns: missing}
	}
	out := make([]Protocol, 0, t.Len())
	seen := make(map[string]bool, t.Len())
	for _, rec := range t.Records {
		id := strings.TrimSpace(rec[idCol])
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		title := strings.TrimSpace(rec[titleCol])
		if title == "" {
			title = id
		}
		out = append(out, Protocol{Identifier: id, ShortTitle: title})
	}
	return out, nil
}

var segment = strings.NewReplacer("/", "-", "\\", "-")

// ArchiveName returns the file name the protocol's export is stored under:
// "<short title>_<identifier>.zip", or "<identifier>.zip" when the title is
// the identifier. Path separators are replaced so the name stays one segment.
func (p Protocol) ArchiveName() string {
	id := segment.Replace(p.Identifier)
	if p.ShortTitle == "" || p.ShortTitle == p.Identifier {
		return id + ".zip"
	}
	return segment.Replace(p.ShortTitle) + "_" + id + ".zip"
}
