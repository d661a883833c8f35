package core

import "srcode/pkg/domain"

// event is one collection event: its label and the positions of its rows in
// input order.
type event struct {
	label string
	rows  []int
}

// groupEvents gathers row positions by event label in first-seen order. Under
// GroupingContiguous a label that reappears after another label started is
// rejected.
func groupEvents(rows []domain.Requirement, grouping Grouping) ([]event, error) {
	var events []event
	byLabel := make(map[string]int)
	for i, r := range rows {
		pos, seen := byLabel[r.EventLabel]
		if !seen {
			byLabel[r.EventLabel] = len(events)
			events = append(events, event{label: r.EventLabel, rows: []int{i}})
			continue
		}
		if grouping == GroupingContiguous && rows[i-1].EventLabel != r.EventLabel {
			return nil, &InterleavedEventError{EventLabel: r.EventLabel, Line: r.Line}
		}
		events[pos].rows = append(events[pos].rows, i)
	}
	return events, nil
}
