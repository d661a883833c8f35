package core

import "srcode/pkg/domain"

// Allocate scans rows event by event and builds the Code Map.
//
// Events are processed in the order their labels first appear. Within an
// event each key keeps an occurrence counter: an occurrence covered by the
// key's existing sequence reuses that position, an occurrence beyond it mints a
// new code for the key, and a key never seen before mints into a sequence
// staged for the event and merged once the event ends. The first event is the
// degenerate case where every key is new.
func Allocate(rows []domain.Requirement, opts Options) (*CodeMap, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyTable
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	events, err := groupEvents(rows, opts.Grouping)
	if err != nil {
		return nil, err
	}

	policy := opts.KeyPolicy()
	codes := newCodeMap()
	for _, ev := range events {
		seen := make(map[domain.Key]int)
		staged := make(map[domain.Key][]int)
		var stagedOrder []domain.Key

		for _, idx := range ev.rows {
			key := policy.Key(rows[idx])
			seq, known := codes.lookup(key)
			switch {
			case known && seen[key] < len(seq):
				seen[key]++
			case known:
				codes.appendCode(key, codes.mint())
				seen[key]++
			default:
				if _, ok := staged[key]; !ok {
					stagedOrder = append(stagedOrder, key)
				}
				staged[key] = append(staged[key], codes.mint())
			}
		}

		for _, key := range stagedOrder {
			for _, code := range staged[key] {
				codes.appendCode(key, code)
			}
		}
	}
	return codes, nil
}
