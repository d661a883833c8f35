package core

import "srcode/pkg/domain"

// CodeMap maps each composite identity key to the ordered codes reserved for
// its occurrences: the n-th code belongs to the n-th occurrence of the key
// within any single event. Sequences only grow.
type CodeMap struct {
	seqs  map[domain.Key][]int
	order []domain.Key
	last  int
}

func newCodeMap() *CodeMap {
	return &CodeMap{seqs: make(map[domain.Key][]int)}
}

// mint returns the next unused code.
func (m *CodeMap) mint() int {
	m.last++
	return m.last
}

func (m *CodeMap) appendCode(key domain.Key, code int) {
	if _, ok := m.seqs[key]; !ok {
		m.order = append(m.order, key)
	}
	m.seqs[key] = append(m.seqs[key], code)
}

// lookup returns the live sequence for key without copying.
func (m *CodeMap) lookup(key domain.Key) ([]int, bool) {
	seq, ok := m.seqs[key]
	return seq, ok
}

// Codes returns a copy of the code sequence reserved for key.
func (m *CodeMap) Codes(key domain.Key) ([]int, bool) {
	seq, ok := m.seqs[key]
	if !ok {
		return nil, false
	}
	out := make([]int, len(seq))
	copy(out, seq)
	return out, true
}

// Keys returns the keys in the order their first code was allocated.
func (m *CodeMap) Keys() []domain.Key {
	out := make([]domain.Key, len(m.order))
	copy(out, m.order)
	return out
}

// Len returns the number of distinct keys.
func (m *CodeMap) Len() int { return len(m.seqs) }

// Allocations returns the number of codes minted, which is also the highest code.
func (m *CodeMap) Allocations() int { return m.last }
