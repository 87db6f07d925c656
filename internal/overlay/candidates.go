package overlay

import (
	"math/big"

	"github.com/epiring/epiring/internal/ring"
)

// CandidateEntry is a known peer considered for querying within one lookup
// path. Liveness is tracked by the lookup's oracle, not here; the entry only
// remembers whether this path already queried the peer.
type CandidateEntry struct {
	Handle      NodeHandle
	AlreadyUsed bool
}

// CandidateSet is a bounded pool of candidate entries kept sorted by
// clockwise distance from the lookup target, nearest first, the same metric
// the succeeding/preceding boundary scans use. The target's owner is its
// successor, so the owner is always ranked first and can never be evicted by
// farther candidates. Entries are appended from responses and never removed,
// only flagged; when the pool overflows its capacity the farthest tail
// entries are dropped at insertion time.
type CandidateSet struct {
	target   *big.Int
	capacity int
	entries  []CandidateEntry
}

// NewCandidateSet creates an empty pool bounded to capacity entries.
func NewCandidateSet(target *big.Int, capacity int) *CandidateSet {
	if capacity < 1 {
		capacity = 1
	}
	return &CandidateSet{
		target:   new(big.Int).Set(target),
		capacity: capacity,
		entries:  make([]CandidateEntry, 0, capacity),
	}
}

// Add inserts a handle at its sorted position. Unspecified handles and
// duplicates are ignored. Returns true if the set changed.
func (s *CandidateSet) Add(h NodeHandle) bool {
	if h.IsUnspecified() {
		return false
	}
	if s.Contains(h) {
		return false
	}

	dist := ring.Distance(s.target, h.Key)
	pos := len(s.entries)
	for i := range s.entries {
		if dist.Cmp(ring.Distance(s.target, s.entries[i].Handle.Key)) < 0 {
			pos = i
			break
		}
	}

	if pos >= s.capacity {
		// Farther than every retained entry of a full pool
		return false
	}

	s.entries = append(s.entries, CandidateEntry{})
	copy(s.entries[pos+1:], s.entries[pos:])
	s.entries[pos] = CandidateEntry{Handle: h.Copy()}

	if len(s.entries) > s.capacity {
		s.entries = s.entries[:s.capacity]
	}
	return true
}

// AddAll inserts every handle in the list.
func (s *CandidateSet) AddAll(handles []NodeHandle) {
	for _, h := range handles {
		s.Add(h)
	}
}

// Contains reports whether a handle with the same key is already pooled.
func (s *CandidateSet) Contains(h NodeHandle) bool {
	for i := range s.entries {
		if s.entries[i].Handle.Equals(h) {
			return true
		}
	}
	return false
}

// MarkUsed flags the entry for the given handle as queried by this path.
func (s *CandidateSet) MarkUsed(h NodeHandle) {
	for i := range s.entries {
		if s.entries[i].Handle.Equals(h) {
			s.entries[i].AlreadyUsed = true
			return
		}
	}
}

// Len returns the number of pooled entries.
func (s *CandidateSet) Len() int {
	return len(s.entries)
}

// At returns a pointer to the i-th entry in proximity order.
func (s *CandidateSet) At(i int) *CandidateEntry {
	return &s.entries[i]
}

// Handles returns a copy of all pooled handles in proximity order.
func (s *CandidateSet) Handles() []NodeHandle {
	out := make([]NodeHandle, len(s.entries))
	for i := range s.entries {
		out[i] = s.entries[i].Handle.Copy()
	}
	return out
}
