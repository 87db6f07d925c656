package overlay

import "sync"

// LivenessOracle answers what a lookup has learned about peers so far:
// whether a peer has responded at least once, and whether it is considered
// dead. It is populated externally from RPC outcomes.
type LivenessOracle interface {
	IsVisited(h NodeHandle) bool
	IsDead(h NodeHandle) bool
}

// LivenessTable is the default oracle: per-lookup visited/dead sets shared by
// all redundant paths of one lookup. Paths run on separate goroutines, so
// access is synchronized here rather than in the paths.
type LivenessTable struct {
	mu      sync.RWMutex
	visited map[string]struct{}
	dead    map[string]struct{}
}

// NewLivenessTable creates an empty table.
func NewLivenessTable() *LivenessTable {
	return &LivenessTable{
		visited: make(map[string]struct{}),
		dead:    make(map[string]struct{}),
	}
}

// MarkVisited records that the peer answered an RPC.
func (t *LivenessTable) MarkVisited(h NodeHandle) {
	if h.IsUnspecified() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visited[h.KeyHex()] = struct{}{}
}

// MarkDead records that an RPC to the peer timed out.
func (t *LivenessTable) MarkDead(h NodeHandle) {
	if h.IsUnspecified() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dead[h.KeyHex()] = struct{}{}
}

// IsVisited reports whether the peer has responded at least once.
func (t *LivenessTable) IsVisited(h NodeHandle) bool {
	if h.IsUnspecified() {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.visited[h.KeyHex()]
	return ok
}

// IsDead reports whether the peer is considered dead.
func (t *LivenessTable) IsDead(h NodeHandle) bool {
	if h.IsUnspecified() {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.dead[h.KeyHex()]
	return ok
}
