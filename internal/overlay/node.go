package overlay

import (
	"math/big"
	"sync"

	"github.com/epiring/epiring/internal/ring"
	"github.com/epiring/epiring/pkg"
)

// Node is the local node's view of the ring: its own handle, its current
// predecessor and successors, and the soft-state neighbor cache. It answers
// inbound FindNode queries and consumes stale-span repair hints; the lookup
// core only ever reads point-in-time snapshots of it.
type Node struct {
	handle NodeHandle
	cache  *NeighborCache
	logger *pkg.Logger

	mu          sync.RWMutex
	predecessor NodeHandle
	successors  []NodeHandle
}

// NewNode creates a local node view.
func NewNode(handle NodeHandle, cacheSize int, logger *pkg.Logger) *Node {
	return &Node{
		handle: handle,
		cache:  NewNeighborCache(handle, cacheSize),
		logger: logger.WithFields(pkg.Fields{"component": "node", "node_key": truncateHex(handle.KeyHex(), 8)}),
	}
}

// Handle returns the local node's own handle.
func (n *Node) Handle() NodeHandle {
	return n.handle.Copy()
}

// Cache exposes the neighbor cache.
func (n *Node) Cache() *NeighborCache {
	return n.cache
}

// Snapshot captures the current predecessor and first successor. Lookup
// paths are seeded from this snapshot once, at creation, and never re-read
// the live pointers.
func (n *Node) Snapshot() PathSeed {
	n.mu.RLock()
	defer n.mu.RUnlock()

	succ := UnspecifiedHandle
	if len(n.successors) > 0 {
		succ = n.successors[0].Copy()
	}

	return PathSeed{
		Local:       n.handle.Copy(),
		Predecessor: n.predecessor.Copy(),
		Successor:   succ,
	}
}

// SetPredecessor updates the predecessor pointer.
func (n *Node) SetPredecessor(h NodeHandle) {
	n.mu.Lock()
	n.predecessor = h.Copy()
	n.mu.Unlock()

	n.logger.Debug().
		Str("predecessor", truncateHex(h.KeyHex(), 8)).
		Msg("Predecessor updated")
}

// SetSuccessors replaces the successor list.
func (n *Node) SetSuccessors(list []NodeHandle) {
	copied := make([]NodeHandle, 0, len(list))
	for _, h := range list {
		if !h.IsUnspecified() {
			copied = append(copied, h.Copy())
		}
	}

	n.mu.Lock()
	n.successors = copied
	n.mu.Unlock()
}

// Learn records an observed peer in the neighbor cache.
func (n *Node) Learn(h NodeHandle) {
	if n.cache.Add(h) {
		n.logger.Debug().
			Str("peer", truncateHex(h.KeyHex(), 8)).
			Str("addr", h.Address()).
			Msg("Learned peer")
	}
}

// Responsible reports whether this node owns the key: the key lies in
// (predecessor, self]. With no predecessor the node assumes ownership.
func (n *Node) Responsible(key *big.Int) bool {
	n.mu.RLock()
	pred := n.predecessor
	n.mu.RUnlock()

	if pred.IsUnspecified() {
		return true
	}
	return ring.InRange(key, pred.Key, n.handle.Key)
}

// HandleFindNode answers a peer's query about the neighborhood of a target.
// A responsibility claim lists this node at position 0, its predecessor at
// position 1, and its successor at position 2; otherwise the reply holds the
// closest cached candidates, nearest first, never including this node.
func (n *Node) HandleFindNode(req *FindNodeRequest) *FindNodeResponse {
	if req.Target == nil {
		return &FindNodeResponse{Source: n.Handle()}
	}

	if n.Responsible(req.Target) {
		seed := n.Snapshot()
		return &FindNodeResponse{
			Source:  n.Handle(),
			Closest: []NodeHandle{seed.Local, seed.Predecessor, seed.Successor},
		}
	}

	fanout := req.Fanout
	if fanout <= 0 {
		fanout = 1
	}

	closest := n.cache.Closest(req.Target, 0)
	if req.Variant == VariantExclusiveIterative && len(req.Exclude) > 0 {
		closest = excludeHandles(closest, req.Exclude)
	}
	if len(closest) > fanout {
		closest = closest[:fanout]
	}

	return &FindNodeResponse{
		Source:  n.Handle(),
		Closest: closest,
	}
}

// HandleStaleSpan consumes a repair hint: the listed nodes between pred and
// succ are dead, so drop them from the cache. When this node is one of the
// span boundaries its own pointer is stale and gets cleared for the next
// stabilization round to repair.
func (n *Node) HandleStaleSpan(pred, succ NodeHandle, dead []NodeHandle) {
	for _, h := range dead {
		n.cache.Remove(h)
	}

	n.mu.Lock()
	if n.handle.Equals(pred) {
		// Our successor pointer walked into a dead span.
		for _, h := range dead {
			n.dropSuccessorLocked(h)
		}
	}
	if n.handle.Equals(succ) && containsHandle(dead, n.predecessor) {
		n.predecessor = UnspecifiedHandle
	}
	n.mu.Unlock()

	n.logger.Info().
		Str("pred", truncateHex(pred.KeyHex(), 8)).
		Str("succ", truncateHex(succ.KeyHex(), 8)).
		Int("dead_nodes", len(dead)).
		Msg("Stale span notice applied")
}

// dropSuccessorLocked removes h from the successor list. Caller holds the lock.
func (n *Node) dropSuccessorLocked(h NodeHandle) {
	kept := n.successors[:0]
	for _, s := range n.successors {
		if !s.Equals(h) {
			kept = append(kept, s)
		}
	}
	n.successors = kept
}

// SeedCandidates returns the initial query candidates for a lookup: the
// closest cached peers plus the current neighbor pointers.
func (n *Node) SeedCandidates(target *big.Int, count int) []NodeHandle {
	seeds := n.cache.Closest(target, count)

	snap := n.Snapshot()
	if !snap.Predecessor.IsUnspecified() && !containsHandle(seeds, snap.Predecessor) {
		seeds = append(seeds, snap.Predecessor)
	}
	if !snap.Successor.IsUnspecified() && !containsHandle(seeds, snap.Successor) {
		seeds = append(seeds, snap.Successor)
	}

	return seeds
}

func containsHandle(list []NodeHandle, h NodeHandle) bool {
	for _, x := range list {
		if x.Equals(h) {
			return true
		}
	}
	return false
}

func excludeHandles(list, exclude []NodeHandle) []NodeHandle {
	kept := make([]NodeHandle, 0, len(list))
	for _, h := range list {
		if !containsHandle(exclude, h) {
			kept = append(kept, h)
		}
	}
	return kept
}
