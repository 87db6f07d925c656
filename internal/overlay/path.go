package overlay

import (
	"github.com/epiring/epiring/internal/ring"
)

// Positions in a responsibility-claiming reply: the responder lists itself
// first, then its predecessor, then its successor.
const (
	replySelf        = 0
	replyPredecessor = 1
	replySuccessor   = 2
)

// epichordStrategy is the EpiChord-specific path behavior: it tracks the
// tightest predecessor/successor bounds around the target seen among
// responders and, because the routing caches feeding the lookup are
// soft-state, checks after every event whether an apparent miss is a false
// negative caused by stale pointers.
type epichordStrategy struct {
	path *PathLookup

	// Tightest bounds around the target among visited responders, plus the
	// neighbor each boundary node reported on the target side.
	bestPredecessor           NodeHandle
	bestPredecessorsSuccessor NodeHandle
	bestSuccessor             NodeHandle
	bestSuccessorsPredecessor NodeHandle

	// Dead-blocker evidence arms a provisional success that commits when the
	// path finishes by another cause. committed guards the one-shot side
	// effects (notification, sibling registration).
	armed     bool
	committed bool
}

// newEpiChordStrategy seeds the boundary state from the local node's
// point-in-time snapshot: the local node bounds the target on both sides
// until responses tighten the arc.
func newEpiChordStrategy(p *PathLookup, seed PathSeed) *epichordStrategy {
	return &epichordStrategy{
		path:                      p,
		bestPredecessor:           seed.Local,
		bestPredecessorsSuccessor: seed.Successor,
		bestSuccessor:             seed.Local,
		bestSuccessorsPredecessor: seed.Predecessor,
	}
}

// OnResponse tightens the boundary state from the responding node before the
// generic processing runs.
func (s *epichordStrategy) OnResponse(rsp *FindNodeResponse) {
	src := rsp.Source
	if src.IsUnspecified() || len(rsp.Closest) == 0 {
		return
	}

	target := s.path.target()

	// ---- (best predecessor) ---- (source) ---- (target) ----
	if ring.Between(src.Key, s.bestPredecessor.Key, target) {
		s.bestPredecessor = src
		// A responder that believes itself responsible lists its successor
		// at position 2; otherwise position 0 is its best candidate.
		if rsp.Closest[replySelf].Equals(src) {
			s.bestPredecessorsSuccessor = at(rsp.Closest, replySuccessor)
		} else {
			s.bestPredecessorsSuccessor = rsp.Closest[replySelf]
		}
		return
	}

	// ---- (target) ---- (source) ---- (best successor) ----
	if ring.Between(src.Key, target, s.bestSuccessor.Key) {
		s.bestSuccessor = src
		// The self-responsible responder lists its predecessor at position 1.
		if rsp.Closest[replySelf].Equals(src) {
			s.bestSuccessorsPredecessor = at(rsp.Closest, replyPredecessor)
		} else {
			s.bestSuccessorsPredecessor = rsp.Closest[replySelf]
		}
	}
}

// OnTimeout has no EpiChord-specific pre-processing; the false-negative
// check after the generic handling covers the timeout case.
func (s *epichordStrategy) OnTimeout(dest NodeHandle) {}

// PostEvent runs the false-negative check after every response, timeout, or
// exhaustion.
func (s *epichordStrategy) PostEvent() {
	s.checkFalseNegative()
}

// SelectNext prefers the closest live, not-yet-used candidate strictly after
// the target, since the target's owner is its successor. When no such
// candidate exists the generic rule applies.
func (s *epichordStrategy) SelectNext() (NodeHandle, bool) {
	if e := s.path.SucceedingEntry(false, false); e != nil {
		return e.Handle, true
	}
	return UnspecifiedHandle, false
}

// checkFalseNegative decides whether a lookup that found no owner actually
// missed a live one because of stale cached pointers.
//
// Two independent signals are evaluated over the tightest visited bounds:
//
//   - Direct contradiction: a boundary node reports the opposite boundary as
//     its direct neighbor. The gap between them was live all along, so the
//     path can terminate successfully right away.
//   - Dead blocker: both boundary nodes point at dead nodes inside the gap.
//     That alone does not prove no live node hides between them, so success
//     is provisional and commits only once the path finishes by another
//     cause.
//
// Degraded information never forces a conclusion: missing or unvisited
// boundary candidates simply make the check decline to act.
func (s *epichordStrategy) checkFalseNegative() {
	p := s.path

	if p.success {
		// A provisional dead-blocker success commits when the path has since
		// finished; detection itself has nothing left to do.
		if s.armed && p.finished && !s.committed {
			s.commit()
		}
		return
	}

	// Closest surrounding nodes over the full pool, used or not. Dead
	// entries are skipped: they can never satisfy the visited requirement
	// and would only mask the live boundaries behind them.
	preceding := p.PrecedingEntry(false, true)
	succeeding := p.SucceedingEntry(false, true)

	if preceding == nil || succeeding == nil {
		return
	}

	// Conclusions require confirmed data from the closest surrounding nodes.
	if !p.oracle().IsVisited(preceding.Handle) || !p.oracle().IsVisited(succeeding.Handle) {
		return
	}

	directContradiction := s.bestSuccessor.Equals(s.bestPredecessorsSuccessor) ||
		s.bestPredecessor.Equals(s.bestSuccessorsPredecessor)

	deadBlockers := p.oracle().IsDead(s.bestPredecessorsSuccessor) &&
		p.oracle().IsDead(s.bestSuccessorsPredecessor)

	switch {
	case directContradiction:
		// One of the two boundary nodes holds an outdated neighbor pointer.
		p.success = true
		s.commit()

	case deadBlockers:
		p.success = true
		s.armed = true
		if p.finished {
			s.commit()
		}
	}
}

// commit finalizes a detected false negative: hint the boundary nodes about
// the dead span between them, register the best successor as a sibling, and
// terminate the path. Runs at most once per path.
func (s *epichordStrategy) commit() {
	p := s.path
	s.committed = true

	var deadNodes []NodeHandle
	for i := 0; i < p.candidates.Len(); i++ {
		if h := p.candidates.At(i).Handle; p.oracle().IsDead(h) {
			deadNodes = append(deadNodes, h.Copy())
		}
	}

	// Dead nodes sit between the two best options; alert their neighbors.
	if len(deadNodes) > 0 {
		p.lookup.notifyStaleSpan(s.bestPredecessor, s.bestSuccessor, deadNodes)
	}

	p.lookup.addSibling(s.bestSuccessor)
	p.lookup.recordFalseNegative()

	p.finished = true
	p.success = true
}

// at returns list[i], or the unspecified sentinel when i is out of range.
func at(list []NodeHandle, i int) NodeHandle {
	if i < 0 || i >= len(list) {
		return UnspecifiedHandle
	}
	return list[i]
}
