package overlay

import (
	"math/big"

	"github.com/epiring/epiring/internal/ring"
)

// PathStrategy augments the generic path behavior for a specific overlay
// variant. OnResponse and OnTimeout run before the generic processing of the
// event, PostEvent runs after it (including the event that exhausts the
// path), and SelectNext may claim next-candidate selection.
type PathStrategy interface {
	OnResponse(rsp *FindNodeResponse)
	OnTimeout(dest NodeHandle)
	PostEvent()
	SelectNext() (NodeHandle, bool)
}

// PathSeed is the point-in-time snapshot of the local node's position the
// path is created with. It is captured once and never re-read.
type PathSeed struct {
	Local       NodeHandle
	Predecessor NodeHandle
	Successor   NodeHandle
}

// PathLookup is one lookup path: a sequential state machine advanced by
// response and timeout events. The host dispatches one event at a time per
// instance, so the path itself holds no locks.
type PathLookup struct {
	lookup     *Lookup
	candidates *CandidateSet
	strategy   PathStrategy

	finished bool
	success  bool
	hops     int
}

// Finished reports whether the path reached a terminal state.
func (p *PathLookup) Finished() bool { return p.finished }

// Succeeded reports whether the path found an owner for the target.
func (p *PathLookup) Succeeded() bool { return p.success }

// Hops returns the number of requests this path issued.
func (p *PathLookup) Hops() int { return p.hops }

// Candidates exposes the path's candidate pool.
func (p *PathLookup) Candidates() *CandidateSet { return p.candidates }

func (p *PathLookup) target() *big.Int { return p.lookup.target }

func (p *PathLookup) oracle() LivenessOracle { return p.lookup.liveness }

// HandleResponse advances the path on an inbound response. Late responses
// for a finished path are silently discarded.
func (p *PathLookup) HandleResponse(rsp *FindNodeResponse) {
	if p.finished {
		return
	}

	if p.strategy != nil {
		p.strategy.OnResponse(rsp)
	}

	p.processResponse(rsp)

	if p.strategy != nil {
		p.strategy.PostEvent()
	}
}

// HandleTimeout advances the path when the pending request to dest expired.
// Late timeouts for a finished path are silently discarded.
func (p *PathLookup) HandleTimeout(dest NodeHandle) {
	if p.finished {
		return
	}

	if p.strategy != nil {
		p.strategy.OnTimeout(dest)
	}

	p.lookup.liveness.MarkDead(dest)

	if p.strategy != nil {
		p.strategy.PostEvent()
	}
}

// processResponse is the generic part of response handling: record the
// source as visited, pool its reported candidates, and terminate on an
// exact match or a responsibility claim.
func (p *PathLookup) processResponse(rsp *FindNodeResponse) {
	src := rsp.Source
	if src.IsUnspecified() {
		return
	}

	p.lookup.liveness.MarkVisited(src)
	p.candidates.Add(src)
	p.candidates.AddAll(rsp.Closest)

	exact := src.Key.Cmp(p.target()) == 0
	if exact || rsp.Responsible() {
		p.lookup.addSibling(src)
		p.success = true
		p.finished = true
	}
}

// NextDestination selects the next candidate to query and flags it used.
// It returns false when no live, unused candidate remains.
func (p *PathLookup) NextDestination() (NodeHandle, bool) {
	if p.finished {
		return UnspecifiedHandle, false
	}

	if p.strategy != nil {
		if h, ok := p.strategy.SelectNext(); ok {
			p.candidates.MarkUsed(h)
			p.hops++
			return h, true
		}
	}

	if e := p.genericNext(); e != nil {
		e.AlreadyUsed = true
		p.hops++
		return e.Handle, true
	}

	return UnspecifiedHandle, false
}

// genericNext is the fallback selection rule: the closest live, unused
// candidate on either side of the target, in pool proximity order.
func (p *PathLookup) genericNext() *CandidateEntry {
	for i := 0; i < p.candidates.Len(); i++ {
		e := p.candidates.At(i)
		if e.AlreadyUsed || p.oracle().IsDead(e.Handle) {
			continue
		}
		return e
	}
	return nil
}

// Exhaust terminates the path when no candidate is left to query. The
// strategy still observes the transition, so a provisionally detected false
// negative can commit on exhaustion.
func (p *PathLookup) Exhaust() {
	if p.finished {
		return
	}

	p.finished = true

	if p.strategy != nil {
		p.strategy.PostEvent()
	}
}

// PrecedingEntry scans the whole pool for the candidate of maximum clockwise
// distance before the target, i.e. the tightest known predecessor. Entries
// excluded by the filters are skipped; a candidate sitting exactly on the
// target never qualifies. Returns nil when none qualifies.
func (p *PathLookup) PrecedingEntry(includeDead, includeUsed bool) *CandidateEntry {
	var best *CandidateEntry
	maxDist := new(big.Int)

	for i := 0; i < p.candidates.Len(); i++ {
		e := p.candidates.At(i)
		if !includeDead && p.oracle().IsDead(e.Handle) {
			continue
		}
		if !includeUsed && e.AlreadyUsed {
			continue
		}

		d := ring.Distance(p.target(), e.Handle.Key)
		if d.Cmp(maxDist) <= 0 {
			continue
		}

		maxDist = d
		best = e
	}

	return best
}

// SucceedingEntry scans the whole pool for the candidate of minimum
// clockwise distance after the target, i.e. the tightest known successor.
// Returns nil when none qualifies.
func (p *PathLookup) SucceedingEntry(includeDead, includeUsed bool) *CandidateEntry {
	var best *CandidateEntry
	minDist := ring.Size()

	for i := 0; i < p.candidates.Len(); i++ {
		e := p.candidates.At(i)
		if !includeDead && p.oracle().IsDead(e.Handle) {
			continue
		}
		if !includeUsed && e.AlreadyUsed {
			continue
		}

		d := ring.Distance(p.target(), e.Handle.Key)
		if d.Cmp(minDist) >= 0 {
			continue
		}

		minDist = d
		best = e
	}

	return best
}

// usedHandles returns the handles this path has already queried, for the
// exclusive-iterative request variant.
func (p *PathLookup) usedHandles() []NodeHandle {
	var out []NodeHandle
	for i := 0; i < p.candidates.Len(); i++ {
		if e := p.candidates.At(i); e.AlreadyUsed {
			out = append(out, e.Handle.Copy())
		}
	}
	return out
}
