package overlay

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/epiring/epiring/internal/telemetry"
	"github.com/epiring/epiring/pkg"
)

// LookupConfig is the shared, read-only configuration of one lookup.
type LookupConfig struct {
	RedundantNodes int            // Number of parallel redundant paths
	PerHopTimeout  time.Duration  // Deadline for a single FindNode exchange
	Variant        RoutingVariant // Request variant sent to queried peers
	AppLookup      bool           // Application-triggered, as opposed to maintenance
}

// Result is what the coordinator hands back once every path terminated.
type Result struct {
	Siblings []NodeHandle // Replica set around the target, best successor first
	Success  bool
	Hops     int // Requests issued across all redundant paths
}

// Owner returns the first sibling, the node responsible for the target.
func (r *Result) Owner() NodeHandle {
	if len(r.Siblings) == 0 {
		return UnspecifiedHandle
	}
	return r.Siblings[0]
}

// pathFactory builds a path lookup bound to a lookup and a snapshot seed.
// Selecting the factory selects the overlay variant; there is no subclass
// hierarchy behind it.
type pathFactory func(l *Lookup, seed PathSeed, candidates []NodeHandle) *PathLookup

// newEpiChordPath is the default factory.
func newEpiChordPath(l *Lookup, seed PathSeed, candidates []NodeHandle) *PathLookup {
	p := &PathLookup{
		lookup: l,
		// EpiChord pools up to redundantNodes^2 candidates per path.
		candidates: NewCandidateSet(l.target, l.cfg.RedundantNodes*l.cfg.RedundantNodes),
	}
	p.strategy = newEpiChordStrategy(p, seed)
	p.candidates.AddAll(candidates)
	return p
}

// Coordinator owns the lookup-wide configuration and the arena of active
// lookups. Transport, notifier and the local node view outlive any single
// lookup; paths hold non-owning references to them.
type Coordinator struct {
	node      *Node
	transport Transport
	notifier  StaleSpanNotifier
	cfg       LookupConfig
	factory   pathFactory
	logger    *pkg.Logger

	mu     sync.Mutex
	nextID uint64
	active map[uint64]*Lookup
}

// NewCoordinator creates a lookup coordinator.
func NewCoordinator(node *Node, transport Transport, notifier StaleSpanNotifier, cfg LookupConfig, logger *pkg.Logger) *Coordinator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Coordinator{
		node:      node,
		transport: transport,
		notifier:  notifier,
		cfg:       cfg,
		factory:   newEpiChordPath,
		logger:    logger.WithFields(pkg.Fields{"component": "lookup"}),
		active:    make(map[uint64]*Lookup),
	}
}

// Lookup resolves the owner and replica set of a key on behalf of the
// application. It returns once every redundant path terminated; an overall
// deadline is the caller's business, via ctx.
func (c *Coordinator) Lookup(ctx context.Context, target *big.Int) (*Result, error) {
	return c.run(ctx, target, true)
}

// MaintenanceLookup resolves a key for internal maintenance traffic.
func (c *Coordinator) MaintenanceLookup(ctx context.Context, target *big.Int) (*Result, error) {
	return c.run(ctx, target, false)
}

func (c *Coordinator) run(ctx context.Context, target *big.Int, app bool) (*Result, error) {
	if target == nil {
		return nil, pkg.ErrUnspecifiedHandle
	}

	cfg := c.cfg
	cfg.AppLookup = app

	l := &Lookup{
		coord:    c,
		target:   new(big.Int).Set(target),
		cfg:      cfg,
		liveness: NewLivenessTable(),
	}

	c.mu.Lock()
	c.nextID++
	l.id = c.nextID
	c.active[l.id] = l
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.active, l.id)
		c.mu.Unlock()
	}()

	l.logger = c.logger.WithFields(pkg.Fields{
		"lookup_id": l.id,
		"target":    truncateHex(target.Text(16), 8),
	})

	telemetry.LookupsInFlight.Inc()
	defer telemetry.LookupsInFlight.Dec()
	start := time.Now()

	result := l.run(ctx)

	outcome := "failure"
	if result.Success {
		outcome = "success"
	}
	appLabel := "false"
	if app {
		appLabel = "true"
	}
	telemetry.LookupsTotal.WithLabelValues(outcome, appLabel).Inc()
	telemetry.LookupDuration.Observe(time.Since(start).Seconds())
	telemetry.LookupHops.Observe(float64(result.Hops))

	l.logger.Debug().
		Bool("success", result.Success).
		Int("hops", result.Hops).
		Int("siblings", len(result.Siblings)).
		Msg("Lookup finished")

	if err := ctx.Err(); err != nil && !result.Success {
		return result, err
	}
	return result, nil
}

// ActiveLookups returns the number of lookups currently in flight.
func (c *Coordinator) ActiveLookups() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Lookup is one logical lookup: shared read-only configuration, the shared
// liveness oracle, and the sibling result set its redundant paths feed.
type Lookup struct {
	id       uint64
	coord    *Coordinator
	target   *big.Int
	cfg      LookupConfig
	liveness *LivenessTable
	logger   *pkg.Logger

	mu       sync.Mutex
	siblings []NodeHandle
}

// run spawns the redundant paths, each seeded from the same point-in-time
// snapshot, drives them to termination, and aggregates their results.
func (l *Lookup) run(ctx context.Context) *Result {
	seed := l.coord.node.Snapshot()
	seeds := l.coord.node.SeedCandidates(l.target, l.cfg.RedundantNodes*l.cfg.RedundantNodes)

	paths := make([]*PathLookup, l.cfg.RedundantNodes)
	for i := range paths {
		paths[i] = l.coord.factory(l, seed, pickRoundRobin(seeds, i, l.cfg.RedundantNodes))
	}

	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func(p *PathLookup) {
			defer wg.Done()
			l.drive(ctx, p)
		}(p)
	}
	wg.Wait()

	hops := 0
	success := false
	for _, p := range paths {
		hops += p.Hops()
		success = success || p.Succeeded()
	}

	l.mu.Lock()
	siblings := make([]NodeHandle, len(l.siblings))
	copy(siblings, l.siblings)
	l.mu.Unlock()

	return &Result{
		Siblings: siblings,
		Success:  success && len(siblings) > 0,
		Hops:     hops,
	}
}

// drive advances one path: issue a request to its next candidate, feed the
// outcome back, repeat until the path terminates or runs out of candidates.
// Events are dispatched to the path strictly one at a time.
func (l *Lookup) drive(ctx context.Context, p *PathLookup) {
	for !p.Finished() {
		if ctx.Err() != nil {
			p.Exhaust()
			return
		}

		dest, ok := p.NextDestination()
		if !ok {
			p.Exhaust()
			return
		}

		req := &FindNodeRequest{
			Target:  l.target,
			Fanout:  l.cfg.RedundantNodes,
			Variant: l.cfg.Variant,
		}
		if l.cfg.Variant == VariantExclusiveIterative {
			req.Exclude = p.usedHandles()
		}

		hopCtx, cancel := context.WithTimeout(ctx, l.cfg.PerHopTimeout)
		rsp, err := l.coord.transport.FindNode(hopCtx, dest, req)
		cancel()

		if err != nil {
			l.logger.Debug().
				Str("dest", truncateHex(dest.KeyHex(), 8)).
				Err(err).
				Msg("FindNode failed, marking dead")
			p.HandleTimeout(dest)
			continue
		}

		// Piggyback cache population on observed lookup traffic.
		l.coord.node.Learn(rsp.Source)
		for _, h := range rsp.Closest {
			l.coord.node.Learn(h)
		}

		p.HandleResponse(rsp)
	}
}

// addSibling registers a node in the lookup's replica-set result. Duplicates
// are dropped; the set is bounded by the redundancy factor.
func (l *Lookup) addSibling(h NodeHandle) {
	if h.IsUnspecified() {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if containsHandle(l.siblings, h) || len(l.siblings) >= l.cfg.RedundantNodes {
		return
	}
	l.siblings = append(l.siblings, h.Copy())
}

// notifyStaleSpan forwards a repair hint to the overlay layer.
func (l *Lookup) notifyStaleSpan(pred, succ NodeHandle, dead []NodeHandle) {
	telemetry.StaleSpanNotices.Inc()

	l.logger.Info().
		Str("pred", truncateHex(pred.KeyHex(), 8)).
		Str("succ", truncateHex(succ.KeyHex(), 8)).
		Int("dead_nodes", len(dead)).
		Msg("Dead span detected, notifying boundary nodes")

	l.coord.notifier.NotifyStaleSpan(pred, succ, dead)
}

// recordFalseNegative counts a lookup rescued by the false-negative check.
func (l *Lookup) recordFalseNegative() {
	telemetry.FalseNegativeRecoveries.Inc()
}

// pickRoundRobin distributes the seed candidates across n paths: path i gets
// seeds i, i+n, i+2n, ...
func pickRoundRobin(seeds []NodeHandle, i, n int) []NodeHandle {
	var out []NodeHandle
	for j := i; j < len(seeds); j += n {
		out = append(out, seeds[j])
	}
	return out
}
