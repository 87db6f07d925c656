package overlay

import "context"

// Transport sends lookup RPCs to remote peers. An implementation correlates
// requests and responses by an opaque id and honors the context deadline as
// the per-hop timeout; a deadline expiry surfaces as an error.
type Transport interface {
	// FindNode queries dest for its view of the target's neighborhood.
	FindNode(ctx context.Context, dest NodeHandle, req *FindNodeRequest) (*FindNodeResponse, error)
}

// StaleSpanNotifier delivers fire-and-forget repair hints: the span between
// pred and succ appears blocked by dead nodes and both boundary peers should
// refresh their pointers.
type StaleSpanNotifier interface {
	NotifyStaleSpan(pred, succ NodeHandle, dead []NodeHandle)
}

// NopNotifier discards stale-span hints.
type NopNotifier struct{}

// NotifyStaleSpan implements StaleSpanNotifier.
func (NopNotifier) NotifyStaleSpan(pred, succ NodeHandle, dead []NodeHandle) {}
