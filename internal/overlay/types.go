package overlay

import (
	"fmt"
	"math/big"

	"github.com/epiring/epiring/internal/ring"
)

// NodeHandle identifies a peer in the overlay: a ring key plus the network
// address it was learned under. Handles are data snapshots passed by value
// and compared by key; they are never live cursors into peer state.
type NodeHandle struct {
	Key  *big.Int // Ring identifier in [0, 2^Bits), nil when unspecified
	Host string   // Network host (IP address or hostname)
	Port int      // Network port
}

// UnspecifiedHandle is the sentinel for an absent or unknown peer.
var UnspecifiedHandle = NodeHandle{}

// NewNodeHandle creates a handle with a private copy of the key.
func NewNodeHandle(key *big.Int, host string, port int) NodeHandle {
	if key == nil {
		return NodeHandle{Host: host, Port: port}
	}
	return NodeHandle{
		Key:  new(big.Int).Set(key),
		Host: host,
		Port: port,
	}
}

// HandleFromAddress derives a handle whose key is the hash of host:port.
func HandleFromAddress(host string, port int) NodeHandle {
	return NodeHandle{
		Key:  ring.HashAddress(host, port),
		Host: host,
		Port: port,
	}
}

// IsUnspecified reports whether the handle carries no key.
func (h NodeHandle) IsUnspecified() bool {
	return h.Key == nil
}

// Equals compares two handles by key. Unspecified handles are never equal
// to anything, including each other.
func (h NodeHandle) Equals(other NodeHandle) bool {
	if h.Key == nil || other.Key == nil {
		return false
	}
	return h.Key.Cmp(other.Key) == 0
}

// Copy returns a handle with an independent key value.
func (h NodeHandle) Copy() NodeHandle {
	return NewNodeHandle(h.Key, h.Host, h.Port)
}

// Address returns the network address in "host:port" format.
func (h NodeHandle) Address() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// String returns a human-readable representation of the handle.
// Format: "NodeHandle{Key: <hex>, Addr: <host>:<port>}"
func (h NodeHandle) String() string {
	if h.IsUnspecified() {
		return "NodeHandle{unspecified}"
	}
	return fmt.Sprintf("NodeHandle{Key: %s, Addr: %s:%d}",
		truncateHex(h.Key.Text(16), 12), h.Host, h.Port)
}

// KeyHex returns the full hex form of the key, or "" when unspecified.
// Used as a map key wherever handles index per-lookup state.
func (h NodeHandle) KeyHex() string {
	if h.Key == nil {
		return ""
	}
	return h.Key.Text(16)
}

// ShortKeyHex returns the key's hex form truncated for log lines. Keys with
// leading zero bits render shorter than maxLen and come back whole.
func (h NodeHandle) ShortKeyHex(maxLen int) string {
	return truncateHex(h.KeyHex(), maxLen)
}

// truncateHex safely truncates a hex string to the specified length.
func truncateHex(hexStr string, maxLen int) string {
	if len(hexStr) > maxLen {
		return hexStr[:maxLen]
	}
	return hexStr
}

// FindNodeRequest asks a peer for the nodes it knows closest to Target.
type FindNodeRequest struct {
	Target  *big.Int
	Fanout  int            // Maximum number of candidates the responder should return
	Variant RoutingVariant // Routing variant negotiated for this lookup
	Exclude []NodeHandle   // Exclusive-iterative: nodes the requester has already queried
}

// FindNodeResponse is a peer's view of the neighborhood of the target.
//
// When the responder believes itself responsible for the target, position 0
// is the responder itself, position 1 its predecessor, and position 2 its
// successor. Otherwise the list holds the closest candidates it knows,
// nearest first.
type FindNodeResponse struct {
	Source  NodeHandle
	Closest []NodeHandle
}

// Responsible reports whether the responder claimed ownership of the target,
// signalled by listing itself at position 0.
func (r *FindNodeResponse) Responsible() bool {
	return len(r.Closest) > 0 && r.Closest[0].Equals(r.Source)
}

// RoutingVariant selects how queried peers build their candidate replies.
type RoutingVariant int

const (
	// VariantIterative: responders return their closest known candidates.
	VariantIterative RoutingVariant = iota

	// VariantExclusiveIterative: responders omit candidates the requester
	// reports having already queried.
	VariantExclusiveIterative
)

// String returns the configuration name of the variant.
func (v RoutingVariant) String() string {
	switch v {
	case VariantExclusiveIterative:
		return "exclusive-iterative"
	default:
		return "iterative"
	}
}

// ParseRoutingVariant maps a configuration string to a variant.
func ParseRoutingVariant(s string) (RoutingVariant, error) {
	switch s {
	case "", "iterative":
		return VariantIterative, nil
	case "exclusive-iterative":
		return VariantExclusiveIterative, nil
	default:
		return VariantIterative, fmt.Errorf("unknown routing variant %q", s)
	}
}
