package ring

import (
	"crypto/sha256"
	"fmt"
	"math/big"
)

const (
	// Bits is the size of the identifier space in bits (keys live in [0, 2^Bits)).
	Bits = 160
)

var (
	// size is 2^Bits, the modulus of the ring.
	size = new(big.Int).Exp(big.NewInt(2), big.NewInt(Bits), nil)

	zero = big.NewInt(0)
	one  = big.NewInt(1)
)

// HashKey hashes arbitrary data to a Bits-wide identifier using SHA-256,
// truncated to the first Bits/8 bytes.
func HashKey(data []byte) *big.Int {
	sum := sha256.Sum256(data)
	return new(big.Int).SetBytes(sum[:Bits/8])
}

// HashString hashes a string to a ring identifier.
func HashString(s string) *big.Int {
	return HashKey([]byte(s))
}

// HashAddress hashes a network address (host:port) to a ring identifier.
// Node keys are derived from their network addresses.
func HashAddress(host string, port int) *big.Int {
	return HashString(fmt.Sprintf("%s:%d", host, port))
}

// Between reports whether k lies strictly inside the clockwise arc (a, b).
// Both boundaries are exclusive. When a == b the arc covers the whole ring
// except a itself.
//
// Examples:
//   - Between(5, 3, 7) = true
//   - Between(3, 3, 7) = false  // exclusive start
//   - Between(7, 3, 7) = false  // exclusive end
//   - Between(1, 8, 3) = true   // wraparound
func Between(k, a, b *big.Int) bool {
	if k == nil || a == nil || b == nil {
		return false
	}

	k = Mod(k)
	a = Mod(a)
	b = Mod(b)

	switch a.Cmp(b) {
	case -1:
		return k.Cmp(a) > 0 && k.Cmp(b) < 0
	case 1:
		// Wraparound: (a, 2^Bits) or [0, b)
		return k.Cmp(a) > 0 || k.Cmp(b) < 0
	default:
		// a == b, the arc is the entire ring except a
		return k.Cmp(a) != 0
	}
}

// InRange reports whether k lies in the clockwise arc (a, b], exclusive start
// and inclusive end. This is the ownership test: a node with key b owns every
// key in (predecessor, b].
func InRange(k, a, b *big.Int) bool {
	if k == nil || a == nil || b == nil {
		return false
	}

	k = Mod(k)
	a = Mod(a)
	b = Mod(b)

	switch a.Cmp(b) {
	case -1:
		return k.Cmp(a) > 0 && k.Cmp(b) <= 0
	case 1:
		return k.Cmp(a) > 0 || k.Cmp(b) <= 0
	default:
		return k.Cmp(a) != 0
	}
}

// Distance returns the unidirectional clockwise distance from a to b,
// (b - a) mod 2^Bits. The result is always in [0, 2^Bits).
func Distance(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return new(big.Int)
	}

	a = Mod(a)
	b = Mod(b)

	return Mod(new(big.Int).Sub(b, a))
}

// Proximity returns the shorter of the two arc distances between a and b,
// regardless of direction.
func Proximity(a, b *big.Int) *big.Int {
	cw := Distance(a, b)
	ccw := Distance(b, a)
	if cw.Cmp(ccw) <= 0 {
		return cw
	}
	return ccw
}

// Mod returns x mod 2^Bits, ensuring the result is in [0, 2^Bits).
func Mod(x *big.Int) *big.Int {
	r := new(big.Int).Mod(x, size)
	if r.Sign() < 0 {
		r.Add(r, size)
	}
	return r
}

// Size returns 2^Bits, the modulus of the ring.
func Size() *big.Int {
	return new(big.Int).Set(size)
}

// MaxKey returns the largest valid key, 2^Bits - 1.
func MaxKey() *big.Int {
	return new(big.Int).Sub(size, one)
}

// Valid reports whether k is inside [0, 2^Bits).
func Valid(k *big.Int) bool {
	return k != nil && k.Cmp(zero) >= 0 && k.Cmp(size) < 0
}
