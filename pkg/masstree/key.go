// Package masstree implements the concurrent, in-memory, ordered
// key-value core described for Masstree: a trie of B+-trees in which each
// 8-byte slice of a key selects one tree layer, combined with per-node
// optimistic concurrency so lookups never take a lock.
package masstree

import "encoding/binary"

// ikeyBytes is the width of the fixed-size slice a single tree layer
// consumes from a key.
const ikeyBytes = 8

// Key is a view of a byte string at a particular tree layer: the current
// 8-byte window packed into an ikey, plus whatever bytes remain beyond it.
// Descending a layer shifts the window by ikeyBytes; Key is immutable, so
// shifting produces a new value rather than mutating in place.
type Key struct {
	full   []byte
	offset int
}

// MakeKey wraps a byte string as a layer-0 key.
func MakeKey(b []byte) Key {
	return Key{full: b}
}

func (k Key) window() []byte {
	if k.offset >= len(k.full) {
		return nil
	}
	end := k.offset + ikeyBytes
	if end > len(k.full) {
		end = len(k.full)
	}
	return k.full[k.offset:end]
}

// IKey returns the big-endian, zero-padded 64-bit view of this layer's
// 8-byte window.
func (k Key) IKey() uint64 {
	var buf [ikeyBytes]byte
	copy(buf[:], k.window())
	return binary.BigEndian.Uint64(buf[:])
}

// IKeyLen returns how many real bytes of the original key are packed into
// IKey(), in 0..8. A value less than 8 means the key ends inside this
// layer's window; a value of 8 means there may be a Suffix beyond it.
func (k Key) IKeyLen() int {
	return len(k.window())
}

// Suffix returns whatever bytes of the original key lie beyond this
// layer's 8-byte window.
func (k Key) Suffix() []byte {
	start := k.offset + ikeyBytes
	if start >= len(k.full) {
		return nil
	}
	return k.full[start:]
}

// Shift drops this layer's consumed window, producing the key as seen one
// layer deeper.
func (k Key) Shift() Key {
	return Key{full: k.full, offset: k.offset + ikeyBytes}
}

// UnshiftAll resets the key to the original, layer-0 byte string.
func (k Key) UnshiftAll() Key {
	return Key{full: k.full}
}

// Bytes returns the original, unshifted byte string.
func (k Key) Bytes() []byte { return k.full }

// effectiveIKeyLen maps a leaf slot's keylenx tag to the ikeylen value it
// represents for ordering purposes: 0..8 mean exactly that many bytes,
// and keylenxHasSuffix (and the layer sentinels, which always carry a
// full 8-byte window) mean the full 8-byte window plus a suffix held
// elsewhere.
func effectiveIKeyLen(keylenx uint8) int {
	if keylenx > ikeyBytes {
		return ikeyBytes
	}
	return int(keylenx)
}

// compareIkey orders two (ikey, ikeylen) pairs the way a layer's slices
// are ordered: unsigned on the ikey bits, then on ikeylen. This is the
// per-layer half of the ordering described in spec.md section 3; the
// suffix comparison (when both sides share ikey and ikeylen==8) is done
// by the caller, which is the only place that has both suffixes at hand.
func compareIkey(aIkey uint64, aLen int, bIkey uint64, bLen int) int {
	if aIkey != bIkey {
		if aIkey < bIkey {
			return -1
		}
		return 1
	}
	if aLen != bLen {
		if aLen < bLen {
			return -1
		}
		return 1
	}
	return 0
}
