package masstree

import (
	"bytes"
	"unsafe"
)

// lookup searches a leaf's live slots, which permuter order keeps in
// sorted logical order, for key. It returns the logical insertion
// position, the physical slot index of a same-ikey occupant (if any),
// whether that occupant is an exact match, and whether it is instead a
// different key occupying the same 8-byte window (a suffix collision, or
// an existing layer link) that a put must resolve rather than treat as
// absent. At most one live slot can share a given (ikey, effective
// length) pair, since any second arrival is resolved into a nested layer
// immediately (spec.md section 4.7).
func (lf *leaf) lookup(key Key) (logical, physical int, found, collision bool) {
	ikey, ikeylen := key.IKey(), key.IKeyLen()
	p := lf.permuter()
	sz := p.size()
	for i := 0; i < sz; i++ {
		phys := p.at(i)
		s := &lf.slots[phys]
		cmp := compareIkey(ikey, ikeylen, s.ikey, effectiveIKeyLen(s.keylenx))
		if cmp < 0 {
			return i, -1, false, false
		}
		if cmp == 0 {
			if isLayerKeylenx(s.keylenx) {
				return i, phys, false, true
			}
			existingHasMore := s.keylenx == keylenxHasSuffix
			incomingHasMore := len(key.Suffix()) > 0
			switch {
			case !existingHasMore && !incomingHasMore:
				return i, phys, true, false
			case existingHasMore && incomingHasMore:
				if bytes.Equal(key.Suffix(), lf.getSuffix(phys)) {
					return i, phys, true, false
				}
				return i, phys, false, true
			default:
				// one key ends exactly at this window, the other
				// continues past it: distinct keys sharing an ikey,
				// resolved only by a nested layer.
				return i, phys, false, true
			}
		}
	}
	return sz, -1, false, false
}

// maxLiveSlot returns the physical slot holding the logically greatest
// live key, if the leaf has any.
func (lf *leaf) maxLiveSlot(p permuter) (int, bool) {
	sz := p.size()
	if sz == 0 {
		return 0, false
	}
	return p.at(sz - 1), true
}

// keyBeyondLeaf reports whether key sorts strictly after every entry
// currently in lf, meaning a concurrent split has sent it to lf's right
// sibling and the walk must follow next.
func (lf *leaf) keyBeyondLeaf(key Key) bool {
	phys, ok := lf.maxLiveSlot(lf.permuter())
	if !ok {
		return false
	}
	s := &lf.slots[phys]
	cmp := compareIkey(key.IKey(), key.IKeyLen(), s.ikey, effectiveIKeyLen(s.keylenx))
	if cmp > 0 {
		return true
	}
	if cmp < 0 {
		return false
	}
	if isLayerKeylenx(s.keylenx) {
		return false
	}
	existingSuffix := []byte(nil)
	if s.keylenx == keylenxHasSuffix {
		existingSuffix = lf.getSuffix(phys)
	}
	return bytes.Compare(key.Suffix(), existingSuffix) > 0
}

// advanceToKey follows the leaf sibling chain rightward while key has
// been pushed past lf by a concurrent split, re-stabilizing the version
// at each hop (spec.md section 4.8, "advance-to-key").
func advanceToKey(lf *leaf, v nodeVersion, key Key) (*leaf, nodeVersion) {
	for {
		if !lf.keyBeyondLeaf(key) {
			return lf, v
		}
		next := lf.loadNext()
		if next == nil {
			return lf, v
		}
		lf, v = next, next.hdr.version.stable()
	}
}

// reachLeaf descends from root to the leaf that should contain key,
// without taking any lock. It re-validates each internode's version
// after reading a child pointer and restarts the whole descent from root
// if a structural change was observed mid-walk (spec.md section 4.8,
// "reach-leaf"); root-hint staleness after a split is tolerated the same
// way, since a demoted root is still reachable through its own children.
func reachLeaf(root unsafe.Pointer, key Key) (*leaf, nodeVersion) {
	ikey := key.IKey()
restart:
	n := root
	for !isLeafPointer(n) {
		in := asInternode(n)
		v := in.hdr.version.stable()
		idx := in.upperBound(ikey)
		child := in.loadChild(idx)
		if in.hdr.version.hasChanged(v) || child == nil {
			goto restart
		}
		n = child
	}
	lf := asLeaf(n)
	v := lf.hdr.version.stable()
	return advanceToKey(lf, v, key)
}
