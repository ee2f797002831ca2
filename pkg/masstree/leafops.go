package masstree

import "unsafe"

// newSlotKeylenx computes the keylenx tag a fresh slot for k should
// carry: k's ikeylen when it ends inside this layer's window, 8 when it
// ends exactly on the window boundary, or keylenxHasSuffix when bytes
// remain beyond it.
func newSlotKeylenx(k Key) uint8 {
	l := k.IKeyLen()
	if l < ikeyBytes {
		return uint8(l)
	}
	if len(k.Suffix()) == 0 {
		return uint8(ikeyBytes)
	}
	return keylenxHasSuffix
}

// insertEntry claims a free physical slot (permuter.back()) for k and
// value, and rotates it into logical position pos. The caller must hold
// lf's lock and must already know the leaf has a free slot.
func (lf *leaf) insertEntry(pos int, k Key, value unsafe.Pointer) int {
	p := lf.permuter()
	phys := p.back()
	s := &lf.slots[phys]
	s.ikey = k.IKey()
	s.keylenx = newSlotKeylenx(k)
	if s.keylenx == keylenxHasSuffix {
		lf.assignSuffix(phys, k.Suffix())
	}
	s.storeValue(value)
	lf.publishPermuter(p.insertFromBack(pos))
	return phys
}

// removeEntry drops the slot at logical position pos, rotating its
// physical slot onto the free list and bumping nodeStamp so a lock-free
// reader that glimpsed the old occupant can detect a reinsert into the
// same physical slot and restart instead of returning a phantom value
// (P8; consulted in table.go's getFrom).
func (lf *leaf) removeEntry(pos int) {
	p := lf.permuter()
	phys := p.at(pos)
	lf.slots[phys] = leafSlot{}
	lf.bag.clear(phys)
	if lf.overflow != nil {
		lf.overflow.clear(phys)
	}
	lf.publishPermuter(p.remove(pos))
	lf.nodeStamp.Add(1)
}
