package masstree

import (
	"encoding/binary"
	"unsafe"
)

// Visitor is called once per key in scan order. Returning false stops
// the scan early.
type Visitor func(key, value []byte) bool

// leafEntrySnap is a stabilized copy of one slot's fields, taken while a
// leaf's version was observed clean, so the visitor callback never runs
// against data that could be concurrently mutated underneath it.
type leafEntrySnap struct {
	ikey    uint64
	keylenx uint8
	value   unsafe.Pointer
	suffix  []byte
}

// reconstructKey rebuilds a full key from the layer prefixes consumed on
// the way down plus one leaf slot's ikey/suffix.
func reconstructKey(prefix []byte, ikey uint64, keylenx uint8, suffix []byte) []byte {
	var buf [ikeyBytes]byte
	binary.BigEndian.PutUint64(buf[:], ikey)
	n := effectiveIKeyLen(keylenx)
	out := make([]byte, 0, len(prefix)+n+len(suffix))
	out = append(out, prefix...)
	out = append(out, buf[:n]...)
	out = append(out, suffix...)
	return out
}

func leftmostLeaf(root unsafe.Pointer) *leaf {
restart:
	n := root
	for !isLeafPointer(n) {
		in := asInternode(n)
		v := in.hdr.version.stable()
		child := in.loadChild(0)
		if in.hdr.version.hasChanged(v) || child == nil {
			goto restart
		}
		n = child
	}
	return asLeaf(n)
}

func rightmostLeaf(root unsafe.Pointer) *leaf {
restart:
	n := root
	for !isLeafPointer(n) {
		in := asInternode(n)
		v := in.hdr.version.stable()
		child := in.loadChild(in.nkeys)
		if in.hdr.version.hasChanged(v) || child == nil {
			goto restart
		}
		n = child
	}
	return asLeaf(n)
}

// Scan visits keys in ascending order starting at start (or from the
// very first key, if start is nil), recursing into nested layers in
// their correct logical position, and stops early if visit returns
// false (spec.md sections 4.11 and 6). inclusive controls whether a key
// exactly equal to start is itself visited; it has no effect when start
// is nil. Scan never holds a lock: each leaf's slots are copied under a
// stable version snapshot and re-read if that snapshot turns out to
// have been stale.
func (t *Table) Scan(start []byte, inclusive bool, visit Visitor) error {
	guard := t.epoch.Enter()
	defer guard.Leave()
	_, err := t.scanForward(t.loadRoot(), nil, start, inclusive, visit)
	return err
}

func (t *Table) scanForward(root unsafe.Pointer, prefix []byte, lowerBound []byte, inclusive bool, visit Visitor) (bool, error) {
	var lf *leaf
	var startLogical int
	if lowerBound == nil {
		lf = leftmostLeaf(root)
		startLogical = 0
	} else {
		lf, _ = reachLeaf(root, MakeKey(lowerBound))
		idx, _, found, _ := lf.lookup(MakeKey(lowerBound))
		startLogical = idx
		if found && !inclusive {
			startLogical++
		}
	}

	for lf != nil {
		v := lf.hdr.version.stable()
		p := lf.permuter()
		sz := p.size()

		entries := make([]leafEntrySnap, 0, sz-startLogical)
		for i := startLogical; i < sz; i++ {
			phys := p.at(i)
			s := &lf.slots[phys]
			e := leafEntrySnap{ikey: s.ikey, keylenx: s.keylenx, value: s.loadValue()}
			if s.keylenx == keylenxHasSuffix {
				e.suffix = append([]byte(nil), lf.getSuffix(phys)...)
			}
			entries = append(entries, e)
		}
		next := lf.loadNext()

		if lf.hdr.version.hasChanged(v) {
			continue
		}

		for _, e := range entries {
			full := reconstructKey(prefix, e.ikey, e.keylenx, e.suffix)
			if isLayerKeylenx(e.keylenx) {
				cont, err := t.scanForward(e.value, full, nil, true, visit)
				if err != nil {
					return false, err
				}
				if !cont {
					return false, nil
				}
				continue
			}
			val := (*[]byte)(e.value)
			if !visit(full, *val) {
				return false, nil
			}
		}

		lf = next
		startLogical = 0
	}
	return true, nil
}

// ReverseScan visits keys in descending order starting at start (or from
// the very last key, if start is nil). inclusive controls whether a key
// exactly equal to start is itself visited; it has no effect when start
// is nil.
func (t *Table) ReverseScan(start []byte, inclusive bool, visit Visitor) error {
	guard := t.epoch.Enter()
	defer guard.Leave()
	_, err := t.scanReverse(t.loadRoot(), nil, start, start != nil, inclusive, visit)
	return err
}

func (t *Table) scanReverse(root unsafe.Pointer, prefix []byte, upperBound []byte, hasUpper, inclusive bool, visit Visitor) (bool, error) {
	var lf *leaf
	var startLogical int
	if !hasUpper {
		lf = rightmostLeaf(root)
		startLogical = -1
	} else {
		lf, _ = reachLeaf(root, MakeKey(upperBound))
		idx, _, found, _ := lf.lookup(MakeKey(upperBound))
		switch {
		case found && inclusive:
			startLogical = idx
		case found && !inclusive:
			startLogical = idx - 1
		default:
			startLogical = idx - 1
		}
	}

	for lf != nil {
		v := lf.hdr.version.stable()
		p := lf.permuter()
		sz := p.size()
		from := startLogical
		if !hasUpper || from >= sz {
			from = sz - 1
		}

		entries := make([]leafEntrySnap, 0, from+1)
		for i := from; i >= 0; i-- {
			phys := p.at(i)
			s := &lf.slots[phys]
			e := leafEntrySnap{ikey: s.ikey, keylenx: s.keylenx, value: s.loadValue()}
			if s.keylenx == keylenxHasSuffix {
				e.suffix = append([]byte(nil), lf.getSuffix(phys)...)
			}
			entries = append(entries, e)
		}
		prev := lf.loadPrev()

		if lf.hdr.version.hasChanged(v) {
			continue
		}

		for _, e := range entries {
			full := reconstructKey(prefix, e.ikey, e.keylenx, e.suffix)
			if isLayerKeylenx(e.keylenx) {
				cont, err := t.scanReverse(e.value, full, nil, false, true, visit)
				if err != nil {
					return false, err
				}
				if !cont {
					return false, nil
				}
				continue
			}
			val := (*[]byte)(e.value)
			if !visit(full, *val) {
				return false, nil
			}
		}

		lf = prev
		startLogical = -1
		hasUpper = false
	}
	return true, nil
}
