package masstree

import (
	"runtime"
	"sync/atomic"
)

// nodeVersion is a snapshot of a node's version word: the transient
// LOCK/INSERTING/SPLITTING bits, the sticky IS_ROOT/IS_LEAF/DELETED bits,
// and a monotonic counter in the remaining bits.
type nodeVersion uint32

const (
	vLock      nodeVersion = 1 << 0
	vInserting nodeVersion = 1 << 1
	vSplitting nodeVersion = 1 << 2
	vDeleted   nodeVersion = 1 << 3
	vRoot      nodeVersion = 1 << 4
	vLeaf      nodeVersion = 1 << 5

	vDirtyMask = vLock | vInserting | vSplitting
	// versionStep is added to the counter on every unlock that covered an
	// INSERTING or SPLITTING section; the counter lives above the fixed
	// status bits.
	versionStep = nodeVersion(1) << 8
	// dataMask selects the bits that has_changed compares: the counter
	// and DELETED, but not the transient or sticky structural bits.
	dataMask = ^(vLock | vInserting | vSplitting | vRoot | vLeaf)
)

func (v nodeVersion) isLocked() bool     { return v&vLock != 0 }
func (v nodeVersion) isInserting() bool  { return v&vInserting != 0 }
func (v nodeVersion) isSplitting() bool  { return v&vSplitting != 0 }
func (v nodeVersion) isDeleted() bool    { return v&vDeleted != 0 }
func (v nodeVersion) isRoot() bool       { return v&vRoot != 0 }
func (v nodeVersion) isLeafVersion() bool { return v&vLeaf != 0 }

// versionWord is the atomic word embedded in every node. Splits are
// tracked by a second, independent counter so that has_split can be
// answered without conflating split-driven version bumps with ordinary
// insert-driven ones.
type versionWord struct {
	v      atomic.Uint32
	splits atomic.Uint32
}

func newVersionWord(isLeaf, isRoot bool) versionWord {
	var w versionWord
	var bits nodeVersion
	if isLeaf {
		bits |= vLeaf
	}
	if isRoot {
		bits |= vRoot
	}
	w.v.Store(uint32(bits))
	return w
}

func (w *versionWord) load() nodeVersion {
	return nodeVersion(w.v.Load())
}

// stable spins while LOCK, INSERTING or SPLITTING is set and returns the
// last clean snapshot observed. Spinning is unbounded: contention on a
// single node is bounded by the fan-out-15 structure, per spec.md
// section 4.2.
func (w *versionWord) stable() nodeVersion {
	for {
		v := w.load()
		if v&vDirtyMask == 0 {
			return v
		}
		runtime.Gosched()
	}
}

// lock spins (CAS) until it manages to set LOCK, returning the
// post-lock snapshot.
func (w *versionWord) lock() nodeVersion {
	for {
		v := w.load()
		if v&vLock != 0 {
			runtime.Gosched()
			continue
		}
		locked := v | vLock
		if w.v.CompareAndSwap(uint32(v), uint32(locked)) {
			return locked
		}
	}
}

// markInserting raises INSERTING on an already-locked node, so unlock
// bumps the counter readers compare against hasChanged. Used for any
// structural change that keeps every live key on the same node (plain
// insert, remove, layer promotion); an in-place value replace is a single
// atomic pointer store and does not raise it.
func (w *versionWord) markInserting() { w.v.Or(uint32(vInserting)) }

// markSplitting raises SPLITTING on an already-locked node. Used when a
// change moves keys to a different node; unlock then also advances the
// split counter that hasSplit reports on. Readers in this package detect
// a split through hasChanged and do not consult hasSplit.
func (w *versionWord) markSplitting() { w.v.Or(uint32(vSplitting)) }

// lockSplitting locks and raises SPLITTING in one step.
func (w *versionWord) lockSplitting() {
	w.lock()
	w.v.Or(uint32(vSplitting))
}

// tryLock makes one non-blocking attempt to set LOCK, reporting whether
// it succeeded. Used where spinning would risk a lock-order deadlock
// against a concurrent cursor crossing the same nodes in the opposite
// direction (see cursor.go's leaf-unlink path).
func (w *versionWord) tryLock() (nodeVersion, bool) {
	v := w.load()
	if v&vLock != 0 {
		return v, false
	}
	locked := v | vLock
	if w.v.CompareAndSwap(uint32(v), uint32(locked)) {
		return locked, true
	}
	return v, false
}

// unlock clears LOCK. If INSERTING or SPLITTING were set, it also bumps
// the counter and clears those bits, publishing the mutation with a
// single store (invariant I6).
func (w *versionWord) unlock() {
	for {
		v := w.load()
		next := v &^ vLock
		if v&(vInserting|vSplitting) != 0 {
			next = (next &^ (vInserting | vSplitting)) + versionStep
		}
		if w.v.CompareAndSwap(uint32(v), uint32(next)) {
			if v&vSplitting != 0 {
				w.splits.Add(1)
			}
			return
		}
	}
}

// markDeleted sets DELETED; the caller must hold the lock.
func (w *versionWord) markDeleted() {
	w.v.Or(uint32(vDeleted))
}

// clearRoot clears IS_ROOT; the caller must hold the lock (used when a
// node is demoted by a split that creates a new root above it).
func (w *versionWord) clearRoot() {
	w.v.And(uint32(^vRoot))
}

// hasChanged reports whether the counter or DELETED moved since snapshot.
func (w *versionWord) hasChanged(snapshot nodeVersion) bool {
	return w.load()&dataMask != snapshot&dataMask
}

// hasSplit reports whether a split completed on this node since the
// split counter was last observed at splitSnapshot.
func (w *versionWord) hasSplit(splitSnapshot uint32) bool {
	return w.splits.Load() != splitSnapshot
}

func (w *versionWord) splitSnapshot() uint32 {
	return w.splits.Load()
}
