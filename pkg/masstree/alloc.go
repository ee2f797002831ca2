package masstree

import "sync"

// EventCounter names one of a ThreadContext's event counters, mirroring
// original_source/kvthread.hh's threadcounter enum (tc_alloc, tc_stable,
// ...) but collapsed to a handful of events (a Go idiomatic simplification
// over the original's compile-time counter table, noted in DESIGN.md).
// This package marks CounterLeafAlloc, CounterInternodeAlloc and
// CounterRCUQuiesce itself; CounterPoolRefill and CounterLockSpin change
// only through a caller's Mark or MarkDelta.
type EventCounter int

const (
	CounterLeafAlloc EventCounter = iota
	CounterInternodeAlloc
	CounterPoolRefill
	CounterRCUQuiesce
	CounterLockSpin
	numEventCounters
)

var leafPool = sync.Pool{
	New: func() interface{} { return &leaf{} },
}

var internodePool = sync.Pool{
	New: func() interface{} { return &internode{} },
}

// ThreadContext is a per-worker handle bundling the pieces
// original_source/kvthread.hh's threadinfo holds together: an RCU epoch
// guard, size-classed node pools, and event counters. A Table does not
// require one (Get and the scans enter and leave the epoch manager
// internally; Put and Remove work under node locks and take no guard);
// ThreadContext exists for a host that wants to amortize guard
// acquisition and node allocation across a batch of operations on one
// goroutine, the way the original amortizes them across a worker thread's
// whole lifetime.
type ThreadContext struct {
	table    *Table
	guard    *ReaderGuard
	counters [numEventCounters]int64
	cpu      int
	pinned   bool
}

// NewThreadContext creates a context bound to t. It does not enter RCU;
// call RCUStart before using it to read.
func NewThreadContext(t *Table) *ThreadContext {
	return &ThreadContext{table: t, cpu: -1}
}

// Mark increments a counter by one, matching threadinfo::mark(ci).
func (tc *ThreadContext) Mark(c EventCounter) {
	tc.counters[c]++
}

// MarkDelta increments a counter by delta, matching threadinfo::mark(ci, delta).
func (tc *ThreadContext) MarkDelta(c EventCounter, delta int64) {
	tc.counters[c] += delta
}

// Counter reads one counter's current value.
func (tc *ThreadContext) Counter(c EventCounter) int64 {
	return tc.counters[c]
}

// AllocLeaf returns a pooled, zeroed leaf ready for newLeaf's caller to
// initialize, matching threadinfo::pool_allocate's reuse-by-size-class
// discipline (kvthread.hh). Use PutLeaf to return it once a version with
// DELETED set is reclaimed through the epoch manager.
func (tc *ThreadContext) AllocLeaf() *leaf {
	lf := leafPool.Get().(*leaf)
	*lf = leaf{}
	tc.Mark(CounterLeafAlloc)
	return lf
}

// PutLeaf returns a retired leaf to the pool. The caller must only call
// this from an epoch-reclamation callback, once no reader can still hold
// a pointer to lf.
func (tc *ThreadContext) PutLeaf(lf *leaf) {
	leafPool.Put(lf)
}

// AllocInternode mirrors AllocLeaf for internode nodes.
func (tc *ThreadContext) AllocInternode() *internode {
	in := internodePool.Get().(*internode)
	*in = internode{}
	tc.Mark(CounterInternodeAlloc)
	return in
}

// PutInternode mirrors PutLeaf for internode nodes.
func (tc *ThreadContext) PutInternode(in *internode) {
	internodePool.Put(in)
}

// RCUStart enters the table's epoch manager, matching threadinfo::rcu_start.
// Idempotent: calling it while already started is a no-op.
func (tc *ThreadContext) RCUStart() {
	if tc.guard == nil {
		tc.guard = tc.table.epoch.Enter()
	}
}

// RCUStop leaves the epoch manager, matching threadinfo::rcu_stop.
func (tc *ThreadContext) RCUStop() {
	if tc.guard != nil {
		tc.guard.Leave()
		tc.guard = nil
	}
}

// RCUQuiesce stops, runs one reclamation sweep, and restarts, matching
// threadinfo::rcu_quiesce's periodic drain of the limbo list. A host
// calls this between batches of operations on a long-lived ThreadContext
// rather than on every single operation, the same tradeoff the original
// makes by quiescing only every so often rather than on every access.
func (tc *ThreadContext) RCUQuiesce() {
	tc.RCUStop()
	tc.table.Reclaim()
	tc.Mark(CounterRCUQuiesce)
	tc.RCUStart()
}
