package masstree

import (
	"sync"
	"sync/atomic"
)

// EpochManager implements quiescent-state reclamation: a monotonic global
// epoch, per-reader entry epochs, and a queue of callbacks deferred until
// every reader that could have observed the retired state has left.
// Grounded on the teacher's epoch.go, generalized from retiring *CowNode
// values to arbitrary closures so unlinked leaves and superseded values
// share one mechanism, the way the
// original's rcu_callback interface (original_source/kvthread.hh) does.
type EpochManager struct {
	globalEpoch uint64

	readers sync.Map // readerID -> *readerState

	deferredMu sync.Mutex
	deferred   map[uint64][]func()

	nextReaderID uint64
}

type readerState struct {
	epoch  uint64
	active int32
}

// epochLess orders two epoch counters with wraparound-tolerant,
// signed-difference comparison, matching original_source/circular_int.hh's
// kvepoch_t: a < b iff int64(a-b) < 0. Plain `<` would misorder a reader
// that entered just after the counter wrapped past math.MaxUint64.
func epochLess(a, b uint64) bool {
	return int64(a-b) < 0
}

func NewEpochManager() *EpochManager {
	return &EpochManager{
		globalEpoch: 1,
		deferred:    make(map[uint64][]func()),
	}
}

// ReaderGuard is an active reader's handle on the epoch it entered at.
type ReaderGuard struct {
	mgr      *EpochManager
	state    *readerState
	readerID uint64
}

// Enter records the current epoch and returns a guard that must be
// released with Leave; while held, any node reachable when Enter was
// called remains valid to dereference.
func (e *EpochManager) Enter() *ReaderGuard {
	readerID := atomic.AddUint64(&e.nextReaderID, 1)
	state := &readerState{epoch: atomic.LoadUint64(&e.globalEpoch), active: 1}
	e.readers.Store(readerID, state)
	return &ReaderGuard{mgr: e, state: state, readerID: readerID}
}

func (g *ReaderGuard) Leave() {
	if g == nil || g.state == nil {
		return
	}
	atomic.StoreInt32(&g.state.active, 0)
	g.mgr.readers.Delete(g.readerID)
}

func (g *ReaderGuard) Epoch() uint64 {
	if g == nil || g.state == nil {
		return 0
	}
	return g.state.epoch
}

// Advance increments the global epoch and returns the new value. The leaf
// split path calls this after linking in the new right sibling, so readers
// entering afterwards carry a later epoch; plain inserts and removes do
// not advance it.
func (e *EpochManager) Advance() uint64 {
	return atomic.AddUint64(&e.globalEpoch, 1)
}

func (e *EpochManager) CurrentEpoch() uint64 {
	return atomic.LoadUint64(&e.globalEpoch)
}

// Defer queues fn to run once every reader active at the current epoch
// has left. Used for leaves unlinked by Remove and for values superseded
// by Put; nested layers are never collapsed, so no layer bookkeeping goes
// through it.
func (e *EpochManager) Defer(fn func()) {
	epoch := atomic.LoadUint64(&e.globalEpoch)
	e.deferredMu.Lock()
	e.deferred[epoch] = append(e.deferred[epoch], fn)
	e.deferredMu.Unlock()
}

// RetireNode is a convenience wrapper over Defer for the common case of
// simply dropping a node's last reference so the garbage collector can
// reclaim it.
func (e *EpochManager) RetireNode(n interface{}) {
	e.Defer(func() { _ = n })
}

// TryReclaim runs every deferred callback whose epoch is strictly below
// the minimum epoch any active reader entered at, and returns how many
// ran. Equivalent to TryReclaimBatch with no cap.
func (e *EpochManager) TryReclaim() int {
	return e.TryReclaimBatch(0)
}

// TryReclaimBatch is TryReclaim bounded to at most max callbacks, so a
// Table background sweep can yield between batches instead of draining an
// arbitrarily large backlog in one call (Config.ReclaimBatch). max <= 0
// means no cap. A bucket that only partially fits in the remaining
// budget is split: the run ones are dropped, the rest stay queued at
// their original epoch for the next sweep.
func (e *EpochManager) TryReclaimBatch(max int) int {
	minEpoch := e.findMinActiveEpoch()

	e.deferredMu.Lock()
	defer e.deferredMu.Unlock()

	ran := 0
	for epoch, fns := range e.deferred {
		if !epochLess(epoch, minEpoch) {
			continue
		}
		remaining := max - ran
		if max <= 0 || remaining >= len(fns) {
			for _, fn := range fns {
				fn()
			}
			ran += len(fns)
			delete(e.deferred, epoch)
		} else {
			for _, fn := range fns[:remaining] {
				fn()
			}
			e.deferred[epoch] = fns[remaining:]
			ran += remaining
		}
		if max > 0 && ran >= max {
			break
		}
	}
	return ran
}

func (e *EpochManager) findMinActiveEpoch() uint64 {
	minEpoch := atomic.LoadUint64(&e.globalEpoch)
	e.readers.Range(func(_, value interface{}) bool {
		state := value.(*readerState)
		if atomic.LoadInt32(&state.active) == 1 && epochLess(state.epoch, minEpoch) {
			minEpoch = state.epoch
		}
		return true
	})
	return minEpoch
}

func (e *EpochManager) PendingCount() int {
	e.deferredMu.Lock()
	defer e.deferredMu.Unlock()
	count := 0
	for _, fns := range e.deferred {
		count += len(fns)
	}
	return count
}

func (e *EpochManager) ActiveReaderCount() int {
	count := 0
	e.readers.Range(func(_, value interface{}) bool {
		state := value.(*readerState)
		if atomic.LoadInt32(&state.active) == 1 {
			count++
		}
		return true
	})
	return count
}
