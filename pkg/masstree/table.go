package masstree

import (
	"sync/atomic"
	"unsafe"
)

// Stats mirrors the teacher's CowBTreeStats (pkg/cowbtree/cowbtree.go):
// atomically-updated counters a host process can poll, in place of log
// lines, since the core does no logging of its own.
type Stats struct {
	KeyCount    int64
	InsertCount int64
	RemoveCount int64
	GetCount    int64
	SplitCount  int64
	LayerCount  int64
	ReclaimRuns int64
}

// Table is the root handle for one masstree: the layer-0 tree plus the
// epoch manager shared by every nested layer it creates. Table satisfies
// spec.md section 6's external interface (Get/Put/Remove/Scan).
type Table struct {
	root  unsafe.Pointer // *leaf or *internode, layer-0 root
	epoch *EpochManager
	cfg   Config
	stats Stats
	closed atomic.Bool
}

// NewTable creates an empty table. Options override DefaultConfig()
// fields in order, matching hnsw.Config's functional-defaults idiom.
func NewTable(opts ...Option) *Table {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	t := &Table{epoch: NewEpochManager(), cfg: cfg}
	root := newLeaf(true, cfg.StringBagCapacity)
	atomic.StorePointer(&t.root, unsafe.Pointer(root))
	return t
}

func (t *Table) loadRoot() unsafe.Pointer { return atomic.LoadPointer(&t.root) }

func (t *Table) checkKey(key []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if t.cfg.MaxKeyLen > 0 && len(key) > t.cfg.MaxKeyLen {
		return ErrKeyTooLong
	}
	return nil
}

// Get performs a lock-free lookup (spec.md section 4.9). A hot read path
// never blocks behind a writer: it only retries when it observes a dirty
// or changed version.
func (t *Table) Get(key []byte) ([]byte, bool, error) {
	if err := t.checkKey(key); err != nil {
		return nil, false, err
	}
	atomic.AddInt64(&t.stats.GetCount, 1)

	guard := t.epoch.Enter()
	defer guard.Leave()

	return t.getFrom(t.loadRoot(), MakeKey(key))
}

// getFrom performs the lock-free lookup loop at one layer, recursing
// into a nested layer's root when the matching slot is a layer link.
// The caller holds the epoch guard for the whole recursive descent.
func (t *Table) getFrom(root unsafe.Pointer, k Key) ([]byte, bool, error) {
	for {
		lf, v := reachLeaf(root, k)
		// stamp is an independent generation counter alongside v: hasChanged
		// already catches any insert/remove, but stamp only ever moves on a
		// remove and never wraps in practice, so it also catches the case a
		// remove-then-reinsert into the same physical slot raced between two
		// of this loop's reads of that slot (P8).
		stamp := lf.nodeStamp.Load()
		_, phys, found, collision := lf.lookup(k)
		if lf.hdr.version.hasChanged(v) || lf.nodeStamp.Load() != stamp {
			continue
		}
		if collision {
			s := &lf.slots[phys]
			if isLayerKeylenx(s.keylenx) {
				sub := s.loadValue()
				if lf.hdr.version.hasChanged(v) || lf.nodeStamp.Load() != stamp {
					continue
				}
				if sub == nil {
					return nil, false, nil
				}
				return t.getFrom(sub, k.Shift())
			}
			// a suffix collision that isn't a layer link means k shares an
			// ikey window with a different key and is itself absent.
			return nil, false, nil
		}
		if !found {
			return nil, false, nil
		}
		s := &lf.slots[phys]
		val := (*[]byte)(s.loadValue())
		if lf.hdr.version.hasChanged(v) || lf.nodeStamp.Load() != stamp {
			continue
		}
		if val == nil {
			return nil, false, nil
		}
		return *val, true, nil
	}
}

// Put inserts or replaces key's value, returning whatever value
// previously occupied key (or nil if it was absent), matching spec.md
// section 6's put_or_update(key, value) -> previous | none. The
// superseded value is reclaimed through the epoch manager rather than
// freed immediately, since a concurrent reader may still be holding it.
func (t *Table) Put(key, value []byte) ([]byte, error) {
	if err := t.checkKey(key); err != nil {
		return nil, err
	}
	v := append([]byte(nil), value...)
	atomic.AddInt64(&t.stats.InsertCount, 1)
	prevPtr, err := t.putAt(&t.root, MakeKey(key), &v)
	if err != nil {
		return nil, err
	}
	if prevPtr == nil {
		return nil, nil
	}
	prev := *prevPtr
	t.epoch.Defer(func() { _ = prevPtr })
	return prev, nil
}

// Remove deletes key, reporting whether it was present (spec.md section
// 4.10's remove operation).
func (t *Table) Remove(key []byte) (bool, error) {
	if err := t.checkKey(key); err != nil {
		return false, err
	}
	atomic.AddInt64(&t.stats.RemoveCount, 1)
	return t.removeAt(&t.root, MakeKey(key))
}

// Stats returns a snapshot of the table's counters.
func (t *Table) Stats() Stats {
	return Stats{
		KeyCount:    atomic.LoadInt64(&t.stats.KeyCount),
		InsertCount: atomic.LoadInt64(&t.stats.InsertCount),
		RemoveCount: atomic.LoadInt64(&t.stats.RemoveCount),
		GetCount:    atomic.LoadInt64(&t.stats.GetCount),
		SplitCount:  atomic.LoadInt64(&t.stats.SplitCount),
		LayerCount:  atomic.LoadInt64(&t.stats.LayerCount),
		ReclaimRuns: atomic.LoadInt64(&t.stats.ReclaimRuns),
	}
}

// Reclaim runs one epoch-reclamation sweep, processing at most
// cfg.ReclaimBatch deferred callbacks so a large backlog doesn't make a
// single call run unboundedly long, and reports how many ran. A host
// typically calls this periodically from its own background loop; the
// core never spawns goroutines of its own to do it.
func (t *Table) Reclaim() int {
	n := t.epoch.TryReclaimBatch(t.cfg.ReclaimBatch)
	if n > 0 {
		atomic.AddInt64(&t.stats.ReclaimRuns, 1)
	}
	return n
}

// Close marks the table closed; further Get, Put and Remove calls return
// ErrClosed (Scan and ReverseScan do not check it).
// The underlying memory is left for the garbage collector once readers
// drain, matching the teacher's CowBTree.Close.
func (t *Table) Close() error {
	t.closed.Store(true)
	return nil
}
