package masstree

import (
	"bytes"
	"fmt"
	"testing"
)

func TestTablePutGet(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Put([]byte("hello"), []byte("world")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := tbl.Get([]byte("hello"))
	if err != nil || !ok {
		t.Fatalf("Get: v=%q ok=%v err=%v", v, ok, err)
	}
	if !bytes.Equal(v, []byte("world")) {
		t.Fatalf("Get value: got %q, want %q", v, "world")
	}
}

func TestTableGetMissing(t *testing.T) {
	tbl := NewTable()
	_, ok, err := tbl.Get([]byte("absent"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("Get on a missing key should report not found")
	}
}

func TestTablePutOverwrite(t *testing.T) {
	tbl := NewTable()
	if prev, err := tbl.Put([]byte("k"), []byte("v1")); err != nil || prev != nil {
		t.Fatalf("first Put: prev=%q err=%v, want nil prev", prev, err)
	}
	prev, err := tbl.Put([]byte("k"), []byte("v2"))
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if !bytes.Equal(prev, []byte("v1")) {
		t.Fatalf("Put previous value: got %q, want %q", prev, "v1")
	}
	v, ok, _ := tbl.Get([]byte("k"))
	if !ok || !bytes.Equal(v, []byte("v2")) {
		t.Fatalf("Get after overwrite: got %q ok=%v, want %q", v, ok, "v2")
	}
	if tbl.Stats().KeyCount != 1 {
		t.Fatalf("KeyCount after overwrite: got %d, want 1", tbl.Stats().KeyCount)
	}
}

func TestTableRemove(t *testing.T) {
	tbl := NewTable()
	tbl.Put([]byte("k"), []byte("v"))
	removed, err := tbl.Remove([]byte("k"))
	if err != nil || !removed {
		t.Fatalf("Remove: removed=%v err=%v", removed, err)
	}
	_, ok, _ := tbl.Get([]byte("k"))
	if ok {
		t.Fatal("Get after Remove should report not found")
	}
	removedAgain, _ := tbl.Remove([]byte("k"))
	if removedAgain {
		t.Fatal("Remove on an already-removed key should report false")
	}
}

func TestTableManyKeysForcesSplits(t *testing.T) {
	tbl := NewTable()
	const n = 2000
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key-%06d", i))
		if _, err := tbl.Put(k, []byte(fmt.Sprintf("val-%d", i))); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key-%06d", i))
		v, ok, err := tbl.Get(k)
		if err != nil || !ok {
			t.Fatalf("Get(%d): ok=%v err=%v", i, ok, err)
		}
		want := fmt.Sprintf("val-%d", i)
		if string(v) != want {
			t.Fatalf("Get(%d): got %q, want %q", i, v, want)
		}
	}
	if tbl.Stats().SplitCount == 0 {
		t.Fatal("inserting 2000 keys should have forced at least one leaf split")
	}
	if tbl.Stats().KeyCount != n {
		t.Fatalf("KeyCount: got %d, want %d", tbl.Stats().KeyCount, n)
	}
}

func TestTableSharedPrefixCreatesLayer(t *testing.T) {
	tbl := NewTable()
	// Both keys share an 8-byte ikey window and diverge only in the
	// suffix, forcing the layer-creation path (spec.md section 4.7).
	a := []byte("AAAAAAAAshort")
	b := []byte("AAAAAAAAlonger-suffix")
	if _, err := tbl.Put(a, []byte("va")); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if _, err := tbl.Put(b, []byte("vb")); err != nil {
		t.Fatalf("Put b: %v", err)
	}
	va, ok, _ := tbl.Get(a)
	if !ok || string(va) != "va" {
		t.Fatalf("Get a: got %q ok=%v", va, ok)
	}
	vb, ok, _ := tbl.Get(b)
	if !ok || string(vb) != "vb" {
		t.Fatalf("Get b: got %q ok=%v", vb, ok)
	}
	if tbl.Stats().LayerCount == 0 {
		t.Fatal("a suffix collision on the same ikey window should create a nested layer")
	}
}

func TestTableMaxKeyLen(t *testing.T) {
	tbl := NewTable(WithMaxKeyLen(4))
	if _, err := tbl.Put([]byte("toolong"), []byte("v")); err != ErrKeyTooLong {
		t.Fatalf("Put over MaxKeyLen: got %v, want ErrKeyTooLong", err)
	}
	if _, err := tbl.Put([]byte("ok"), []byte("v")); err != nil {
		t.Fatalf("Put within MaxKeyLen: %v", err)
	}
}

func TestTableClosed(t *testing.T) {
	tbl := NewTable()
	tbl.Put([]byte("k"), []byte("v"))
	if err := tbl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, err := tbl.Get([]byte("k")); err != ErrClosed {
		t.Fatalf("Get after Close: got %v, want ErrClosed", err)
	}
	if _, err := tbl.Put([]byte("k2"), []byte("v2")); err != ErrClosed {
		t.Fatalf("Put after Close: got %v, want ErrClosed", err)
	}
}

func TestTableEmptyValue(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Put([]byte("k"), []byte{}); err != nil {
		t.Fatalf("Put empty value: %v", err)
	}
	v, ok, err := tbl.Get([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("Get empty value: ok=%v err=%v", ok, err)
	}
	if len(v) != 0 {
		t.Fatalf("Get empty value: got %q, want empty", v)
	}
}

func TestTableRemoveEmptiesLeavesAndUnlinksSiblings(t *testing.T) {
	tbl := NewTable()
	const n = 200
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("k%04d", i))
		if _, err := tbl.Put(k, k); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	if tbl.Stats().KeyCount != n {
		t.Fatalf("KeyCount after inserts: got %d, want %d", tbl.Stats().KeyCount, n)
	}

	// Remove everything except a handful of keys scattered across the
	// range, so several leaves end up entirely empty (forcing
	// tryUnlinkEmptyLeaf to actually unlink them) while the tree as a
	// whole must stay fully traversable.
	kept := map[int]bool{0: true, 1: true, 50: true, 51: true, 149: true, 150: true, n - 2: true, n - 1: true}
	for i := 0; i < n; i++ {
		if kept[i] {
			continue
		}
		k := []byte(fmt.Sprintf("k%04d", i))
		removed, err := tbl.Remove(k)
		if err != nil || !removed {
			t.Fatalf("Remove(%d): removed=%v err=%v", i, removed, err)
		}
	}
	if got, want := tbl.Stats().KeyCount, int64(len(kept)); got != want {
		t.Fatalf("KeyCount after removals: got %d, want %d", got, want)
	}

	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("k%04d", i))
		v, ok, err := tbl.Get(k)
		if kept[i] {
			if err != nil || !ok || string(v) != string(k) {
				t.Fatalf("Get(%d) kept key: v=%q ok=%v err=%v", i, v, ok, err)
			}
		} else if ok {
			t.Fatalf("Get(%d) removed key should report not found", i)
		}
	}

	var seen [][]byte
	if err := tbl.Scan(nil, true, func(k, v []byte) bool {
		seen = append(seen, append([]byte(nil), k...))
		return true
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(seen) != len(kept) {
		t.Fatalf("Scan visited %d keys, want %d", len(seen), len(kept))
	}
	for i := 1; i < len(seen); i++ {
		if bytes.Compare(seen[i-1], seen[i]) >= 0 {
			t.Fatalf("Scan order broken after unlinks: %q before %q", seen[i-1], seen[i])
		}
	}
}

func TestTableReclaimHonorsReclaimBatch(t *testing.T) {
	tbl := NewTable(WithReclaimBatch(2))
	for i := 0; i < 5; i++ {
		if _, err := tbl.Put([]byte("k"), []byte{byte(i)}); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	// The first Put has no predecessor to defer; the other four each defer
	// the value they overwrote.
	if got := tbl.epoch.PendingCount(); got != 4 {
		t.Fatalf("PendingCount before reclaim: got %d, want 4", got)
	}
	tbl.epoch.Advance()

	if n := tbl.Reclaim(); n != 2 {
		t.Fatalf("first Reclaim: got %d, want 2 (ReclaimBatch=2)", n)
	}
	if n := tbl.Reclaim(); n != 2 {
		t.Fatalf("second Reclaim: got %d, want 2 (ReclaimBatch=2)", n)
	}
	if tbl.epoch.PendingCount() != 0 {
		t.Fatalf("PendingCount after draining: got %d, want 0", tbl.epoch.PendingCount())
	}
}
