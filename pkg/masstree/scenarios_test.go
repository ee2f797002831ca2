package masstree

import (
	"fmt"
	"math/rand"
	"testing"
)

// TestScenarioS1MixedLengthOrdering reproduces spec.md's S1: literal keys of
// varying length, inserted in randomized order, must scan back in strict
// lexicographic order; a scan from "a" must see every key from the first
// a-prefixed one onward, and a one-key scan from a start just below the
// 26-byte key must return exactly that key.
func TestScenarioS1MixedLengthOrdering(t *testing.T) {
	keys := []string{
		"",
		"0",
		"1",
		"10",
		"100000000",
		"1000000001",
		"aaaaaaaaaaaaaaaaaaaaaaaaaa",
		"aaaaaaaaaaaaaaabbbb",
		"aaaaaaaaaaaaaaabbbc",
		"xxxxxxxxy",
	}
	order := []string{
		"",
		"0",
		"1",
		"10",
		"100000000",
		"1000000001",
		"aaaaaaaaaaaaaaaaaaaaaaaaaa",
		"aaaaaaaaaaaaaaabbbb",
		"aaaaaaaaaaaaaaabbbc",
		"xxxxxxxxy",
	}

	rnd := rand.New(rand.NewSource(1))
	shuffled := append([]string(nil), keys...)
	rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	tbl := NewTable()
	for _, k := range shuffled {
		if _, err := tbl.Put([]byte(k), []byte(k)); err != nil {
			t.Fatalf("Put(%q): %v", k, err)
		}
	}

	var all []string
	if err := tbl.Scan(nil, true, func(k, v []byte) bool {
		all = append(all, string(k))
		return true
	}); err != nil {
		t.Fatalf("Scan from start: %v", err)
	}
	if len(all) != len(order) {
		t.Fatalf("Scan from start: got %v, want %v", all, order)
	}
	for i := range order {
		if all[i] != order[i] {
			t.Fatalf("Scan from start[%d]: got %q, want %q (%v)", i, all[i], order[i], all)
		}
	}

	var fromA []string
	if err := tbl.Scan([]byte("a"), true, func(k, v []byte) bool {
		fromA = append(fromA, string(k))
		return true
	}); err != nil {
		t.Fatalf("Scan from a: %v", err)
	}
	wantFromA := []string{
		"aaaaaaaaaaaaaaaaaaaaaaaaaa",
		"aaaaaaaaaaaaaaabbbb",
		"aaaaaaaaaaaaaaabbbc",
		"xxxxxxxxy",
	}
	if len(fromA) != len(wantFromA) {
		t.Fatalf("Scan from a: got %v, want %v", fromA, wantFromA)
	}
	for i := range wantFromA {
		if fromA[i] != wantFromA[i] {
			t.Fatalf("Scan from a[%d]: got %q, want %q (%v)", i, fromA[i], wantFromA[i], fromA)
		}
	}

	var boundary []string
	if err := tbl.Scan([]byte("aaaaaaaaaaaaaaaaaaaaaaaaaZ"), true, func(k, v []byte) bool {
		boundary = append(boundary, string(k))
		return false // a window of one key
	}); err != nil {
		t.Fatalf("Scan from boundary: %v", err)
	}
	if len(boundary) != 1 || boundary[0] != "aaaaaaaaaaaaaaaaaaaaaaaaaa" {
		t.Fatalf("Scan from boundary: got %v, want [aaaaaaaaaaaaaaaaaaaaaaaaaa]", boundary)
	}
}

// TestScenarioS2WindowedScan reproduces spec.md's S2: a contiguous run of
// zero-padded integer keys k100..k199 is scanned from every ki, i in
// 90..209, with a window covering the ten key values i..i+9; each scan must
// return exactly the window's keys that exist, k(max(i,100))..k(min(i+9,199)),
// or nothing when the window lies wholly outside the stored run.
func TestScenarioS2WindowedScan(t *testing.T) {
	tbl := NewTable()
	for i := 100; i < 200; i++ {
		k := fmt.Sprintf("k%03d", i)
		v := fmt.Sprintf("v%03d", i)
		if _, err := tbl.Put([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}

	for i := 90; i < 210; i++ {
		start := i
		if start < 100 {
			start = 100
		}
		end := i + 9
		if end > 199 {
			end = 199
		}

		var got []string
		limit := fmt.Sprintf("k%03d", i+9)
		err := tbl.Scan([]byte(fmt.Sprintf("k%03d", i)), true, func(k, v []byte) bool {
			if string(k) > limit {
				return false
			}
			got = append(got, string(k))
			return true
		})
		if err != nil {
			t.Fatalf("Scan from %d: %v", i, err)
		}
		if len(got) == 0 {
			if start <= end {
				t.Fatalf("Scan from %d: got nothing, want keys %03d..%03d", i, start, end)
			}
			continue
		}
		if got[0] != fmt.Sprintf("k%03d", start) {
			t.Fatalf("Scan from %d: first key got %q, want k%03d", i, got[0], start)
		}
		if last := got[len(got)-1]; last != fmt.Sprintf("k%03d", end) {
			t.Fatalf("Scan from %d: last key got %q, want k%03d", i, last, end)
		}
	}
}

// TestScenarioS5LayerCoexistence reproduces spec.md's S5: two keys that
// collide on their first 8-byte ikey window force a nested layer; a third
// key exactly 8 bytes long must coexist in the outer slot that previously
// held the suffix-bearing entries, and removing it must not disturb the
// nested layer.
func TestScenarioS5LayerCoexistence(t *testing.T) {
	tbl := NewTable()
	a := []byte("01234567AAAAAAAA")
	b := []byte("01234567BBBBBBBB")
	c := []byte("01234567")

	if _, err := tbl.Put(a, []byte("va")); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if _, err := tbl.Put(b, []byte("vb")); err != nil {
		t.Fatalf("Put b: %v", err)
	}
	if tbl.Stats().LayerCount == 0 {
		t.Fatal("colliding 8-byte windows should have created a nested layer")
	}
	if _, err := tbl.Put(c, []byte("vc")); err != nil {
		t.Fatalf("Put c: %v", err)
	}

	for _, tc := range []struct {
		key, want string
	}{{string(a), "va"}, {string(b), "vb"}, {string(c), "vc"}} {
		v, ok, err := tbl.Get([]byte(tc.key))
		if err != nil || !ok || string(v) != tc.want {
			t.Fatalf("Get(%q): v=%q ok=%v err=%v, want %q", tc.key, v, ok, err, tc.want)
		}
	}

	removed, err := tbl.Remove(c)
	if err != nil || !removed {
		t.Fatalf("Remove c: removed=%v err=%v", removed, err)
	}
	_, ok, _ := tbl.Get(c)
	if ok {
		t.Fatal("Get(c) after Remove should report not found")
	}
	va, ok, _ := tbl.Get(a)
	if !ok || string(va) != "va" {
		t.Fatal("removing c disturbed the nested layer's entry for a")
	}
	vb, ok, _ := tbl.Get(b)
	if !ok || string(vb) != "vb" {
		t.Fatal("removing c disturbed the nested layer's entry for b")
	}
}

// TestScenarioS6LargeDecreasingKeyRoundTrip approximates spec.md's S6 at a
// scale suited to a unit test rather than S6's literal N=1,000,000: every
// inserted key, drawn from a decreasing integer sequence, must read back
// correctly, KeyCount must equal N, and a Reclaim sweep after the pass must
// complete.
func TestScenarioS6LargeDecreasingKeyRoundTrip(t *testing.T) {
	const n = 20000
	tbl := NewTable()
	for i := n; i > 0; i-- {
		k := []byte(fmt.Sprintf("%08d", i))
		if _, err := tbl.Put(k, k); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	for i := n; i > 0; i-- {
		k := []byte(fmt.Sprintf("%08d", i))
		v, ok, err := tbl.Get(k)
		if err != nil || !ok || string(v) != string(k) {
			t.Fatalf("Get(%d): v=%q ok=%v err=%v", i, v, ok, err)
		}
	}
	if tbl.Stats().KeyCount != n {
		t.Fatalf("KeyCount: got %d, want %d", tbl.Stats().KeyCount, n)
	}
	tbl.Reclaim()
}
