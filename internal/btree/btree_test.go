package btree

import (
	"encoding/binary"
	"fmt"
	"testing"
)

// countReducer and countCodec model a minimal Idx: the number of alive
// keys under a subtree. They exist only to exercise the generic tree
// algorithms without depending on pkg/roots's concrete index types.
type countReducer struct{}

func (countReducer) Reduce(raw []int) int {
	sum := 0
	for _, v := range raw {
		sum += v
	}
	return sum
}

func (countReducer) Rereduce(reduced []int) int {
	sum := 0
	for _, v := range reduced {
		sum += v
	}
	return sum
}

type countCodec struct{}

func (countCodec) EncodeIndex(v int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func (countCodec) DecodeIndex(b []byte) (int, error) {
	return int(binary.BigEndian.Uint64(b)), nil
}

// memStore is an in-memory Store[int] for testing the modify/scan/reduce
// algorithms without any chunk/file I/O.
type memStore struct {
	codec  IndexCodec[int]
	nodes  map[Pointer][]byte
	values map[Pointer][]byte
	next   uint64
}

func newMemStore() *memStore {
	return &memStore{codec: countCodec{}, nodes: map[Pointer][]byte{}, values: map[Pointer][]byte{}, next: 1}
}

func (m *memStore) alloc() Pointer {
	p := Pointer(m.next)
	m.next++
	return p
}

func (m *memStore) ReadNode(ptr Pointer) (*Node[int], error) {
	data, ok := m.nodes[ptr]
	if !ok {
		return nil, fmt.Errorf("no such node %d", ptr)
	}
	return DecodeNode[int](data, m.codec)
}

func (m *memStore) WriteNode(n *Node[int]) (Pointer, error) {
	p := m.alloc()
	m.nodes[p] = EncodeNode[int](n, m.codec)
	return p, nil
}

func (m *memStore) ReadValue(ptr Pointer) ([]byte, error) {
	v, ok := m.values[ptr]
	if !ok {
		return nil, fmt.Errorf("no such value %d", ptr)
	}
	return v, nil
}

func (m *memStore) WriteValue(data []byte) (Pointer, error) {
	p := m.alloc()
	cp := append([]byte(nil), data...)
	m.values[p] = cp
	return p, nil
}

func setApply(value []byte) ApplyFunc[int] {
	return func(key []byte, cur *int, curVal []byte) (ApplyResult[int], error) {
		return ApplyResult[int]{Kind: KeySet, Value: value, Index: 1}, nil
	}
}

func removeApply() ApplyFunc[int] {
	return func(key []byte, cur *int, curVal []byte) (ApplyResult[int], error) {
		if cur == nil {
			return ApplyResult[int]{Kind: KeySkip}, nil
		}
		return ApplyResult[int]{Kind: KeyRemove}, nil
	}
}

func key(n int) []byte {
	return []byte(fmt.Sprintf("key-%04d", n))
}

func TestModifyOneSetAndGet(t *testing.T) {
	store := newMemStore()
	var root Pointer
	root, changed, err := ModifyOne[int](store, root, countReducer{}, Order(0, 0), key(1), setApply([]byte("v1")))
	if err != nil {
		t.Fatalf("ModifyOne: %v", err)
	}
	if !changed {
		t.Fatalf("expected changed=true on insert")
	}

	_, v, found, err := Get[int](store, root, key(1))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || string(v) != "v1" {
		t.Fatalf("Get returned (%q, %v), want (v1, true)", v, found)
	}
}

func TestModifySplitsAndMergesCorrectly(t *testing.T) {
	store := newMemStore()
	var root Pointer
	const n = 400
	order := 4 // force frequent splitting regardless of dynamic order
	var err error
	var changed bool

	for i := 0; i < n; i++ {
		root, changed, err = ModifyOne[int](store, root, countReducer{}, order, key(i), setApply([]byte(fmt.Sprintf("val-%d", i))))
		if err != nil {
			t.Fatalf("ModifyOne(set %d): %v", i, err)
		}
		if !changed {
			t.Fatalf("expected changed=true inserting key %d", i)
		}
	}

	for i := 0; i < n; i++ {
		_, v, found, err := Get[int](store, root, key(i))
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if !found || string(v) != fmt.Sprintf("val-%d", i) {
			t.Fatalf("Get(%d) = (%q, %v), want val-%d", i, v, found, i)
		}
	}

	// Remove every other key and confirm the tree rebalances without losing
	// the survivors.
	for i := 0; i < n; i += 2 {
		root, changed, err = ModifyOne[int](store, root, countReducer{}, order, key(i), removeApply())
		if err != nil {
			t.Fatalf("ModifyOne(remove %d): %v", i, err)
		}
		if !changed {
			t.Fatalf("expected changed=true removing key %d", i)
		}
	}

	for i := 0; i < n; i++ {
		_, _, found, err := Get[int](store, root, key(i))
		if err != nil {
			t.Fatalf("Get(%d) after removal pass: %v", i, err)
		}
		wantFound := i%2 == 1
		if found != wantFound {
			t.Fatalf("Get(%d) found=%v, want %v", i, found, wantFound)
		}
	}

	idx, err := Reduce[int](store, root, KeyRange{}, countReducer{})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if idx != n/2 {
		t.Fatalf("Reduce aggregate = %d, want %d", idx, n/2)
	}
}

func TestModifyRemoveAllEmptiesTree(t *testing.T) {
	store := newMemStore()
	var root Pointer
	const n = 50
	var err error
	for i := 0; i < n; i++ {
		root, _, err = ModifyOne[int](store, root, countReducer{}, 4, key(i), setApply([]byte("v")))
		if err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		root, _, err = ModifyOne[int](store, root, countReducer{}, 4, key(i), removeApply())
		if err != nil {
			t.Fatalf("remove %d: %v", i, err)
		}
	}
	if !root.IsZero() {
		t.Fatalf("root = %d after removing every key, want zero", root)
	}
}

func TestModifySkipAllLeavesRootUnchanged(t *testing.T) {
	store := newMemStore()
	root, _, err := ModifyOne[int](store, Pointer(0), countReducer{}, 4, key(1), setApply([]byte("v1")))
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	skip := func(key []byte, cur *int, curVal []byte) (ApplyResult[int], error) {
		return ApplyResult[int]{Kind: KeySkip}, nil
	}
	newRoot, changed, err := ModifyOne[int](store, root, countReducer{}, 4, key(1), skip)
	if err != nil {
		t.Fatalf("skip modify: %v", err)
	}
	if changed {
		t.Fatalf("expected changed=false for an all-Skip modification")
	}
	if newRoot != root {
		t.Fatalf("root changed on a no-op Skip modification: %d != %d", newRoot, root)
	}
}

func TestScanRespectsRange(t *testing.T) {
	store := newMemStore()
	var root Pointer
	const n = 100
	var err error
	for i := 0; i < n; i++ {
		root, _, err = ModifyOne[int](store, root, countReducer{}, 4, key(i), setApply([]byte("v")))
		if err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}

	var got [][]byte
	err = Scan[int](store, root, true, KeyRange{Start: key(10), End: key(19)}, nil, nil, func(k []byte, idx int, v []byte) (bool, error) {
		got = append(got, append([]byte(nil), k...))
		return true, nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("Scan returned %d entries, want 10", len(got))
	}
	for i, k := range got {
		if string(k) != string(key(10+i)) {
			t.Fatalf("Scan[%d] = %q, want %q", i, k, key(10+i))
		}
	}
}

func TestScanReverseRespectsRange(t *testing.T) {
	store := newMemStore()
	var root Pointer
	const n = 100
	var err error
	for i := 0; i < n; i++ {
		root, _, err = ModifyOne[int](store, root, countReducer{}, 4, key(i), setApply([]byte("v")))
		if err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}

	var got [][]byte
	err = Scan[int](store, root, false, KeyRange{Start: key(10), End: key(19)}, nil, nil, func(k []byte, idx int, v []byte) (bool, error) {
		got = append(got, append([]byte(nil), k...))
		return true, nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("Scan returned %d entries, want 10", len(got))
	}
	for i, k := range got {
		if string(k) != string(key(19-i)) {
			t.Fatalf("Scan[%d] = %q, want %q", i, k, key(19-i))
		}
	}
}

func TestScanKeyEvaluatorSkipsValueLoad(t *testing.T) {
	store := newMemStore()
	var root Pointer
	const n = 20
	var err error
	for i := 0; i < n; i++ {
		root, _, err = ModifyOne[int](store, root, countReducer{}, 4, key(i), setApply([]byte("v")))
		if err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}

	var loaded, skipped int
	keyEvaluator := func(k []byte, idx int) ScanEvaluation {
		if string(k) == string(key(5)) {
			return Skip
		}
		return ReadData
	}
	err = Scan[int](store, root, true, KeyRange{}, nil, keyEvaluator, func(k []byte, idx int, v []byte) (bool, error) {
		if v == nil {
			t.Fatalf("visit called with no value for %q", k)
		}
		loaded++
		return true, nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	skipped = n - loaded
	if loaded != n-1 || skipped != 1 {
		t.Fatalf("loaded=%d skipped=%d, want loaded=%d skipped=1", loaded, skipped, n-1)
	}
}

func TestScanNodeFilterStopHaltsWholeScan(t *testing.T) {
	store := newMemStore()
	var root Pointer
	const n = 400
	order := 4
	var err error
	for i := 0; i < n; i++ {
		root, _, err = ModifyOne[int](store, root, countReducer{}, order, key(i), setApply([]byte("v")))
		if err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}

	var visited int
	nodeFilter := func(idx int, maxKey []byte) ScanEvaluation {
		if visited > 0 {
			return Stop
		}
		return ReadData
	}
	err = Scan[int](store, root, true, KeyRange{}, nodeFilter, nil, func(k []byte, idx int, v []byte) (bool, error) {
		visited++
		return true, nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if visited == 0 || visited == n {
		t.Fatalf("visited = %d, want a partial scan halted by Stop", visited)
	}
}

func TestFirstAndLast(t *testing.T) {
	store := newMemStore()
	var root Pointer
	const n = 30
	var err error
	for i := 0; i < n; i++ {
		root, _, err = ModifyOne[int](store, root, countReducer{}, 4, key(i), setApply([]byte("v")))
		if err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}
	fk, _, _, found, err := First[int](store, root)
	if err != nil || !found || string(fk) != string(key(0)) {
		t.Fatalf("First = (%q, %v, %v), want (%q, true, nil)", fk, found, err, key(0))
	}
	lk, _, _, found, err := Last[int](store, root)
	if err != nil || !found || string(lk) != string(key(n-1)) {
		t.Fatalf("Last = (%q, %v, %v), want (%q, true, nil)", lk, found, err, key(n-1))
	}
}
