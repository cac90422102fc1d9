package btree

import "bytes"

// Get descends from root looking for key, returning its index, value bytes,
// and whether it was found.
func Get[Idx any](store Store[Idx], root Pointer, key []byte) (idx Idx, value []byte, found bool, err error) {
	ptr := root
	for !ptr.IsZero() {
		node, err := store.ReadNode(ptr)
		if err != nil {
			return idx, nil, false, err
		}
		if node.Leaf {
			i, ok := findEntryIndex(node.Entries, key)
			if !ok {
				return idx, nil, false, nil
			}
			e := node.Entries[i]
			if e.Value.IsZero() {
				return e.Index, nil, true, nil
			}
			v, err := store.ReadValue(e.Value)
			if err != nil {
				return idx, nil, false, err
			}
			return e.Index, v, true, nil
		}
		ci := findChildIndex(node.Children, key)
		ptr = node.Children[ci].Child
	}
	return idx, nil, false, nil
}

// GetEntry returns the raw leaf entry for key, value pointer included but
// not dereferenced, or found=false if key is absent. Lets a caller that
// already knows where a value chunk lives (e.g. mirroring a by-id write
// into a secondary index) avoid paying for a second value read.
func GetEntry[Idx any](store Store[Idx], root Pointer, key []byte) (entry KeyEntry[Idx], found bool, err error) {
	ptr := root
	for !ptr.IsZero() {
		node, err := store.ReadNode(ptr)
		if err != nil {
			return KeyEntry[Idx]{}, false, err
		}
		if node.Leaf {
			i, ok := findEntryIndex(node.Entries, key)
			if !ok {
				return KeyEntry[Idx]{}, false, nil
			}
			return node.Entries[i], true, nil
		}
		ci := findChildIndex(node.Children, key)
		ptr = node.Children[ci].Child
	}
	return KeyEntry[Idx]{}, false, nil
}

// ScanEvaluation is the three-way outcome a NodeFilter or KeyEvaluator
// returns to steer a Scan or GetMultiple (spec §4.5/§4.6's node_evaluator/
// key_evaluator protocol): ReadData descends into a subtree or loads an
// entry's value, Skip bypasses it without halting the walk, and Stop halts
// the whole operation immediately. Skip and Stop stay distinct rather than
// folding into one bool, since "prune this subtree but keep scanning its
// siblings" and "abort the whole walk" are different outcomes.
type ScanEvaluation int

const (
	ReadData ScanEvaluation = iota
	Skip
	Stop
)

// NodeFilter lets a scan gate whole subtrees using their reduced index
// before reading them, e.g. "only alive keys" on a ByIdStats reduction
// (spec §4.6's node_evaluator). Skip prunes the subtree and continues with
// its siblings; Stop halts the entire scan.
type NodeFilter[Idx any] func(idx Idx, maxKey []byte) ScanEvaluation

// KeyEvaluator lets a scan or GetMultiple decide, from a leaf entry's
// reduced index alone, whether its value is worth loading (spec §4.5's
// key_evaluator) without committing to visiting every matching key. Skip
// continues the walk past this entry without loading its value or calling
// the data callback; Stop halts the whole operation.
type KeyEvaluator[Idx any] func(key []byte, idx Idx) ScanEvaluation

// EntryVisitor is called for each leaf entry a Scan's KeyEvaluator (or the
// default always-ReadData behaviour) admitted, value already loaded.
// Returning false stops the scan early, same as a Stop from either
// evaluator.
type EntryVisitor[Idx any] func(key []byte, idx Idx, value []byte) (bool, error)

// GetMultiple looks up keys (need not be sorted) against root, calling
// visit for every key found, in ascending key order. Each key is looked up
// with its own GetEntry descent from the root; the lookups are not batched
// into a single pass over the tree. keyEvaluator,
// if non-nil, is consulted before a found key's value is loaded — Skip
// lets a caller that only wants the index (e.g. a liveness check) avoid
// the extra value-chunk read; nil means "always load", matching a plain
// batch Get.
func GetMultiple[Idx any](store Store[Idx], root Pointer, keys [][]byte, keyEvaluator KeyEvaluator[Idx], visit func(key []byte, idx Idx, value []byte) error) error {
	sorted := append([][]byte(nil), keys...)
	sortBytes(sorted)
	for _, k := range sorted {
		entry, found, err := GetEntry(store, root, k)
		if err != nil {
			return err
		}
		if !found {
			continue
		}

		eval := ReadData
		if keyEvaluator != nil {
			eval = keyEvaluator(k, entry.Index)
		}
		switch eval {
		case Stop:
			return nil
		case Skip:
			continue
		}

		var value []byte
		if !entry.Value.IsZero() {
			value, err = store.ReadValue(entry.Value)
			if err != nil {
				return err
			}
		}
		if err := visit(k, entry.Index, value); err != nil {
			return err
		}
	}
	return nil
}

func sortBytes(keys [][]byte) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && bytes.Compare(keys[j-1], keys[j]) > 0; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
}

// First returns the lowest key in the tree rooted at root.
func First[Idx any](store Store[Idx], root Pointer) (key []byte, idx Idx, value []byte, found bool, err error) {
	return edge(store, root, false)
}

// Last returns the highest key in the tree rooted at root.
func Last[Idx any](store Store[Idx], root Pointer) (key []byte, idx Idx, value []byte, found bool, err error) {
	return edge(store, root, true)
}

func edge[Idx any](store Store[Idx], root Pointer, last bool) (key []byte, idx Idx, value []byte, found bool, err error) {
	ptr := root
	for !ptr.IsZero() {
		node, err := store.ReadNode(ptr)
		if err != nil {
			return nil, idx, nil, false, err
		}
		if node.Leaf {
			if len(node.Entries) == 0 {
				return nil, idx, nil, false, nil
			}
			i := 0
			if last {
				i = len(node.Entries) - 1
			}
			e := node.Entries[i]
			var v []byte
			if !e.Value.IsZero() {
				v, err = store.ReadValue(e.Value)
				if err != nil {
					return nil, idx, nil, false, err
				}
			}
			return e.Key, e.Index, v, true, nil
		}
		if len(node.Children) == 0 {
			return nil, idx, nil, false, nil
		}
		i := 0
		if last {
			i = len(node.Children) - 1
		}
		ptr = node.Children[i].Child
	}
	return nil, idx, nil, false, nil
}

// KeyRange bounds a Scan: nil Start/End means unbounded on that side.
type KeyRange struct {
	Start, End []byte
}

func (r KeyRange) contains(key []byte) bool {
	if r.Start != nil && bytes.Compare(key, r.Start) < 0 {
		return false
	}
	if r.End != nil && bytes.Compare(key, r.End) > 0 {
		return false
	}
	return true
}

// overlaps reports whether a node subtree bounded above by maxKey could
// hold any key in r, used to prune whole subtrees during Scan without
// visiting them (spec §4.6).
func (r KeyRange) overlaps(minKeyOfNextSibling []byte, maxKey []byte) bool {
	if r.Start != nil && maxKey != nil && bytes.Compare(maxKey, r.Start) < 0 {
		return false
	}
	return true
}

// aboveEnd reports whether a subtree whose keys are all greater than
// lowerBound (a preceding sibling's MaxKey, or nil if there is none) lies
// entirely above r.End, letting a reverse scan skip it without visiting.
func (r KeyRange) aboveEnd(lowerBound []byte) bool {
	return r.End != nil && lowerBound != nil && bytes.Compare(lowerBound, r.End) > 0
}

// Scan walks the tree rooted at root restricted to r, in ascending key
// order if forwards is true or descending order otherwise (spec §4.5's
// forwards flag; spec.md §2 budgets "in-order / reverse-order traversal"
// for this driver). nodeFilter (if non-nil) gates whether a subtree is
// descended into at all; keyEvaluator (if non-nil) gates whether a
// matching leaf entry's value is loaded and visit called for it. Both
// default to ReadData when nil. The scan stops as soon as visit returns
// false, a filter/evaluator returns Stop, or the range is exhausted.
func Scan[Idx any](store Store[Idx], root Pointer, forwards bool, r KeyRange, nodeFilter NodeFilter[Idx], keyEvaluator KeyEvaluator[Idx], visit EntryVisitor[Idx]) error {
	if root.IsZero() {
		return nil
	}
	_, err := scanNode(store, root, forwards, r, nodeFilter, keyEvaluator, visit)
	return err
}

func scanNode[Idx any](store Store[Idx], ptr Pointer, forwards bool, r KeyRange, nodeFilter NodeFilter[Idx], keyEvaluator KeyEvaluator[Idx], visit EntryVisitor[Idx]) (bool, error) {
	node, err := store.ReadNode(ptr)
	if err != nil {
		return false, err
	}
	if node.Leaf {
		return scanLeaf(store, node, forwards, r, keyEvaluator, visit)
	}
	return scanChildren(store, node, forwards, r, nodeFilter, keyEvaluator, visit)
}

func scanLeaf[Idx any](store Store[Idx], node *Node[Idx], forwards bool, r KeyRange, keyEvaluator KeyEvaluator[Idx], visit EntryVisitor[Idx]) (bool, error) {
	n := len(node.Entries)
	for i := 0; i < n; i++ {
		e := node.Entries[pos(i, n, forwards)]
		if !r.contains(e.Key) {
			if outOfRange(e.Key, r, forwards) {
				return false, nil
			}
			continue
		}

		eval := ReadData
		if keyEvaluator != nil {
			eval = keyEvaluator(e.Key, e.Index)
		}
		switch eval {
		case Stop:
			return false, nil
		case Skip:
			continue
		}

		var v []byte
		if !e.Value.IsZero() {
			var err error
			v, err = store.ReadValue(e.Value)
			if err != nil {
				return false, err
			}
		}
		cont, err := visit(e.Key, e.Index, v)
		if err != nil || !cont {
			return false, err
		}
	}
	return true, nil
}

func scanChildren[Idx any](store Store[Idx], node *Node[Idx], forwards bool, r KeyRange, nodeFilter NodeFilter[Idx], keyEvaluator KeyEvaluator[Idx], visit EntryVisitor[Idx]) (bool, error) {
	n := len(node.Children)
	for i := 0; i < n; i++ {
		ci := pos(i, n, forwards)
		c := node.Children[ci]
		lowerBound := childLowerBound(node, ci)

		if !r.overlaps(nil, c.MaxKey) {
			if !forwards {
				// Every remaining (smaller) child is also below r.Start.
				return true, nil
			}
			continue
		}
		if !forwards && r.aboveEnd(lowerBound) {
			continue
		}

		if nodeFilter != nil {
			switch nodeFilter(c.Index, c.MaxKey) {
			case Stop:
				return false, nil
			case Skip:
				continue
			}
		}

		cont, err := scanNode(store, c.Child, forwards, r, nodeFilter, keyEvaluator, visit)
		if err != nil || !cont {
			return false, err
		}

		if forwards {
			if r.End != nil && bytes.Compare(c.MaxKey, r.End) > 0 {
				return false, nil
			}
		} else if r.Start != nil && lowerBound != nil && bytes.Compare(lowerBound, r.Start) < 0 {
			return false, nil
		}
	}
	return true, nil
}

// childLowerBound returns the preceding sibling's MaxKey, an exclusive
// lower bound on ci's keys, or nil if ci is the first child.
func childLowerBound[Idx any](node *Node[Idx], ci int) []byte {
	if ci == 0 {
		return nil
	}
	return node.Children[ci-1].MaxKey
}

// pos maps a 0-based scan step to the entries/children slice index to
// visit: ascending when forwards, descending otherwise.
func pos(i, n int, forwards bool) int {
	if forwards {
		return i
	}
	return n - 1 - i
}

func outOfRange(key []byte, r KeyRange, forwards bool) bool {
	if forwards {
		return r.End != nil && bytes.Compare(key, r.End) > 0
	}
	return r.Start != nil && bytes.Compare(key, r.Start) < 0
}

// Reduce folds the entries of root that fall in r into a single aggregate.
// For an unbounded range it rereduces the stored Idx of each top-level
// child without descending further. For a bounded range it recurses into
// every child whose MaxKey is not below r.Start, down to the leaves, and
// reduces only the leaf entries r contains (End inclusive).
func Reduce[Idx any](store Store[Idx], root Pointer, r KeyRange, reducer Reducer[Idx]) (Idx, error) {
	var zero Idx
	if root.IsZero() {
		return zero, nil
	}
	node, err := store.ReadNode(root)
	if err != nil {
		return zero, err
	}
	if node.Leaf {
		var raw []Idx
		for _, e := range node.Entries {
			if r.contains(e.Key) {
				raw = append(raw, e.Index)
			}
		}
		return reducer.Reduce(raw), nil
	}
	var reduced []Idx
	for _, c := range node.Children {
		if !r.overlaps(nil, c.MaxKey) {
			continue
		}
		if r.Start == nil && r.End == nil {
			reduced = append(reduced, c.Index)
			continue
		}
		sub, err := Reduce(store, c.Child, r, reducer)
		if err != nil {
			return zero, err
		}
		reduced = append(reduced, sub)
	}
	return reducer.Rereduce(reduced), nil
}
